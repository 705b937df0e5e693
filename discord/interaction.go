package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"

	"github.com/go-authgate/ringbot/approval"
)

const (
	approvalPrefix = "approval"
	reasonPrefix   = "approval:reason:"
	reasonInputID  = "reason"
)

func decisionCustomID(a approval.Action, decisionID string) string {
	return approvalPrefix + ":" + a.String() + ":" + decisionID
}

// parseDecisionCustomID splits "approval:<action>:<decision>".
func parseDecisionCustomID(customID string) (approval.Action, string, bool) {
	parts := strings.SplitN(customID, ":", 3)
	if len(parts) != 3 || parts[0] != approvalPrefix || parts[2] == "" {
		return approval.ActionOther, "", false
	}
	switch parts[1] {
	case approval.ActionApprove.String():
		return approval.ActionApprove, parts[2], true
	case approval.ActionReject.String():
		return approval.ActionReject, parts[2], true
	default:
		return approval.ActionOther, parts[2], true
	}
}

// interaction answers one Discord interaction. After a reason prompt the
// modal submission replaces the original interaction, since a modal uses up
// the initial response of the click that opened it.
type interaction struct {
	bot *Bot

	mu        sync.Mutex
	i         *discordgo.Interaction
	responded bool
}

var _ approval.Interaction = (*interaction)(nil)

func (b *Bot) newInteraction(i *discordgo.Interaction) *interaction {
	return &interaction{bot: b, i: i}
}

// Respond sends an ephemeral reply: the initial response the first time,
// a followup afterwards.
func (r *interaction) Respond(ctx context.Context, msg approval.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	embeds := []*discordgo.MessageEmbed{toEmbed(msg)}
	if !r.responded {
		r.responded = true
		return r.bot.session.InteractionRespond(r.i, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: embeds,
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		}, discordgo.WithContext(ctx))
	}

	_, err := r.bot.session.FollowupMessageCreate(r.i, true, &discordgo.WebhookParams{
		Embeds: embeds,
		Flags:  discordgo.MessageFlagsEphemeral,
	}, discordgo.WithContext(ctx))
	return err
}

// PromptReason opens a modal asking for a rejection reason and waits for it.
func (r *interaction) PromptReason(ctx context.Context) (string, error) {
	r.mu.Lock()
	if r.responded {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: interaction already answered", approval.ErrPromptAbandoned)
	}

	token := uuid.NewString()
	answers := r.bot.prompts.register(token)
	defer r.bot.prompts.cancel(token)

	err := r.bot.session.InteractionRespond(r.i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: reasonPrefix + token,
			Title:    "Reject submission",
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:  reasonInputID,
							Label:     "Reason",
							Style:     discordgo.TextInputParagraph,
							Required:  true,
							MaxLength: 500,
						},
					},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	r.responded = true
	r.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("%w: %v", approval.ErrPromptAbandoned, err)
	}

	timer := time.NewTimer(r.bot.reasonTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", fmt.Errorf("%w: no reason within %s", approval.ErrPromptAbandoned, r.bot.reasonTimeout)
	case a := <-answers:
		r.mu.Lock()
		r.i = a.interaction
		r.responded = false
		r.mu.Unlock()

		if strings.TrimSpace(a.value) == "" {
			return "", fmt.Errorf("%w: empty reason", approval.ErrPromptAbandoned)
		}
		return a.value, nil
	}
}

type promptAnswer struct {
	value       string
	interaction *discordgo.Interaction
}

// promptRegistry matches modal submissions to the prompt that opened them.
type promptRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan promptAnswer
}

func newPromptRegistry() *promptRegistry {
	return &promptRegistry{waiters: make(map[string]chan promptAnswer)}
}

func (p *promptRegistry) register(token string) <-chan promptAnswer {
	ch := make(chan promptAnswer, 1)
	p.mu.Lock()
	p.waiters[token] = ch
	p.mu.Unlock()
	return ch
}

func (p *promptRegistry) cancel(token string) {
	p.mu.Lock()
	delete(p.waiters, token)
	p.mu.Unlock()
}

func (p *promptRegistry) answer(token string, a promptAnswer) bool {
	p.mu.Lock()
	ch, ok := p.waiters[token]
	delete(p.waiters, token)
	p.mu.Unlock()
	if ok {
		ch <- a
	}
	return ok
}

// modalValues returns the text inputs of a modal submission by custom id.
func modalValues(data discordgo.ModalSubmitInteractionData) map[string]string {
	values := make(map[string]string)
	for _, c := range data.Components {
		var row discordgo.ActionsRow
		switch v := c.(type) {
		case *discordgo.ActionsRow:
			row = *v
		case discordgo.ActionsRow:
			row = v
		default:
			continue
		}
		for _, inner := range row.Components {
			switch t := inner.(type) {
			case *discordgo.TextInput:
				values[t.CustomID] = t.Value
			case discordgo.TextInput:
				values[t.CustomID] = t.Value
			}
		}
	}
	return values
}

func actorID(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func actorName(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.Username
	}
	if i.User != nil {
		return i.User.Username
	}
	return "unknown"
}
