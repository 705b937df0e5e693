package discord

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/approval"
)

// HandleInteraction dispatches one gateway interaction.
func (b *Bot) HandleInteraction(ctx context.Context, i *discordgo.Interaction) {
	if i == nil {
		return
	}
	switch i.Type {
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, i)
	case discordgo.InteractionModalSubmit:
		b.handleModal(ctx, i)
	case discordgo.InteractionApplicationCommand:
		b.handleCommand(ctx, i)
	default:
		b.logger.Debug("ignoring interaction", zap.Stringer("type", i.Type))
	}
}

func (b *Bot) handleComponent(ctx context.Context, i *discordgo.Interaction) {
	data := i.MessageComponentData()
	action, decisionID, ok := parseDecisionCustomID(data.CustomID)
	if !ok {
		b.logger.Debug("ignoring component", zap.String("custom_id", data.CustomID))
		return
	}

	delivered := b.hub.Deliver(approval.Event{
		Action:      action,
		DecisionID:  decisionID,
		ActorID:     actorID(i),
		Interaction: b.newInteraction(i),
	})
	if delivered {
		return
	}

	b.logger.Info("stale decision control",
		zap.String("decision", decisionID),
		zap.String("actor", actorID(i)),
	)
	b.reply(ctx, i, b.staleDecisionMessage(ctx, decisionID))
}

func (b *Bot) staleDecisionMessage(ctx context.Context, decisionID string) approval.Message {
	rec, err := b.workflow.Lookup(ctx, decisionID)
	if err != nil && !errors.Is(err, approval.ErrUnknownDecision) {
		b.logger.Warn("failed to look up decision", zap.String("decision", decisionID), zap.Error(err))
	}
	if err == nil && rec.State == approval.StateExpired {
		return approval.Message{
			Title:       "Expired",
			Description: "Nobody reviewed this submission in time. It has to be submitted again.",
			Tone:        approval.ToneWarning,
		}
	}
	return approval.Message{
		Title:       "Already handled",
		Description: "This submission was already handled or is no longer pending.",
		Tone:        approval.ToneWarning,
	}
}

func (b *Bot) handleModal(ctx context.Context, i *discordgo.Interaction) {
	data := i.ModalSubmitData()
	values := modalValues(data)

	if token, ok := strings.CutPrefix(data.CustomID, reasonPrefix); ok {
		answered := b.prompts.answer(token, promptAnswer{
			value:       values[reasonInputID],
			interaction: i,
		})
		if !answered {
			b.reply(ctx, i, approval.Message{
				Title:       "Prompt closed",
				Description: "This rejection prompt is no longer open.",
				Tone:        approval.ToneWarning,
			})
		}
		return
	}

	switch data.CustomID {
	case submitUserModal:
		b.handleSubmission(ctx, i, approval.KindUser, values)
	case submitAdModal:
		b.handleSubmission(ctx, i, approval.KindAd, values)
	default:
		b.logger.Debug("ignoring modal", zap.String("custom_id", data.CustomID))
	}
}

func (b *Bot) handleCommand(ctx context.Context, i *discordgo.Interaction) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case cmdSetChannel:
		b.setNotificationChannel(ctx, i, data)
	case cmdGetChannel:
		b.getNotificationChannel(ctx, i)
	case cmdSubmitUser:
		b.openSubmitUser(ctx, i)
	case cmdSubmitAd:
		b.openSubmitAd(ctx, i)
	case cmdVerifyUser:
		b.staffAction(ctx, i, data, approval.KindUser, true)
	case cmdVerifyAd:
		b.staffAction(ctx, i, data, approval.KindAd, true)
	case cmdRemoveUser:
		b.staffAction(ctx, i, data, approval.KindUser, false)
	case cmdRemoveAd:
		b.staffAction(ctx, i, data, approval.KindAd, false)
	case cmdMe:
		b.showProfile(ctx, i, data, true)
	case cmdGetUser:
		b.showProfile(ctx, i, data, false)
	default:
		b.reply(ctx, i, approval.Message{
			Title:       "Unknown command",
			Description: "`/" + data.Name + "` is not handled by this bot.",
			Tone:        approval.ToneWarning,
		})
	}
}

// reply answers i with a single ephemeral message and logs failures.
func (b *Bot) reply(ctx context.Context, i *discordgo.Interaction, msg approval.Message) {
	if err := b.newInteraction(i).Respond(ctx, msg); err != nil {
		b.logger.Warn("failed to respond to interaction", zap.Error(err))
	}
}
