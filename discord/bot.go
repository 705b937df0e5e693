// Package discord adapts the approval workflow and the bot commands to a
// Discord session.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/apiclient"
	"github.com/go-authgate/ringbot/approval"
	"github.com/go-authgate/ringbot/routing"
)

// DefaultReasonTimeout bounds how long a rejection reason prompt stays open.
const DefaultReasonTimeout = 5 * time.Minute

// Session is the subset of *discordgo.Session used to talk to Discord.
type Session interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Gateway is the websocket side of *discordgo.Session.
type Gateway interface {
	AddHandler(handler interface{}) func()
	Open() error
	Close() error
}

// Reviewer is the approval workflow as the commands use it.
type Reviewer interface {
	Start(ctx context.Context, sub approval.Submission)
	Lookup(ctx context.Context, id string) (approval.Record, error)
	Verify(ctx context.Context, kind approval.Kind, subjectID, actorID string, r approval.Responder) error
	Remove(ctx context.Context, kind approval.Kind, subjectID, actorID string, r approval.Responder) error
}

// Routes is the channel routing the bot reads and configures.
type Routes interface {
	Channel(c routing.Category) (routing.ChannelID, bool)
	Set(c routing.Category, id routing.ChannelID) error
	Snapshot() []routing.Entry
}

// Bot implements approval.Platform and dispatches Discord interactions.
type Bot struct {
	session  Session
	hub      *approval.Hub
	workflow Reviewer
	caller   apiclient.Caller
	routes   Routes
	logger   *zap.Logger

	reasonTimeout time.Duration
	prompts       *promptRegistry

	// base outlives individual interactions; set by Run.
	base context.Context
}

var _ approval.Platform = (*Bot)(nil)

// Option configures a Bot.
type Option func(*Bot)

// WithReasonTimeout bounds the rejection reason prompt.
func WithReasonTimeout(d time.Duration) Option {
	return func(b *Bot) {
		if d > 0 {
			b.reasonTimeout = d
		}
	}
}

// New returns a Bot. SetWorkflow must be called before interactions are
// handled, since the workflow itself needs the Bot as its platform.
func New(
	session Session,
	hub *approval.Hub,
	caller apiclient.Caller,
	routes Routes,
	logger *zap.Logger,
	opts ...Option,
) *Bot {
	b := &Bot{
		session:       session,
		hub:           hub,
		caller:        caller,
		routes:        routes,
		logger:        logger,
		reasonTimeout: DefaultReasonTimeout,
		prompts:       newPromptRegistry(),
		base:          context.Background(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetWorkflow wires the workflow that reviews submissions.
func (b *Bot) SetWorkflow(w Reviewer) {
	b.workflow = w
}

// Run connects the gateway and handles interactions until ctx is done.
func (b *Bot) Run(ctx context.Context, gw Gateway) error {
	b.base = ctx

	removeReady := gw.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.logger.Info("connected to discord",
			zap.String("user", r.User.Username),
			zap.Int("guilds", len(r.Guilds)),
		)
	})
	defer removeReady()

	removeInteraction := gw.AddHandler(func(_ *discordgo.Session, ic *discordgo.InteractionCreate) {
		b.HandleInteraction(ctx, ic.Interaction)
	})
	defer removeInteraction()

	if err := gw.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	<-ctx.Done()

	if err := gw.Close(); err != nil {
		b.logger.Warn("failed to close discord gateway", zap.Error(err))
	}
	return ctx.Err()
}

// Send posts msg to channel.
func (b *Bot) Send(ctx context.Context, channel routing.ChannelID, msg approval.Message) error {
	_, err := b.session.ChannelMessageSendComplex(channel.String(), &discordgo.MessageSend{
		Content: mention(msg.Mention),
		Embeds:  []*discordgo.MessageEmbed{toEmbed(msg)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send to channel %s: %w", channel, err)
	}
	return nil
}

// SendDirect sends msg to userID's direct message channel.
func (b *Bot) SendDirect(ctx context.Context, userID string, msg approval.Message) error {
	if userID == "" {
		return errors.New("no user to message")
	}
	dm, err := b.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("open direct channel with %s: %w", userID, err)
	}
	_, err = b.session.ChannelMessageSendComplex(dm.ID, &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{toEmbed(msg)},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("direct message %s: %w", userID, err)
	}
	return nil
}

// PostDecision posts msg with approve and reject buttons bound to decisionID.
func (b *Bot) PostDecision(
	ctx context.Context,
	channel routing.ChannelID,
	msg approval.Message,
	decisionID string,
) (string, error) {
	m, err := b.session.ChannelMessageSendComplex(channel.String(), &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{toEmbed(msg)},
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					discordgo.Button{
						Label:    "Verify",
						Style:    discordgo.SuccessButton,
						CustomID: decisionCustomID(approval.ActionApprove, decisionID),
					},
					discordgo.Button{
						Label:    "Reject",
						Style:    discordgo.DangerButton,
						CustomID: decisionCustomID(approval.ActionReject, decisionID),
					},
				},
			},
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("post decision to channel %s: %w", channel, err)
	}
	return m.ID, nil
}

// Delete removes a message.
func (b *Bot) Delete(ctx context.Context, channel routing.ChannelID, messageID string) error {
	if err := b.session.ChannelMessageDelete(channel.String(), messageID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	return nil
}

func mention(userID string) string {
	if userID == "" {
		return ""
	}
	return "<@" + userID + ">"
}
