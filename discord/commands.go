package discord

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/apiclient"
	"github.com/go-authgate/ringbot/approval"
	"github.com/go-authgate/ringbot/routing"
)

const (
	cmdSetChannel = "set_notification_channel"
	cmdGetChannel = "get_notification_channel"
	cmdSubmitUser = "submit_user"
	cmdSubmitAd   = "submit_ad"
	cmdVerifyUser = "verify_user"
	cmdVerifyAd   = "verify_ad"
	cmdRemoveUser = "remove_user"
	cmdRemoveAd   = "remove_ad"

	submitUserModal = "submit:user"
	submitAdModal   = "submit:ad"

	inputUsername = "username"
	inputURL      = "url"
	inputImageURL = "image_url"
)

// staffPermissions must all be held to reroute notifications or to verify
// and remove entries.
const staffPermissions = discordgo.PermissionManageChannels |
	discordgo.PermissionBanMembers |
	discordgo.PermissionKickMembers |
	discordgo.PermissionVoiceMuteMembers

func isStaff(i *discordgo.Interaction) bool {
	if i.Member == nil {
		return false
	}
	p := i.Member.Permissions
	return p&discordgo.PermissionAdministrator != 0 || p&staffPermissions == staffPermissions
}

// requireStaff replies with a refusal and returns false for non-staff.
func (b *Bot) requireStaff(ctx context.Context, i *discordgo.Interaction) bool {
	if isStaff(i) {
		return true
	}
	b.logger.Info("staff command refused",
		zap.String("command", i.ApplicationCommandData().Name),
		zap.String("actor", actorID(i)),
	)
	b.reply(ctx, i, approval.Message{
		Title:       "Missing permissions",
		Description: "You need Manage Channels, Ban Members, Kick Members and Mute Members to use this command.",
		Tone:        approval.ToneDanger,
	})
	return false
}

func (b *Bot) setNotificationChannel(
	ctx context.Context,
	i *discordgo.Interaction,
	data discordgo.ApplicationCommandInteractionData,
) {
	if !b.requireStaff(ctx, i) {
		return
	}

	var rawCategory, rawChannel string
	for _, opt := range data.Options {
		v, _ := opt.Value.(string)
		switch opt.Name {
		case "category":
			rawCategory = v
		case "channel":
			rawChannel = v
		}
	}

	category, err := routing.ParseCategory(rawCategory)
	if err != nil {
		b.reply(ctx, i, approval.Message{
			Title:       "Unknown category",
			Description: fmt.Sprintf("%q is not a notification category.", rawCategory),
			Fields:      []approval.Field{{Name: "Categories", Value: categoryList()}},
			Tone:        approval.ToneDanger,
		})
		return
	}

	channel, err := routing.ParseChannelID(rawChannel)
	if err != nil {
		b.reply(ctx, i, approval.Message{
			Title:       "Invalid channel",
			Description: err.Error(),
			Tone:        approval.ToneDanger,
		})
		return
	}

	if err := b.routes.Set(category, channel); err != nil {
		b.logger.Error("failed to save channel routing",
			zap.String("category", string(category)),
			zap.Error(err),
		)
		b.reply(ctx, i, approval.Message{
			Title:       "Failed to save",
			Description: "The channel was set but could not be saved; it will be lost on restart.",
			Tone:        approval.ToneDanger,
		})
		return
	}

	b.logger.Info("notification channel set",
		zap.String("category", string(category)),
		zap.Stringer("channel", channel),
		zap.String("actor", actorID(i)),
	)
	b.reply(ctx, i, approval.Message{
		Title:       "Notification channel set",
		Description: fmt.Sprintf("`%s` notifications now go to <#%s>.", category, channel),
		Tone:        approval.ToneSuccess,
	})
}

// staffAction verifies or removes the entry of the member named by the
// "user" option.
func (b *Bot) staffAction(
	ctx context.Context,
	i *discordgo.Interaction,
	data discordgo.ApplicationCommandInteractionData,
	kind approval.Kind,
	verify bool,
) {
	if !b.requireStaff(ctx, i) {
		return
	}

	var subject string
	for _, opt := range data.Options {
		if opt.Name == "user" {
			subject, _ = opt.Value.(string)
		}
	}
	if _, err := strconv.ParseUint(subject, 10, 64); err != nil {
		b.reply(ctx, i, approval.Message{
			Title:       "Unknown member",
			Description: "Pick the member whose entry should change.",
			Tone:        approval.ToneDanger,
		})
		return
	}

	action := b.workflow.Remove
	if verify {
		action = b.workflow.Verify
	}
	// the workflow has already told the actor about a failure
	_ = action(ctx, kind, subject, actorID(i), b.newInteraction(i))
}

func (b *Bot) getNotificationChannel(ctx context.Context, i *discordgo.Interaction) {
	entries := b.routes.Snapshot()
	fields := make([]approval.Field, 0, len(entries))
	for _, e := range entries {
		value := "unset"
		if e.Set {
			value = "<#" + e.Channel.String() + ">"
		}
		fields = append(fields, approval.Field{Name: string(e.Category), Value: value, Inline: true})
	}
	b.reply(ctx, i, approval.Message{
		Title:  "Notification channels",
		Fields: fields,
		Tone:   approval.ToneInfo,
	})
}

func (b *Bot) openSubmitUser(ctx context.Context, i *discordgo.Interaction) {
	b.openModal(ctx, i, submitUserModal, "Submit to the ring",
		discordgo.TextInput{
			CustomID:  inputUsername,
			Label:     "Username",
			Style:     discordgo.TextInputShort,
			Required:  true,
			MaxLength: 64,
		},
		discordgo.TextInput{
			CustomID:    inputURL,
			Label:       "Website",
			Style:       discordgo.TextInputShort,
			Placeholder: "https://",
			Required:    true,
			MaxLength:   256,
		},
	)
}

func (b *Bot) openSubmitAd(ctx context.Context, i *discordgo.Interaction) {
	b.openModal(ctx, i, submitAdModal, "Submit an ad",
		discordgo.TextInput{
			CustomID:    inputImageURL,
			Label:       "Image URL",
			Style:       discordgo.TextInputShort,
			Placeholder: "https://",
			Required:    true,
			MaxLength:   512,
		},
	)
}

func (b *Bot) openModal(
	ctx context.Context,
	i *discordgo.Interaction,
	customID, title string,
	inputs ...discordgo.TextInput,
) {
	rows := make([]discordgo.MessageComponent, 0, len(inputs))
	for _, in := range inputs {
		rows = append(rows, discordgo.ActionsRow{Components: []discordgo.MessageComponent{in}})
	}
	err := b.session.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID:   customID,
			Title:      title,
			Components: rows,
		},
	}, discordgo.WithContext(ctx))
	if err != nil {
		b.logger.Warn("failed to open modal", zap.String("modal", customID), zap.Error(err))
	}
}

type userSubmission struct {
	Username  string `json:"username"`
	URL       string `json:"url"`
	DiscordID uint64 `json:"discord_id"`
}

type adSubmission struct {
	ImageURL  string `json:"image_url"`
	DiscordID uint64 `json:"discord_id"`
}

// handleSubmission files a submission with the backend and hands it to the
// workflow for staff review.
func (b *Bot) handleSubmission(
	ctx context.Context,
	i *discordgo.Interaction,
	kind approval.Kind,
	values map[string]string,
) {
	r := b.newInteraction(i)
	submitter := actorID(i)
	discordID, err := strconv.ParseUint(submitter, 10, 64)
	if err != nil {
		b.reply(ctx, i, approval.Message{
			Title:       "Unknown member",
			Description: "Could not tell who sent this submission.",
			Tone:        approval.ToneDanger,
		})
		return
	}

	var (
		body    any
		summary approval.Message
	)
	switch kind.Name {
	case approval.KindAd.Name:
		sub := adSubmission{ImageURL: strings.TrimSpace(values[inputImageURL]), DiscordID: discordID}
		if sub.ImageURL == "" {
			b.reply(ctx, i, emptySubmission())
			return
		}
		body = sub
		summary = approval.Message{
			Title: "New ad submission",
			Fields: []approval.Field{
				{Name: "Submitted by", Value: mention(submitter), Inline: true},
				{Name: "Image", Value: sub.ImageURL},
			},
			Tone: approval.ToneInfo,
		}
	default:
		sub := userSubmission{
			Username:  strings.TrimSpace(values[inputUsername]),
			URL:       strings.TrimSpace(values[inputURL]),
			DiscordID: discordID,
		}
		if sub.Username == "" || sub.URL == "" {
			b.reply(ctx, i, emptySubmission())
			return
		}
		body = sub
		summary = approval.Message{
			Title: "New user submission",
			Fields: []approval.Field{
				{Name: "Username", Value: sub.Username, Inline: true},
				{Name: "Submitted by", Value: mention(submitter), Inline: true},
				{Name: "Website", Value: sub.URL},
			},
			Tone: approval.ToneInfo,
		}
	}

	var echoed struct {
		DiscordID uint64 `json:"discord_id"`
	}
	if err := b.caller.Call(ctx, kind.Submit.Method, kind.Submit.Path, body, &echoed); err != nil {
		b.logger.Warn("submission rejected",
			zap.String("kind", kind.Name),
			zap.String("submitter", submitter),
			zap.Error(err),
		)
		if rerr := r.Respond(ctx, callFailure("Submission failed", err)); rerr != nil {
			b.logger.Warn("failed to respond to interaction", zap.Error(rerr))
		}
		return
	}
	if echoed.DiscordID != 0 && echoed.DiscordID != discordID {
		b.logger.Warn("backend echoed a different member",
			zap.String("kind", kind.Name),
			zap.String("submitter", submitter),
			zap.Uint64("echoed", echoed.DiscordID),
		)
	}

	if err := r.Respond(ctx, approval.Message{
		Title:       "Submitted",
		Description: fmt.Sprintf("Your %s submission is waiting for review. You will get a message once staff decide.", kind.Name),
		Tone:        approval.ToneSuccess,
	}); err != nil {
		b.logger.Warn("failed to respond to interaction", zap.Error(err))
	}

	if b.workflow == nil {
		b.logger.Error("no workflow configured, submission not queued for review",
			zap.String("kind", kind.Name))
		return
	}
	b.workflow.Start(b.base, approval.Submission{
		Kind:        kind,
		SubjectID:   submitter,
		SubmitterID: submitter,
		Summary:     summary,
		Requester:   r,
	})
}

func emptySubmission() approval.Message {
	return approval.Message{
		Title:       "You didn't submit anything",
		Description: "No data was submitted.",
		Tone:        approval.ToneWarning,
	}
}

// callFailure describes a failed backend call to the member who caused it.
// API errors replace title with their status.
func callFailure(title string, err error) approval.Message {
	msg := approval.Message{Title: title, Tone: approval.ToneDanger}

	var apiErr *apiclient.APIError
	var authErr *apiclient.AuthError
	switch {
	case errors.As(err, &apiErr):
		msg.Title = fmt.Sprintf("Error %d", apiErr.Status)
		msg.Description = apiErr.Message
	case errors.As(err, &authErr):
		msg.Description = "The bot could not authenticate with the directory. Please tell staff."
	default:
		msg.Description = "The directory could not be reached. Try again later."
	}
	return msg
}

func categoryList() string {
	names := make([]string, 0, len(routing.Categories))
	for _, c := range routing.Categories {
		names = append(names, "`"+string(c)+"`")
	}
	return strings.Join(names, ", ")
}
