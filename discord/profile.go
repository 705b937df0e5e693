package discord

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/approval"
)

const (
	cmdMe      = "me"
	cmdGetUser = "get_user"
)

var (
	errProfileMismatch   = errors.New("user not found")
	errProfileUnverified = errors.New("user not verified")
)

// memberProfile is a ring member as the directory reports it. Timestamps are
// RFC 3339; edited and verified are empty until they happen.
type memberProfile struct {
	Username   string `json:"username"`
	DiscordID  uint64 `json:"discord_id"`
	URL        string `json:"url"`
	Verified   bool   `json:"verified"`
	CreatedAt  string `json:"created_at"`
	EditedAt   string `json:"edited_at"`
	VerifiedAt string `json:"verified_at"`
}

func (b *Bot) fetchProfile(ctx context.Context, discordID uint64) (memberProfile, error) {
	var p memberProfile
	path := "/api/get/user/by-discord/" + strconv.FormatUint(discordID, 10)
	if err := b.caller.Call(ctx, http.MethodGet, path, nil, &p); err != nil {
		return memberProfile{}, err
	}
	if p.DiscordID != discordID {
		return memberProfile{}, errProfileMismatch
	}
	if !p.Verified {
		return memberProfile{}, errProfileUnverified
	}
	return p, nil
}

// showProfile answers me (self) and get_user (the "user" option).
func (b *Bot) showProfile(
	ctx context.Context,
	i *discordgo.Interaction,
	data discordgo.ApplicationCommandInteractionData,
	self bool,
) {
	target := actorID(i)
	if !self {
		target = ""
		for _, opt := range data.Options {
			if opt.Name == "user" {
				target, _ = opt.Value.(string)
			}
		}
	}
	discordID, err := strconv.ParseUint(target, 10, 64)
	if err != nil {
		b.reply(ctx, i, approval.Message{
			Title:       "Unknown member",
			Description: "Pick the member to look up.",
			Tone:        approval.ToneDanger,
		})
		return
	}

	p, err := b.fetchProfile(ctx, discordID)
	switch {
	case errors.Is(err, errProfileMismatch), errors.Is(err, errProfileUnverified):
		b.reply(ctx, i, approval.Message{
			Title:       "Not in the ring",
			Description: fmt.Sprintf("%s has no verified entry.", mention(target)),
			Tone:        approval.ToneWarning,
		})
		return
	case err != nil:
		b.logger.Warn("profile lookup failed", zap.String("member", target), zap.Error(err))
		b.reply(ctx, i, callFailure("Lookup failed", err))
		return
	}

	title := fmt.Sprintf("Info for %s", p.Username)
	if self {
		title = "Your information"
	}
	b.reply(ctx, i, approval.Message{
		Title: title,
		Fields: []approval.Field{
			{Name: "Member", Value: mention(target), Inline: true},
			{Name: "Website", Value: p.URL},
			{Name: "Created", Value: discordTimestamp(p.CreatedAt, "F")},
			{Name: "Edited", Value: discordTimestamp(p.EditedAt, "R")},
			{Name: "Verified", Value: discordTimestamp(p.VerifiedAt, "F")},
		},
		Tone: approval.ToneInfo,
	})
}

// discordTimestamp renders an RFC 3339 time as a client-localised Discord
// timestamp in the given style. Unparseable values are shown verbatim.
func discordTimestamp(raw, style string) string {
	if raw == "" {
		return "Never"
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("<t:%d:%s>", t.Unix(), style)
}
