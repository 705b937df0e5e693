package approval

import (
	"context"

	"github.com/go-authgate/ringbot/routing"
)

// Tone colours a message.
type Tone int

const (
	ToneInfo Tone = iota
	ToneSuccess
	ToneWarning
	ToneDanger
)

// Field is a name/value row in a message.
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// Message is the platform-neutral content of a notification.
type Message struct {
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Tone        Tone    `json:"tone"`
	// Mention pings a user when the message goes to a shared channel.
	Mention string `json:"mention,omitempty"`
}

// Platform is the chat platform capability the workflow needs.
type Platform interface {
	Send(ctx context.Context, channel routing.ChannelID, msg Message) error
	// SendDirect fails when the user does not accept direct messages.
	SendDirect(ctx context.Context, userID string, msg Message) error
	// PostDecision posts msg with an approve and a reject control bound to
	// decisionID and returns the posted message id.
	PostDecision(ctx context.Context, channel routing.ChannelID, msg Message, decisionID string) (string, error)
	Delete(ctx context.Context, channel routing.ChannelID, messageID string) error
}
