package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/go-authgate/ringbot/approval"
)

type sentMessage struct {
	Channel string
	Data    *discordgo.MessageSend
}

type response struct {
	Interaction *discordgo.Interaction
	Resp        *discordgo.InteractionResponse
}

type followup struct {
	Interaction *discordgo.Interaction
	Params      *discordgo.WebhookParams
}

type fakeSession struct {
	mu         sync.Mutex
	sent       []sentMessage
	deleted    []string
	dms        []string
	responses  []response
	followups  []followup
	responded  chan response
	nextID     int
	respondErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{responded: make(chan response, 16)}
}

func (s *fakeSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.sent = append(s.sent, sentMessage{channelID, data})
	return &discordgo.Message{ID: fmt.Sprintf("m%d", s.nextID), ChannelID: channelID}, nil
}

func (s *fakeSession) ChannelMessageDelete(channelID, messageID string, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, channelID+"/"+messageID)
	return nil
}

func (s *fakeSession) UserChannelCreate(recipientID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dms = append(s.dms, recipientID)
	return &discordgo.Channel{ID: "dm-" + recipientID}, nil
}

func (s *fakeSession) InteractionRespond(i *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	s.mu.Lock()
	if s.respondErr != nil {
		err := s.respondErr
		s.mu.Unlock()
		return err
	}
	r := response{i, resp}
	s.responses = append(s.responses, r)
	s.mu.Unlock()
	s.responded <- r
	return nil
}

func (s *fakeSession) FollowupMessageCreate(i *discordgo.Interaction, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.followups = append(s.followups, followup{i, data})
	return &discordgo.Message{ID: "followup"}, nil
}

func (s *fakeSession) snapshot() (sent []sentMessage, responses []response, followups []followup) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...),
		append([]response(nil), s.responses...),
		append([]followup(nil), s.followups...)
}

type call struct {
	Method string
	Path   string
	Body   any
}

type fakeCaller struct {
	mu      sync.Mutex
	calls   []call
	err     error
	reply   uint64
	profile memberProfile
}

func (c *fakeCaller) Call(_ context.Context, method, path string, body, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{method, path, body})
	if c.err != nil {
		return c.err
	}
	if echo, ok := out.(*struct {
		DiscordID uint64 `json:"discord_id"`
	}); ok {
		echo.DiscordID = c.reply
	}
	if p, ok := out.(*memberProfile); ok {
		*p = c.profile
	}
	return nil
}

type staffCall struct {
	Verify  bool
	Kind    string
	Subject string
	Actor   string
}

type fakeReviewer struct {
	mu      sync.Mutex
	started []approval.Submission
	records map[string]approval.Record
	staff   []staffCall
}

func (s *fakeReviewer) Start(_ context.Context, sub approval.Submission) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, sub)
}

func (s *fakeReviewer) Verify(ctx context.Context, kind approval.Kind, subject, actor string, r approval.Responder) error {
	return s.staffAction(ctx, true, kind, subject, actor, r)
}

func (s *fakeReviewer) Remove(ctx context.Context, kind approval.Kind, subject, actor string, r approval.Responder) error {
	return s.staffAction(ctx, false, kind, subject, actor, r)
}

func (s *fakeReviewer) staffAction(ctx context.Context, verify bool, kind approval.Kind, subject, actor string, r approval.Responder) error {
	s.mu.Lock()
	s.staff = append(s.staff, staffCall{verify, kind.Name, subject, actor})
	s.mu.Unlock()
	return r.Respond(ctx, approval.Message{Title: "done"})
}

func (s *fakeReviewer) Lookup(_ context.Context, id string) (approval.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return approval.Record{}, approval.ErrUnknownDecision
	}
	return rec, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	handlers []interface{}
	opened   chan struct{}
	closed   bool
	openErr  error
}

func (g *fakeGateway) AddHandler(h interface{}) func() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.handlers = append(g.handlers, h)
	return func() {}
}

func (g *fakeGateway) Open() error {
	if g.openErr != nil {
		return g.openErr
	}
	close(g.opened)
	return nil
}

func (g *fakeGateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return nil
}

func member(id string) *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: id, Username: "member-" + id}}
}

func staff(id string) *discordgo.Member {
	m := member(id)
	m.Permissions = staffPermissions
	return m
}

func click(customID, userID string) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:     "click-" + customID,
		Type:   discordgo.InteractionMessageComponent,
		Data:   discordgo.MessageComponentInteractionData{CustomID: customID},
		Member: member(userID),
	}
}

func modalSubmit(customID, userID string, values map[string]string) *discordgo.Interaction {
	rows := make([]discordgo.MessageComponent, 0, len(values))
	for id, v := range values {
		rows = append(rows, &discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				&discordgo.TextInput{CustomID: id, Value: v},
			},
		})
	}
	return &discordgo.Interaction{
		ID:     "modal-" + customID,
		Type:   discordgo.InteractionModalSubmit,
		Data:   discordgo.ModalSubmitInteractionData{CustomID: customID, Components: rows},
		Member: member(userID),
	}
}

func command(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:     "cmd-" + name,
		Type:   discordgo.InteractionApplicationCommand,
		Data:   discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
		Member: member("7"),
	}
}

func staffCommand(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	i := command(name, opts...)
	i.Member = staff("7")
	return i
}

func option(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Value: value}
}
