package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-authgate/ringbot/routing"
)

type sent struct {
	Channel routing.ChannelID
	Msg     Message
}

type fakePlatform struct {
	mu          sync.Mutex
	posted      chan string
	decisions   []sent
	sends       []sent
	directs     map[string][]Message
	deleted     []string
	directFails bool
	postErr     error
	nextMessage int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		posted:  make(chan string, 16),
		directs: make(map[string][]Message),
	}
}

func (p *fakePlatform) Send(_ context.Context, ch routing.ChannelID, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sends = append(p.sends, sent{ch, msg})
	return nil
}

func (p *fakePlatform) SendDirect(_ context.Context, userID string, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.directFails {
		return errors.New("cannot send messages to this user")
	}
	p.directs[userID] = append(p.directs[userID], msg)
	return nil
}

func (p *fakePlatform) PostDecision(_ context.Context, ch routing.ChannelID, msg Message, id string) (string, error) {
	p.mu.Lock()
	if p.postErr != nil {
		p.mu.Unlock()
		return "", p.postErr
	}
	p.nextMessage++
	messageID := fmt.Sprintf("msg-%d", p.nextMessage)
	p.decisions = append(p.decisions, sent{ch, msg})
	p.mu.Unlock()

	p.posted <- id
	return messageID, nil
}

func (p *fakePlatform) Delete(_ context.Context, _ routing.ChannelID, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = append(p.deleted, messageID)
	return nil
}

func (p *fakePlatform) snapshot() (sends []sent, directs map[string][]Message, deleted []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	directs = make(map[string][]Message, len(p.directs))
	for k, v := range p.directs {
		directs[k] = append([]Message(nil), v...)
	}
	return append([]sent(nil), p.sends...), directs, append([]string(nil), p.deleted...)
}

func (p *fakePlatform) waitPosted(t *testing.T) string {
	t.Helper()
	select {
	case id := <-p.posted:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("decision was never posted")
		return ""
	}
}

type call struct {
	Method string
	Path   string
	Body   any
}

type fakeCaller struct {
	mu    sync.Mutex
	calls []call
	err   error
}

func (c *fakeCaller) Call(_ context.Context, method, path string, body, _ any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call{method, path, body})
	return c.err
}

func (c *fakeCaller) snapshot() []call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]call(nil), c.calls...)
}

type fakeRouter map[routing.Category]routing.ChannelID

func (r fakeRouter) Channel(c routing.Category) (routing.ChannelID, bool) {
	id, ok := r[c]
	return id, ok && id != 0
}

type fakeInteraction struct {
	mu        sync.Mutex
	responses []Message
	reason    string
	reasonErr error
}

func (i *fakeInteraction) Respond(_ context.Context, msg Message) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.responses = append(i.responses, msg)
	return nil
}

func (i *fakeInteraction) PromptReason(context.Context) (string, error) {
	return i.reason, i.reasonErr
}

func (i *fakeInteraction) titles() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	var out []string
	for _, m := range i.responses {
		out = append(out, m.Title)
	}
	return out
}
