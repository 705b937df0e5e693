package approval

import (
	"context"
	"errors"
	"sync"
)

// Action is what a staff member did to a posted decision.
type Action int

const (
	ActionOther Action = iota
	ActionApprove
	ActionReject
	ActionExpired
)

func (a Action) String() string {
	switch a {
	case ActionApprove:
		return "approve"
	case ActionReject:
		return "reject"
	case ActionExpired:
		return "expired"
	default:
		return "other"
	}
}

// ErrPromptAbandoned is returned by Interaction.PromptReason when the actor
// dismissed the prompt or let it time out.
var ErrPromptAbandoned = errors.New("prompt abandoned")

// Responder answers the person who triggered an interaction. Replies are
// only visible to that person.
type Responder interface {
	Respond(ctx context.Context, msg Message) error
}

// Interaction is the staff action that resolved a decision.
type Interaction interface {
	Responder
	// PromptReason asks the actor for a short free-text reason and waits
	// for it, bounded by the adapter's prompt timeout.
	PromptReason(ctx context.Context) (string, error)
}

// Event is produced by the chat platform adapter for a decision control.
type Event struct {
	Action      Action
	DecisionID  string
	ActorID     string
	Interaction Interaction
}

// Hub routes events to the workflow waiting on each decision.
type Hub struct {
	mu      sync.Mutex
	waiters map[string]chan Event
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{waiters: make(map[string]chan Event)}
}

// Register starts waiting for one event on decisionID. The returned cancel
// func drops the registration if no event was delivered.
func (h *Hub) Register(decisionID string) (<-chan Event, func()) {
	ch := make(chan Event, 1)

	h.mu.Lock()
	h.waiters[decisionID] = ch
	h.mu.Unlock()

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.waiters[decisionID] == ch {
			delete(h.waiters, decisionID)
		}
	}
}

// Deliver hands ev to the workflow waiting on ev.DecisionID. It returns false
// when nobody is waiting, which is the case for every click after the first.
func (h *Hub) Deliver(ev Event) bool {
	h.mu.Lock()
	ch, ok := h.waiters[ev.DecisionID]
	if ok {
		delete(h.waiters, ev.DecisionID)
	}
	h.mu.Unlock()

	if !ok {
		return false
	}
	ch <- ev
	return true
}

// pending reports whether decisionID has a waiting workflow.
func (h *Hub) pending(decisionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.waiters[decisionID]
	return ok
}
