// Package approval runs the staff review of member submissions: it posts a
// decision with approve and reject controls, waits for exactly one of them,
// calls the backend and notifies the submitter.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/go-authgate/ringbot/apiclient"
	"github.com/go-authgate/ringbot/routing"
)

// DefaultTimeout is how long a posted decision waits before it expires.
const DefaultTimeout = 7 * 24 * time.Hour

// Outcome is how a decision ended.
type Outcome int

const (
	OutcomeUnrouted Outcome = iota
	OutcomeApproved
	OutcomeRejected
	OutcomeErrored
	OutcomeExpired
	OutcomeCanceled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnrouted:
		return "unrouted"
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	case OutcomeErrored:
		return "errored"
	case OutcomeExpired:
		return "expired"
	default:
		return "canceled"
	}
}

// Router resolves notification categories to channels.
type Router interface {
	Channel(c routing.Category) (routing.ChannelID, bool)
}

// Submission is a completed member submission awaiting review.
type Submission struct {
	Kind Kind
	// SubjectID identifies the entry in backend verify/reject calls.
	SubjectID string
	// SubmitterID is the chat user notified of the outcome.
	SubmitterID string
	Summary     Message
	// Requester receives configuration warnings. May be nil.
	Requester Responder
}

// Workflow drives decisions from posted to resolved.
type Workflow struct {
	platform Platform
	caller   apiclient.Caller
	routes   Router
	hub      *Hub
	ledger   Ledger
	logger   *zap.Logger
	timeout  time.Duration
	now      func() time.Time
	newID    func() string

	wg sync.WaitGroup
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithLedger persists pending decisions.
func WithLedger(l Ledger) Option {
	return func(w *Workflow) { w.ledger = l }
}

// WithTimeout sets how long a decision waits before expiring.
func WithTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Workflow) { w.now = now }
}

// WithIDGenerator overrides decision id generation.
func WithIDGenerator(fn func() string) Option {
	return func(w *Workflow) { w.newID = fn }
}

// New returns a Workflow.
func New(
	platform Platform,
	caller apiclient.Caller,
	routes Router,
	hub *Hub,
	logger *zap.Logger,
	opts ...Option,
) *Workflow {
	w := &Workflow{
		platform: platform,
		caller:   caller,
		routes:   routes,
		hub:      hub,
		ledger:   NopLedger{},
		logger:   logger,
		timeout:  DefaultTimeout,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// decision is a posted decision being awaited.
type decision struct {
	Record
	kind Kind
}

// Submit posts sub for review and blocks until the decision is resolved,
// expires, or ctx ends. A canceled decision stays pending in the ledger so
// Recover can pick it up after a restart.
func (w *Workflow) Submit(ctx context.Context, sub Submission) (Outcome, error) {
	logger := w.logger.With(zap.String("kind", sub.Kind.Name), zap.String("subject", sub.SubjectID))

	channel, ok := w.routes.Channel(sub.Kind.SubmitCategory)
	if !ok {
		logger.Warn("submission channel not configured",
			zap.String("category", string(sub.Kind.SubmitCategory)))
		w.respond(ctx, sub.Requester, missingChannelMessage(sub.Kind.SubmitCategory))
		return OutcomeUnrouted, nil
	}

	id := w.newID()
	events, cancel := w.hub.Register(id)

	messageID, err := w.platform.PostDecision(ctx, channel, sub.Summary, id)
	if err != nil {
		cancel()
		logger.Error("failed to post decision", zap.Stringer("channel", channel), zap.Error(err))
		w.respond(ctx, sub.Requester, postFailedMessage(sub.Kind.SubmitCategory))
		return OutcomeErrored, fmt.Errorf("post decision: %w", err)
	}

	now := w.now()
	d := decision{
		Record: Record{
			ID:          id,
			Kind:        sub.Kind.Name,
			SubjectID:   sub.SubjectID,
			SubmitterID: sub.SubmitterID,
			ChannelID:   channel,
			MessageID:   messageID,
			State:       StatePending,
			CreatedAt:   now,
			Deadline:    now.Add(w.timeout),
		},
		kind: sub.Kind,
	}
	if err := w.ledger.Open(context.WithoutCancel(ctx), d.Record); err != nil {
		logger.Error("failed to record pending decision", zap.Error(err))
	}

	logger.Info("decision posted",
		zap.String("decision", id),
		zap.Stringer("channel", channel),
		zap.Time("deadline", d.Deadline),
	)
	return w.await(ctx, d, events, cancel)
}

// Lookup returns the ledger record of a posted decision.
func (w *Workflow) Lookup(ctx context.Context, id string) (Record, error) {
	return w.ledger.Get(ctx, id)
}

// Start runs Submit in the background. Wait blocks until all started
// submissions have returned.
func (w *Workflow) Start(ctx context.Context, sub Submission) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		outcome, err := w.Submit(ctx, sub)
		w.logDone(sub.Kind.Name, sub.SubjectID, outcome, err)
	}()
}

// Wait blocks until every background decision has returned.
func (w *Workflow) Wait() {
	w.wg.Wait()
}

// Recover resumes the decisions left pending by a previous run. Decisions
// past their deadline are expired immediately; the others wait again for
// their controls on the goroutines tracked by Wait.
func (w *Workflow) Recover(ctx context.Context) (resumed, expired int, err error) {
	records, err := w.ledger.Pending(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("load pending decisions: %w", err)
	}

	for _, rec := range records {
		kind, ok := LookupKind(rec.Kind)
		if !ok {
			w.logger.Warn("dropping decision of unknown kind",
				zap.String("decision", rec.ID), zap.String("kind", rec.Kind))
			w.resolveLedger(ctx, rec.ID, StateErrored)
			continue
		}
		d := decision{Record: rec, kind: kind}

		if !w.now().Before(rec.Deadline) {
			w.expire(ctx, d)
			expired++
			continue
		}

		events, cancel := w.hub.Register(rec.ID)
		resumed++
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			outcome, err := w.await(ctx, d, events, cancel)
			w.logDone(d.Kind, d.SubjectID, outcome, err)
		}()
	}

	if resumed+expired > 0 {
		w.logger.Info("recovered pending decisions",
			zap.Int("resumed", resumed), zap.Int("expired", expired))
	}
	return resumed, expired, nil
}

func (w *Workflow) await(
	ctx context.Context,
	d decision,
	events <-chan Event,
	cancel func(),
) (Outcome, error) {
	timer := time.NewTimer(d.Deadline.Sub(w.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			return OutcomeCanceled, ctx.Err()

		case <-timer.C:
			cancel()
			w.expire(ctx, d)
			return OutcomeExpired, nil

		case ev := <-events:
			switch ev.Action {
			case ActionApprove:
				return w.resolve(ctx, d, ev, true, "")

			case ActionReject:
				var reason string
				if d.kind.AskReason && ev.Interaction != nil {
					r, err := ev.Interaction.PromptReason(ctx)
					if err != nil {
						w.logger.Info("rejection abandoned",
							zap.String("decision", d.ID), zap.Error(err))
						w.respond(ctx, ev.Interaction, Message{
							Title:       "Rejection cancelled",
							Description: "No reason was given, the submission is still waiting for review.",
							Tone:        ToneWarning,
						})
						events, cancel = w.hub.Register(d.ID)
						continue
					}
					reason = r
				}
				return w.resolve(ctx, d, ev, false, reason)

			case ActionExpired:
				w.expire(ctx, d)
				return OutcomeExpired, nil

			default:
				w.respond(ctx, ev.Interaction, Message{
					Title: "Unknown action",
					Tone:  ToneWarning,
				})
				events, cancel = w.hub.Register(d.ID)
			}
		}
	}
}

func (w *Workflow) resolve(
	ctx context.Context,
	d decision,
	ev Event,
	approve bool,
	reason string,
) (Outcome, error) {
	call, verb, state, outcome := d.kind.Reject, "reject", StateRejected, OutcomeRejected
	if approve {
		call, verb, state, outcome = d.kind.Verify, "verify", StateApproved, OutcomeApproved
	}

	var body any
	if reason != "" {
		body = map[string]string{"reason": reason}
	}

	logger := w.logger.With(
		zap.String("decision", d.ID),
		zap.String("actor", ev.ActorID),
		zap.String("action", ev.Action.String()),
	)

	if err := w.caller.Call(ctx, call.Method, call.For(d.SubjectID), body, nil); err != nil {
		logger.Error("backend call failed", zap.Error(err))
		w.respond(ctx, ev.Interaction, callFailure(verb, d.kind, d.SubmitterID, err))
		w.deleteMessage(ctx, d)
		w.resolveLedger(ctx, d.ID, StateErrored)
		return OutcomeErrored, fmt.Errorf("%s %s %s: %w", verb, d.kind.Name, d.SubjectID, err)
	}

	w.deleteMessage(ctx, d)
	w.resolveLedger(ctx, d.ID, state)

	w.respond(ctx, ev.Interaction, staffAck(d, approve))
	w.notify(ctx, d.SubmitterID, submitterNotice(d, approve, reason), ev.Interaction)

	if approve {
		w.announceVerified(ctx, d.kind, d.SubmitterID, ev.ActorID)
	}

	logger.Info("decision resolved", zap.Stringer("outcome", outcome))
	return outcome, nil
}

// Verify marks subjectID's entry of kind as verified without a posted
// decision. The staff member behind r gets the result; the subject is told
// directly, with the DM fallback channel as backup.
func (w *Workflow) Verify(ctx context.Context, kind Kind, subjectID, actorID string, r Responder) error {
	logger := w.logger.With(
		zap.String("kind", kind.Name),
		zap.String("subject", subjectID),
		zap.String("actor", actorID),
	)
	if err := w.caller.Call(ctx, kind.Verify.Method, kind.Verify.For(subjectID), nil, nil); err != nil {
		logger.Warn("direct verification failed", zap.Error(err))
		w.respond(ctx, r, callFailure("verify", kind, subjectID, err))
		return fmt.Errorf("verify %s %s: %w", kind.Name, subjectID, err)
	}

	d := decision{Record: Record{Kind: kind.Name, SubjectID: subjectID, SubmitterID: subjectID}, kind: kind}
	w.respond(ctx, r, staffAck(d, true))
	w.notify(ctx, subjectID, submitterNotice(d, true, ""), r)
	w.announceVerified(ctx, kind, subjectID, actorID)
	logger.Info("verified directly")
	return nil
}

// Remove deletes subjectID's entry of kind, verified or not, and announces
// the removal in the general channel when one is configured.
func (w *Workflow) Remove(ctx context.Context, kind Kind, subjectID, actorID string, r Responder) error {
	logger := w.logger.With(
		zap.String("kind", kind.Name),
		zap.String("subject", subjectID),
		zap.String("actor", actorID),
	)
	if err := w.caller.Call(ctx, kind.Reject.Method, kind.Reject.For(subjectID), nil, nil); err != nil {
		logger.Warn("removal failed", zap.Error(err))
		w.respond(ctx, r, callFailure("remove", kind, subjectID, err))
		return fmt.Errorf("remove %s %s: %w", kind.Name, subjectID, err)
	}

	w.respond(ctx, r, Message{
		Title:       fmt.Sprintf("Removed %s", kind.Name),
		Description: fmt.Sprintf("Removed the %s of <@%s>", kind.Name, subjectID),
		Tone:        ToneWarning,
	})
	if ch, ok := w.routes.Channel(routing.General); ok {
		msg := Message{
			Title:       fmt.Sprintf("%s removed", kind.Name),
			Description: fmt.Sprintf("The %s of <@%s> was removed from the ring", kind.Name, subjectID),
			Tone:        ToneDanger,
		}
		if err := w.platform.Send(ctx, ch, msg); err != nil {
			logger.Warn("failed to announce removal", zap.Error(err))
		}
	}
	logger.Info("removed")
	return nil
}

func (w *Workflow) announceVerified(ctx context.Context, kind Kind, subjectID, actorID string) {
	ch, ok := w.routes.Channel(kind.VerifiedCategory)
	if !ok {
		return
	}
	msg := Message{
		Title:       fmt.Sprintf("New verified %s", kind.Name),
		Description: fmt.Sprintf("<@%s> was verified by <@%s>", subjectID, actorID),
		Tone:        ToneSuccess,
	}
	if err := w.platform.Send(ctx, ch, msg); err != nil {
		w.logger.Warn("failed to announce verification",
			zap.String("subject", subjectID), zap.Error(err))
	}
}

func (w *Workflow) expire(ctx context.Context, d decision) {
	w.logger.Info("decision expired", zap.String("decision", d.ID), zap.String("kind", d.Kind))
	w.deleteMessage(ctx, d)
	w.resolveLedger(ctx, d.ID, StateExpired)
	w.notify(ctx, d.SubmitterID, Message{
		Title:       fmt.Sprintf("Your %s submission expired", d.kind.Name),
		Description: "Staff did not review it in time, please submit again.",
		Tone:        ToneWarning,
	}, nil)
}

// notify sends msg to userID directly and falls back to the DM fallback
// channel. When that is unset too, warnTo is told how to fix it.
func (w *Workflow) notify(ctx context.Context, userID string, msg Message, warnTo Responder) {
	err := w.platform.SendDirect(ctx, userID, msg)
	if err == nil {
		return
	}
	w.logger.Info("direct message failed, using fallback channel",
		zap.String("user", userID), zap.Error(err))

	ch, ok := w.routes.Channel(routing.DMFallback)
	if !ok {
		w.logger.Warn("dm fallback channel not configured", zap.String("user", userID))
		w.respond(ctx, warnTo, missingChannelMessage(routing.DMFallback))
		return
	}

	msg.Mention = userID
	if err := w.platform.Send(ctx, ch, msg); err != nil {
		w.logger.Error("fallback notification failed",
			zap.String("user", userID), zap.Stringer("channel", ch), zap.Error(err))
	}
}

func (w *Workflow) respond(ctx context.Context, r Responder, msg Message) {
	if r == nil {
		return
	}
	if err := r.Respond(ctx, msg); err != nil {
		w.logger.Warn("failed to respond to interaction", zap.Error(err))
	}
}

func (w *Workflow) deleteMessage(ctx context.Context, d decision) {
	if err := w.platform.Delete(ctx, d.ChannelID, d.MessageID); err != nil {
		w.logger.Warn("failed to delete decision message",
			zap.String("decision", d.ID), zap.String("message", d.MessageID), zap.Error(err))
	}
}

func (w *Workflow) resolveLedger(ctx context.Context, id string, state State) {
	// the ledger must record the outcome even when ctx is already done
	if err := w.ledger.Resolve(context.WithoutCancel(ctx), id, state); err != nil {
		w.logger.Error("failed to resolve decision in ledger",
			zap.String("decision", id), zap.Error(err))
	}
}

func (w *Workflow) logDone(kind, subject string, outcome Outcome, err error) {
	fields := []zap.Field{
		zap.String("kind", kind),
		zap.String("subject", subject),
		zap.Stringer("outcome", outcome),
	}
	switch {
	case errors.Is(err, context.Canceled):
		w.logger.Info("decision left pending on shutdown", fields...)
	case err != nil:
		w.logger.Error("decision failed", append(fields, zap.Error(err))...)
	default:
		w.logger.Debug("decision finished", fields...)
	}
}

func missingChannelMessage(c routing.Category) Message {
	return Message{
		Title: "No channel",
		Description: fmt.Sprintf(
			"No channel is configured for %s notifications, please set one up using `/set_notification_channel`",
			c,
		),
		Tone: ToneDanger,
	}
}

func postFailedMessage(c routing.Category) Message {
	return Message{
		Title: "Review unavailable",
		Description: fmt.Sprintf(
			"Your submission was saved but could not be posted to the %s channel for review. "+
				"Please let a moderator know.",
			c,
		),
		Tone: ToneDanger,
	}
}

func callFailure(verb string, kind Kind, subjectID string, err error) Message {
	return Message{
		Title:       fmt.Sprintf("Failed to %s %s", verb, kind.Name),
		Description: fmt.Sprintf("Failed to %s %s for <@%s>: %v", verb, kind.Name, subjectID, err),
		Tone:        ToneDanger,
	}
}

func staffAck(d decision, approve bool) Message {
	if approve {
		return Message{
			Title:       fmt.Sprintf("Verified %s", d.kind.Name),
			Description: fmt.Sprintf("Verified %s for <@%s>", d.kind.Name, d.SubmitterID),
			Tone:        ToneSuccess,
		}
	}
	return Message{
		Title:       fmt.Sprintf("Rejected %s", d.kind.Name),
		Description: fmt.Sprintf("Rejected %s for <@%s>", d.kind.Name, d.SubmitterID),
		Tone:        ToneWarning,
	}
}

func submitterNotice(d decision, approve bool, reason string) Message {
	if approve {
		return Message{
			Title:       fmt.Sprintf("Your %s was verified!", d.kind.Name),
			Description: "Staff approved your submission.",
			Tone:        ToneSuccess,
		}
	}
	msg := Message{
		Title:       fmt.Sprintf("Your %s was rejected", d.kind.Name),
		Description: "Please discuss with staff about your rejection.",
		Tone:        ToneDanger,
	}
	if reason != "" {
		msg.Fields = []Field{{Name: "Reason", Value: reason}}
	}
	return msg
}
