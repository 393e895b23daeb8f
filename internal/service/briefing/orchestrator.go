// Package briefing drives the question/answer state machine of a briefing
// session: it turns inbound messages into answers, persists each transition
// with compare-and-swap and sends the next prompt through the messaging port.
package briefing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/internal/model/template"
	"github.com/zhouzirui/briefing/backend/internal/service/extraction"
	"github.com/zhouzirui/briefing/backend/internal/service/messaging"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
	"github.com/zhouzirui/briefing/backend/pkg/phone"
)

// Config tunes the state machine.
type Config struct {
	MaxRetries       int           // clarifications per question; the next invalid answer skips or hands off
	MaxCASAttempts   int           // reload-and-retry rounds on version conflicts
	InactivityWindow time.Duration // idle time before the sweeper abandons a session
	SweepInterval    time.Duration
	SweepBatch       int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		MaxCASAttempts:   5,
		InactivityWindow: 72 * time.Hour,
		SweepInterval:    time.Hour,
		SweepBatch:       100,
	}
}

// Deps are the ports the orchestrator talks to. Notifier is optional.
type Deps struct {
	Store     session.Store
	Templates template.Provider
	Clients   client.Directory
	Extractor extraction.Extractor
	Sender    messaging.Sender
	Notifier  Notifier
}

// Orchestrator owns every session mutation.
type Orchestrator struct {
	cfg       Config
	store     session.Store
	templates template.Provider
	clients   client.Directory
	extractor extraction.Extractor
	sender    messaging.Sender
	notifier  Notifier
	now       func() time.Time
	newID     func() string
}

// NewOrchestrator validates deps and fills config defaults.
func NewOrchestrator(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("session store is required")
	case deps.Templates == nil:
		return nil, fmt.Errorf("template provider is required")
	case deps.Clients == nil:
		return nil, fmt.Errorf("client directory is required")
	case deps.Extractor == nil:
		return nil, fmt.Errorf("extractor is required")
	case deps.Sender == nil:
		return nil, fmt.Errorf("sender is required")
	}

	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxCASAttempts <= 0 {
		cfg.MaxCASAttempts = def.MaxCASAttempts
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = def.InactivityWindow
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = def.SweepBatch
	}

	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Orchestrator{
		cfg:       cfg,
		store:     deps.Store,
		templates: deps.Templates,
		clients:   deps.Clients,
		extractor: deps.Extractor,
		sender:    deps.Sender,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Start opens a session for the client and sends the greeting with the first
// question. A committed session is returned even when the greeting could not
// be delivered, together with a *MessagingDeliveryError.
func (o *Orchestrator) Start(ctx context.Context, endClientID, templateVersionID string) (briefing.Session, error) {
	c, err := o.clients.FindByID(ctx, endClientID)
	if err != nil {
		return briefing.Session{}, err
	}
	tv, err := o.templates.Version(ctx, templateVersionID)
	if err != nil {
		return briefing.Session{}, err
	}
	if len(tv.Questions) == 0 {
		return briefing.Session{}, ErrEmptyTemplate
	}

	if active, err := o.store.FindActive(ctx, endClientID); err == nil {
		return briefing.Session{}, &DuplicateSessionError{SessionID: active.ID}
	} else if !errors.Is(err, session.ErrNotFound) {
		return briefing.Session{}, err
	}

	now := o.now()
	created := briefing.Session{
		ID:                o.newID(),
		EndClientID:       c.ID,
		Phone:             c.Phone,
		TemplateVersionID: tv.ID,
		Status:            briefing.StatusCreated,
		Answers:           []briefing.AnswerRecord{},
		Attempts:          map[string]int{},
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := o.store.Create(ctx, created); err != nil {
		var active *session.ActiveSessionError
		if errors.As(err, &active) {
			return briefing.Session{}, &DuplicateSessionError{SessionID: active.SessionID}
		}
		return briefing.Session{}, fmt.Errorf("create session: %w", err)
	}

	committed, err := o.open(ctx, created)
	if err != nil {
		o.release(ctx, created)
		return briefing.Session{}, fmt.Errorf("open session: %w", err)
	}

	reply := &briefing.Reply{Text: greetingText(tv), IdempotencyKey: committed.ID + ":start"}
	log.Printf("[briefing] session=%s client=%s template=%s started", committed.ID, committed.EndClientID, tv.ID)
	o.publish(committed, briefing.ActionAsked, "")

	if _, err := o.deliver(ctx, committed, reply); err != nil {
		return committed, err
	}
	return committed, nil
}

// open moves a freshly created session to AWAITING_ANSWER.
func (o *Orchestrator) open(ctx context.Context, created briefing.Session) (briefing.Session, error) {
	current := created
	for attempt := 0; attempt < o.cfg.MaxCASAttempts; attempt++ {
		next := current.Clone()
		next.Status = briefing.StatusAwaitingAnswer
		next.UpdatedAt = o.now()
		committed, err := o.store.CompareAndSwap(ctx, current.ID, current.Version, next)
		if err == nil {
			return committed, nil
		}
		if !errors.Is(err, session.ErrVersionConflict) {
			return briefing.Session{}, err
		}
		if current, err = o.store.Get(ctx, created.ID); err != nil {
			return briefing.Session{}, err
		}
		if current.Status != briefing.StatusCreated {
			return briefing.Session{}, fmt.Errorf("%w: %s", ErrConcurrentModification, created.ID)
		}
	}
	return briefing.Session{}, fmt.Errorf("%w: %s", ErrConcurrentModification, created.ID)
}

// release abandons a session that never left CREATED so it stops holding the
// client's active slot. No message is sent. The sweeper times out whatever is
// left behind.
func (o *Orchestrator) release(ctx context.Context, created briefing.Session) {
	ctx = context.WithoutCancel(ctx)
	current, err := o.store.Get(ctx, created.ID)
	if err != nil {
		log.Printf("[briefing] session=%s release after failed open: %v", created.ID, err)
		return
	}
	if current.Status != briefing.StatusCreated {
		return
	}
	next := current.Clone()
	next.Status = briefing.StatusAbandoned
	next.AbandonReason = "session could not be opened"
	next.UpdatedAt = o.now()
	if _, err := o.store.CompareAndSwap(ctx, current.ID, current.Version, next); err != nil {
		log.Printf("[briefing] session=%s release after failed open: %v", created.ID, err)
		return
	}
	log.Printf("[briefing] session=%s released after failed open", created.ID)
}

// HandleInbound resolves the session from the event (session id, or sender
// phone through the client directory and the active-session index) and
// handles it.
func (o *Orchestrator) HandleInbound(ctx context.Context, ev briefing.InboundEvent) (briefing.Result, error) {
	if ev.SessionID != "" {
		return o.Handle(ctx, ev.SessionID, ev)
	}

	normalized := phone.Normalize(ev.SenderPhone)
	if normalized == "" {
		return briefing.Result{}, ErrSessionNotFound
	}
	c, err := o.clients.FindByPhone(ctx, normalized)
	if errors.Is(err, client.ErrClientNotFound) {
		return briefing.Result{}, ErrSessionNotFound
	}
	if err != nil {
		return briefing.Result{}, err
	}

	active, err := o.store.FindActive(ctx, c.ID)
	if err == nil {
		return o.Handle(ctx, active.ID, ev)
	}
	if !errors.Is(err, session.ErrNotFound) {
		return briefing.Result{}, err
	}

	// A redelivery of the message that closed a session no longer has an
	// active session to land on.
	if ev.MessageID != "" {
		closed, err := o.store.List(ctx, session.Filter{EndClientID: c.ID})
		if err != nil {
			return briefing.Result{}, err
		}
		for i := len(closed) - 1; i >= 0; i-- {
			if closed[i].SeenMessage(ev.MessageID) {
				return o.Handle(ctx, closed[i].ID, ev)
			}
		}
	}
	return briefing.Result{}, ErrSessionNotFound
}

// Handle processes one inbound message against the current question.
func (o *Orchestrator) Handle(ctx context.Context, sessionID string, ev briefing.InboundEvent) (briefing.Result, error) {
	for attempt := 0; attempt < o.cfg.MaxCASAttempts; attempt++ {
		current, err := o.store.Get(ctx, sessionID)
		if errors.Is(err, session.ErrNotFound) {
			return briefing.Result{}, ErrSessionNotFound
		}
		if err != nil {
			return briefing.Result{}, err
		}

		if ev.MessageID != "" && ev.MessageID == current.LastInboundMessageID {
			return o.replay(ctx, current)
		}
		if current.SeenMessage(ev.MessageID) {
			return briefing.NoOp(current, "duplicate message"), nil
		}
		if current.Status.Terminal() {
			return briefing.NoOp(current, "session closed"), nil
		}

		next, result, err := o.transition(ctx, current, ev)
		if err != nil {
			return briefing.Result{}, err
		}

		committed, err := o.store.CompareAndSwap(ctx, sessionID, current.Version, next)
		if errors.Is(err, session.ErrVersionConflict) || errors.Is(err, session.ErrTerminal) {
			log.Printf("[briefing] session=%s message=%s lost race at version %d, reloading", sessionID, ev.MessageID, current.Version)
			continue
		}
		if err != nil {
			return briefing.Result{}, fmt.Errorf("commit session: %w", err)
		}

		result.Version = committed.Version
		log.Printf("[briefing] session=%s message=%s action=%s status=%s index=%d",
			sessionID, ev.MessageID, result.Action, result.Status, result.QuestionIndex)
		o.publish(committed, result.Action, result.Reason)

		delivered, err := o.deliver(ctx, committed, result.Reply)
		result.Delivered = delivered
		return result, err
	}
	return briefing.Result{}, fmt.Errorf("%w: %s", ErrConcurrentModification, sessionID)
}

// replay answers a redelivered message without extraction or a new version.
// The prior reply goes through the idempotent sender again, which only sends
// it if it was never delivered.
func (o *Orchestrator) replay(ctx context.Context, current briefing.Session) (briefing.Result, error) {
	result := briefing.NoOp(current, "duplicate message")
	result.Replayed = true
	if current.LastResult != nil && current.LastResult.Reply != nil {
		reply := *current.LastResult.Reply
		result.Reply = &reply
	}
	delivered, err := o.deliver(ctx, current, result.Reply)
	result.Delivered = delivered
	return result, err
}

// transition computes the next state of current for ev. Only the returned
// copy is modified; a lost CAS simply discards it.
func (o *Orchestrator) transition(ctx context.Context, current briefing.Session, ev briefing.InboundEvent) (briefing.Session, briefing.Result, error) {
	now := o.now()
	next := current.Clone()
	next.RememberMessage(ev.MessageID)
	next.UpdatedAt = now
	next.LastInboundAt = now
	if !ev.ReceivedAt.IsZero() {
		next.LastInboundAt = ev.ReceivedAt.UTC()
	}
	if next.Attempts == nil {
		next.Attempts = map[string]int{}
	}

	replyKey := ev.MessageID + ":reply"
	if ev.MessageID == "" {
		replyKey = fmt.Sprintf("%s:v%d:reply", current.ID, current.Version+1)
	}

	tv, err := o.templates.Version(ctx, current.TemplateVersionID)
	if errors.Is(err, template.ErrVersionNotFound) {
		return o.fail(next, current, replyKey, "template version "+current.TemplateVersionID+" not found")
	}
	if err != nil {
		return briefing.Session{}, briefing.Result{}, err
	}
	questions := tv.Questions
	if next.CurrentQuestionIndex >= len(questions) {
		return o.fail(next, current, replyKey, fmt.Sprintf("question index %d out of range", next.CurrentQuestionIndex))
	}
	q := questions[next.CurrentQuestionIndex]

	next.Status = briefing.StatusValidating
	res, err := o.extractor.Extract(ctx, ev.Text, q)
	if err != nil {
		if ctx.Err() != nil {
			return briefing.Session{}, briefing.Result{}, ctx.Err()
		}
		if errors.Is(err, extraction.ErrExtractionTimeout) {
			log.Printf("[briefing] session=%s question=%s extraction timed out, re-asking", current.ID, q.ID)
		} else {
			log.Printf("[briefing] session=%s question=%s extraction failed: %v", current.ID, q.ID, err)
		}
		res = extraction.Invalid(err.Error())
	}

	if res.Insight != "" {
		next.Insights = append(next.Insights, briefing.Insight{
			QuestionID: q.ID,
			Text:       res.Insight,
			MessageID:  ev.MessageID,
			CreatedAt:  now,
		})
	}

	var (
		action briefing.Action
		text   string
		reason string
	)
	switch {
	case res.Valid:
		next.PutAnswer(briefing.AnswerRecord{
			QuestionID: q.ID,
			RawText:    ev.Text,
			Value:      res.Value,
			Confidence: res.Confidence,
			MessageID:  ev.MessageID,
			AcceptedAt: now,
		}, questions)
		action, text = o.advance(&next, questions, answeredPrefix)
		if action == briefing.ActionAsked {
			action = briefing.ActionAnswered
		}

	case next.Attempts[q.ID]+1 > o.cfg.MaxRetries && !q.Required:
		next.Attempts[q.ID]++
		next.Skipped = append(next.Skipped, q.ID)
		reason = "skipped " + q.ID + " after retries"
		action, text = o.advance(&next, questions, skipPrefix)
		if action == briefing.ActionAsked {
			action = briefing.ActionSkipped
		}

	case next.Attempts[q.ID]+1 > o.cfg.MaxRetries:
		next.Attempts[q.ID]++
		next.Status = briefing.StatusAbandoned
		next.AbandonReason = "retry limit reached on required question " + q.ID
		reason = next.AbandonReason
		action, text = briefing.ActionAbandoned, handoffMessage

	default:
		next.Attempts[q.ID]++
		next.Status = briefing.StatusAwaitingAnswer
		reason = res.Reason
		action, text = briefing.ActionReasked, clarificationText(q)
	}

	result := briefing.Result{
		SessionID:     current.ID,
		Action:        action,
		Status:        next.Status,
		QuestionIndex: next.CurrentQuestionIndex,
		Reply:         &briefing.Reply{Text: text, IdempotencyKey: replyKey},
		Reason:        reason,
		Version:       current.Version + 1,
	}
	stored := result
	next.LastResult = &stored
	return next, result, nil
}

// advance moves past the current question and either asks the next one or
// completes the session. It returns ActionAsked when another question follows.
func (o *Orchestrator) advance(next *briefing.Session, questions []briefing.Question, prefix string) (briefing.Action, string) {
	next.CurrentQuestionIndex++
	if next.CurrentQuestionIndex < len(questions) {
		next.Status = briefing.StatusAwaitingAnswer
		return briefing.ActionAsked, prefix + "\n\n" + questionText(questions[next.CurrentQuestionIndex])
	}

	if missing := next.MissingRequired(questions); len(missing) > 0 {
		next.Status = briefing.StatusFailed
		next.FailureReason = fmt.Sprintf("required answers missing: %v", missing)
		return briefing.ActionFailed, failureMessage
	}
	completedAt := next.UpdatedAt
	next.Status = briefing.StatusCompleted
	next.CompletedAt = &completedAt
	return briefing.ActionCompleted, completionText(*next)
}

func (o *Orchestrator) fail(next, current briefing.Session, replyKey, reason string) (briefing.Session, briefing.Result, error) {
	log.Printf("[briefing] session=%s failed: %s", current.ID, reason)
	next.Status = briefing.StatusFailed
	next.FailureReason = reason
	result := briefing.Result{
		SessionID:     current.ID,
		Action:        briefing.ActionFailed,
		Status:        next.Status,
		QuestionIndex: next.CurrentQuestionIndex,
		Reply:         &briefing.Reply{Text: failureMessage, IdempotencyKey: replyKey},
		Reason:        reason,
		Version:       current.Version + 1,
	}
	stored := result
	next.LastResult = &stored
	return next, result, nil
}

// Abandon closes a non-terminal session on behalf of an operator.
func (o *Orchestrator) Abandon(ctx context.Context, sessionID, reason string) (briefing.Session, error) {
	if reason == "" {
		reason = "abandoned by operator"
	}
	return o.close(ctx, sessionID, reason, sessionID+":abandon", abandonMessage, nil)
}

// close moves a session to ABANDONED through the CAS loop. guard, when set,
// can veto the transition after each reload.
func (o *Orchestrator) close(ctx context.Context, sessionID, reason, key, text string, guard func(briefing.Session) bool) (briefing.Session, error) {
	for attempt := 0; attempt < o.cfg.MaxCASAttempts; attempt++ {
		current, err := o.store.Get(ctx, sessionID)
		if errors.Is(err, session.ErrNotFound) {
			return briefing.Session{}, ErrSessionNotFound
		}
		if err != nil {
			return briefing.Session{}, err
		}
		if current.Status.Terminal() {
			return current, ErrAlreadyTerminal
		}
		if guard != nil && !guard(current) {
			return current, nil
		}

		next := current.Clone()
		next.Status = briefing.StatusAbandoned
		next.AbandonReason = reason
		next.UpdatedAt = o.now()

		committed, err := o.store.CompareAndSwap(ctx, sessionID, current.Version, next)
		if errors.Is(err, session.ErrVersionConflict) || errors.Is(err, session.ErrTerminal) {
			continue
		}
		if err != nil {
			return briefing.Session{}, fmt.Errorf("commit session: %w", err)
		}

		log.Printf("[briefing] session=%s abandoned: %s", sessionID, reason)
		o.publish(committed, briefing.ActionAbandoned, reason)
		_, err = o.deliver(ctx, committed, &briefing.Reply{Text: text, IdempotencyKey: key})
		return committed, err
	}
	return briefing.Session{}, fmt.Errorf("%w: %s", ErrConcurrentModification, sessionID)
}

// GetSession returns a read-only snapshot.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (briefing.Session, error) {
	s, err := o.store.Get(ctx, sessionID)
	if errors.Is(err, session.ErrNotFound) {
		return briefing.Session{}, ErrSessionNotFound
	}
	return s, err
}

// deliver sends reply and reports whether it reached the channel.
func (o *Orchestrator) deliver(ctx context.Context, s briefing.Session, reply *briefing.Reply) (bool, error) {
	if reply == nil || reply.Text == "" {
		return false, nil
	}
	_, err := o.sender.Send(ctx, messaging.Message{
		To:             s.Phone,
		Text:           reply.Text,
		IdempotencyKey: reply.IdempotencyKey,
	})
	if err != nil {
		log.Printf("[briefing] session=%s reply %s not delivered: %v", s.ID, reply.IdempotencyKey, err)
		return false, &MessagingDeliveryError{SessionID: s.ID, IdempotencyKey: reply.IdempotencyKey, Err: err}
	}
	return true, nil
}

func (o *Orchestrator) publish(s briefing.Session, action briefing.Action, reason string) {
	o.notifier.Publish(Transition{
		SessionID:     s.ID,
		EndClientID:   s.EndClientID,
		Action:        action,
		Status:        s.Status,
		QuestionIndex: s.CurrentQuestionIndex,
		Version:       s.Version,
		Reason:        reason,
		At:            s.UpdatedAt,
	})
}
