package briefing

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/internal/model/template"
	"github.com/zhouzirui/briefing/backend/internal/service/extraction"
	"github.com/zhouzirui/briefing/backend/internal/service/messaging"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

type recorder struct {
	mu   sync.Mutex
	msgs []messaging.Message
	fail bool
}

func (r *recorder) Deliver(_ context.Context, to, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return "", errors.New("channel unavailable")
	}
	r.msgs = append(r.msgs, messaging.Message{To: to, Text: text})
	return "wamid." + to, nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

func (r *recorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.msgs) == 0 {
		return ""
	}
	return r.msgs[len(r.msgs)-1].Text
}

func (r *recorder) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

type transitions struct {
	mu  sync.Mutex
	all []Transition
}

func (t *transitions) Publish(tr Transition) {
	t.mu.Lock()
	t.all = append(t.all, tr)
	t.mu.Unlock()
}

type harness struct {
	orch      *Orchestrator
	store     *session.MemoryStore
	clients   *client.MemoryDirectory
	transport *recorder
	events    *transitions
	client    client.Client
}

func newHarness(t *testing.T, extractor extraction.Extractor) *harness {
	t.Helper()
	if extractor == nil {
		extractor = extraction.NewRuleExtractor()
	}
	templates, err := template.NewMemoryStore(template.Seed())
	if err != nil {
		t.Fatalf("template store: %v", err)
	}

	h := &harness{
		store:     session.NewMemoryStore(),
		clients:   client.NewMemoryDirectory(),
		transport: &recorder{},
		events:    &transitions{},
	}
	orch, err := NewOrchestrator(Deps{
		Store:     h.store,
		Templates: templates,
		Clients:   h.clients,
		Extractor: extractor,
		Sender:    messaging.NewIdempotentSender(h.transport, messaging.NewMemoryOutbox(), retry.NoRetry()),
		Notifier:  h.events,
	}, DefaultConfig())
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	h.orch = orch

	h.client, err = h.clients.Save(context.Background(), client.Client{Name: "João Silva", Phone: "(11) 98765-4321"})
	if err != nil {
		t.Fatalf("save client: %v", err)
	}
	return h
}

func (h *harness) start(t *testing.T, templateVersionID string) briefing.Session {
	t.Helper()
	sess, err := h.orch.Start(context.Background(), h.client.ID, templateVersionID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return sess
}

func msg(id, text string) briefing.InboundEvent {
	return briefing.InboundEvent{MessageID: id, SenderPhone: "+5511987654321", Text: text}
}

func TestBriefingExampleScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	sess := h.start(t, "basico@v1")
	if sess.Status != briefing.StatusAwaitingAnswer || sess.CurrentQuestionIndex != 0 {
		t.Fatalf("unexpected session after start: %+v", sess)
	}
	if h.transport.count() != 1 || !strings.Contains(h.transport.last(), "Qual é o seu nome completo?") {
		t.Fatalf("expected greeting with first question, got %q", h.transport.last())
	}

	res, err := h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))
	if err != nil {
		t.Fatalf("handle m1: %v", err)
	}
	if res.Action != briefing.ActionAnswered || res.QuestionIndex != 1 || !res.Delivered {
		t.Fatalf("unexpected result for m1: %+v", res)
	}
	if h.transport.count() != 2 || !strings.Contains(h.transport.last(), "Que tipo de projeto") {
		t.Fatalf("expected second question, got %q", h.transport.last())
	}
	afterM1, _ := h.orch.GetSession(ctx, sess.ID)

	replay, err := h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))
	if err != nil {
		t.Fatalf("replay m1: %v", err)
	}
	if replay.Action != briefing.ActionNoOp || !replay.Replayed {
		t.Fatalf("expected replayed no-op, got %+v", replay)
	}
	afterReplay, _ := h.orch.GetSession(ctx, sess.ID)
	if afterReplay.Version != afterM1.Version || len(afterReplay.Answers) != 1 {
		t.Fatalf("replay must not change the session: %+v", afterReplay)
	}
	if h.transport.count() != 2 {
		t.Fatalf("replay must not resend, got %d sends", h.transport.count())
	}

	res, err = h.orch.Handle(ctx, sess.ID, msg("m2", "não sei, é uma reforma"))
	if err != nil {
		t.Fatalf("handle m2: %v", err)
	}
	if res.Action != briefing.ActionCompleted || res.Status != briefing.StatusCompleted {
		t.Fatalf("expected completion, got %+v", res)
	}
	if !strings.Contains(h.transport.last(), "Obrigado, João!") {
		t.Fatalf("unexpected completion message: %q", h.transport.last())
	}

	final, _ := h.orch.GetSession(ctx, sess.ID)
	if len(final.Answers) != 2 || final.Answers[0].Value != "João Silva" || final.Answers[1].Value != "não sei, é uma reforma" {
		t.Fatalf("unexpected answers: %+v", final.Answers)
	}
	if final.CompletedAt == nil {
		t.Fatal("expected completion timestamp")
	}

	again, err := h.orch.Handle(ctx, sess.ID, msg("m2", "não sei, é uma reforma"))
	if err != nil {
		t.Fatalf("re-issue m2: %v", err)
	}
	if again.Action != briefing.ActionNoOp {
		t.Fatalf("expected no-op, got %+v", again)
	}
	if h.transport.count() != 3 {
		t.Fatalf("expected 3 sends in total, got %d", h.transport.count())
	}
	if reloaded, _ := h.orch.GetSession(ctx, sess.ID); reloaded.Version != final.Version {
		t.Fatalf("version changed after re-issue: %d -> %d", final.Version, reloaded.Version)
	}
}

func TestQuestionIndexNeverDecreases(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "reforma@v1")

	inputs := []string{"Maria Souza", "talvez", "apartamento", "cozinha e banheiro", "80 m2", "uns 150 mil", "março de 2026", "(21) 99876-5432"}
	for i, text := range inputs {
		if _, err := h.orch.Handle(ctx, sess.ID, msg("r"+string(rune('a'+i)), text)); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
	}

	last := -1
	for _, tr := range h.events.all {
		if tr.QuestionIndex < last {
			t.Fatalf("question index decreased: %+v", h.events.all)
		}
		last = tr.QuestionIndex
	}

	final, _ := h.orch.GetSession(ctx, sess.ID)
	if final.Status != briefing.StatusCompleted {
		t.Fatalf("expected completed session, got %s (index %d)", final.Status, final.CurrentQuestionIndex)
	}
	if rec, _ := final.Answer("contact_phone"); rec.Value != "+5521998765432" {
		t.Fatalf("unexpected phone answer: %+v", rec)
	}
	if rec, _ := final.Answer("budget"); rec.Value != "150000" {
		t.Fatalf("unexpected budget answer: %+v", rec)
	}
}

func TestCompletionRequiresAllRequiredAnswers(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	if _, err := h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	mid, _ := h.orch.GetSession(ctx, sess.ID)
	if mid.Status == briefing.StatusCompleted {
		t.Fatal("session completed with a required question unanswered")
	}

	tv, _ := h.orch.templates.Version(ctx, "basico@v1")
	if _, err := h.orch.Handle(ctx, sess.ID, msg("m2", "Casa de praia")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	done, _ := h.orch.GetSession(ctx, sess.ID)
	if done.Status != briefing.StatusCompleted || len(done.MissingRequired(tv.Questions)) != 0 {
		t.Fatalf("expected completed session with all required answers: %+v", done)
	}
}

func TestHandleInboundResolvesByPhone(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	ev := briefing.InboundEvent{MessageID: "w1", SenderPhone: "5511987654321", Text: "João Silva"}
	res, err := h.orch.HandleInbound(ctx, ev)
	if err != nil {
		t.Fatalf("handle inbound: %v", err)
	}
	if res.SessionID != sess.ID || res.Action != briefing.ActionAnswered {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := h.orch.HandleInbound(ctx, briefing.InboundEvent{MessageID: "x", SenderPhone: "+5521900000000", Text: "oi"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown phone, got %v", err)
	}

	last := briefing.InboundEvent{MessageID: "w2", SenderPhone: "+55 11 98765-4321", Text: "Reforma"}
	if res, err := h.orch.HandleInbound(ctx, last); err != nil || res.Status != briefing.StatusCompleted {
		t.Fatalf("expected completion, got %+v %v", res, err)
	}

	redelivered, err := h.orch.HandleInbound(ctx, last)
	if err != nil {
		t.Fatalf("redelivered closing message should be a no-op, got %v", err)
	}
	if redelivered.Action != briefing.ActionNoOp || !redelivered.Replayed {
		t.Fatalf("unexpected redelivery result: %+v", redelivered)
	}

	if _, err := h.orch.HandleInbound(ctx, briefing.InboundEvent{MessageID: "w3", SenderPhone: "11987654321", Text: "mais uma"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound without an active session, got %v", err)
	}
}

func TestStartRejectsDuplicateSession(t *testing.T) {
	h := newHarness(t, nil)
	first := h.start(t, "basico@v1")

	_, err := h.orch.Start(context.Background(), h.client.ID, "reforma@v1")
	var dup *DuplicateSessionError
	if !errors.As(err, &dup) || dup.SessionID != first.ID {
		t.Fatalf("expected DuplicateSessionError for %s, got %v", first.ID, err)
	}
	if !errors.Is(err, ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestStartUnknownInputs(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.Start(ctx, h.client.ID, "nope@v1"); !errors.Is(err, template.ErrVersionNotFound) {
		t.Fatalf("expected ErrVersionNotFound, got %v", err)
	}
	if _, err := h.orch.Start(ctx, "ghost", "basico@v1"); !errors.Is(err, client.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestRetryCapAbandonsRequiredQuestion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	want := []briefing.Action{briefing.ActionReasked, briefing.ActionReasked, briefing.ActionReasked, briefing.ActionAbandoned}
	for i, want := range want {
		res, err := h.orch.Handle(ctx, sess.ID, msg("n"+string(rune('0'+i)), "não sei"))
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if res.Action != want {
			t.Fatalf("attempt %d: expected %s, got %+v", i+1, want, res)
		}
		if res.QuestionIndex != 0 {
			t.Fatalf("invalid answer moved the index: %+v", res)
		}
	}
	if h.transport.last() != handoffMessage {
		t.Fatalf("expected handoff message, got %q", h.transport.last())
	}

	closed, _ := h.orch.GetSession(ctx, sess.ID)
	if closed.Attempts["client_name"] != 4 {
		t.Fatalf("expected three clarifications before handoff, got %v", closed.Attempts)
	}
	if closed.Status != briefing.StatusAbandoned || closed.AbandonReason == "" {
		t.Fatalf("expected abandoned session: %+v", closed)
	}
	res, err := h.orch.Handle(ctx, sess.ID, msg("late", "João Silva"))
	if err != nil || res.Action != briefing.ActionNoOp || res.Reason != "session closed" {
		t.Fatalf("expected closed no-op, got %+v %v", res, err)
	}
}

func TestRetryCapSkipsOptionalQuestion(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "reforma@v1")

	for i, text := range []string{"Maria Souza", "casa", "cozinha e sala"} {
		if _, err := h.orch.Handle(ctx, sess.ID, msg("a"+string(rune('0'+i)), text)); err != nil {
			t.Fatalf("handle %q: %v", text, err)
		}
	}

	var res briefing.Result
	for i := 0; i < 4; i++ {
		var err error
		res, err = h.orch.Handle(ctx, sess.ID, msg("b"+string(rune('0'+i)), "não faço ideia"))
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if i < 3 && (res.Action != briefing.ActionReasked || res.QuestionIndex != 3) {
			t.Fatalf("attempt %d: expected clarification, got %+v", i+1, res)
		}
	}
	if res.Action != briefing.ActionSkipped || res.QuestionIndex != 4 {
		t.Fatalf("expected skip to budget question, got %+v", res)
	}
	skipped, _ := h.orch.GetSession(ctx, sess.ID)
	if !skipped.IsSkipped("area_m2") || skipped.Status != briefing.StatusAwaitingAnswer {
		t.Fatalf("expected area_m2 skipped: %+v", skipped)
	}
	if _, ok := skipped.Answer("area_m2"); ok {
		t.Fatal("skipped question must not have an answer")
	}
}

func TestExtractionTimeoutReasks(t *testing.T) {
	timeout := extraction.Func(func(context.Context, string, briefing.Question) (extraction.Result, error) {
		return extraction.Result{}, extraction.ErrExtractionTimeout
	})
	h := newHarness(t, timeout)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	res, err := h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))
	if err != nil {
		t.Fatalf("timeout must not surface as an error: %v", err)
	}
	if res.Action != briefing.ActionReasked || res.Status != briefing.StatusAwaitingAnswer || res.QuestionIndex != 0 {
		t.Fatalf("expected re-ask, got %+v", res)
	}
	got, _ := h.orch.GetSession(ctx, sess.ID)
	if got.Attempts["client_name"] != 1 {
		t.Fatalf("expected one attempt recorded, got %v", got.Attempts)
	}
	if !strings.HasPrefix(h.transport.last(), "Desculpe") {
		t.Fatalf("expected clarification, got %q", h.transport.last())
	}
}

func TestInsightDoesNotMoveIndex(t *testing.T) {
	withInsight := extraction.Func(func(context.Context, string, briefing.Question) (extraction.Result, error) {
		return extraction.Result{Valid: false, Reason: "off topic", Insight: "tem orçamento de 200 mil"}, nil
	})
	h := newHarness(t, withInsight)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	if _, err := h.orch.Handle(ctx, sess.ID, msg("m1", "tenho 200 mil para gastar")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got, _ := h.orch.GetSession(ctx, sess.ID)
	if got.CurrentQuestionIndex != 0 || len(got.Insights) != 1 || got.Insights[0].QuestionID != "client_name" {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestConcurrentHandleNoLostUpdates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, ev := range []briefing.InboundEvent{msg("c1", "Maria Souza"), msg("c2", "Reforma de cozinha")} {
		wg.Add(1)
		go func(ev briefing.InboundEvent) {
			defer wg.Done()
			if _, err := h.orch.Handle(ctx, sess.ID, ev); err != nil {
				errs <- err
			}
		}(ev)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, ErrConcurrentModification) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	final, _ := h.orch.GetSession(ctx, sess.ID)
	if final.Status != briefing.StatusCompleted || len(final.Answers) != 2 {
		t.Fatalf("expected both messages applied in order: %+v", final)
	}
	if final.Version != sess.Version+2 {
		t.Fatalf("expected exactly two committed transitions, got version %d", final.Version)
	}
	seen := map[string]bool{}
	for _, a := range final.Answers {
		seen[a.MessageID] = true
	}
	if !seen["c1"] || !seen["c2"] {
		t.Fatalf("answers must come from both messages: %+v", final.Answers)
	}
}

type conflictingStore struct {
	*session.MemoryStore
}

func (conflictingStore) CompareAndSwap(context.Context, string, int64, briefing.Session) (briefing.Session, error) {
	return briefing.Session{}, session.ErrVersionConflict
}

func TestConcurrentModificationSurfaced(t *testing.T) {
	h := newHarness(t, nil)
	sess := h.start(t, "basico@v1")

	h.orch.store = conflictingStore{h.store}
	_, err := h.orch.Handle(context.Background(), sess.ID, msg("m1", "João Silva"))
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	got, _ := h.store.Get(context.Background(), sess.ID)
	if len(got.Answers) != 0 || got.Version != sess.Version {
		t.Fatalf("rolled back attempt leaked into state: %+v", got)
	}
}

// failOnceStore fails the first CompareAndSwap with a storage error.
type failOnceStore struct {
	*session.MemoryStore
	failed bool
}

func (s *failOnceStore) CompareAndSwap(ctx context.Context, id string, expected int64, next briefing.Session) (briefing.Session, error) {
	if !s.failed {
		s.failed = true
		return briefing.Session{}, errors.New("disk I/O error")
	}
	return s.MemoryStore.CompareAndSwap(ctx, id, expected, next)
}

func TestStartReleasesSlotWhenOpenFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.orch.store = &failOnceStore{MemoryStore: h.store}

	if _, err := h.orch.Start(ctx, h.client.ID, "basico@v1"); err == nil {
		t.Fatal("expected start to fail")
	}
	if h.transport.count() != 0 {
		t.Fatalf("no greeting expected for an unopened session, got %d", h.transport.count())
	}
	if _, err := h.store.FindActive(ctx, h.client.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("failed start must not hold the active slot, got %v", err)
	}

	sess, err := h.orch.Start(ctx, h.client.ID, "basico@v1")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if sess.Status != briefing.StatusAwaitingAnswer {
		t.Fatalf("expected awaiting answer, got %s", sess.Status)
	}
}

func TestStartRetriesOpenOnConflict(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.orch.store = conflictingStore{h.store}

	_, err := h.orch.Start(ctx, h.client.ID, "basico@v1")
	if !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if h.transport.count() != 0 {
		t.Fatalf("no greeting expected, got %d", h.transport.count())
	}
}

func TestDeliveryFailureKeepsCommittedState(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	h.transport.setFail(true)
	res, err := h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))
	var deliveryErr *MessagingDeliveryError
	if !errors.As(err, &deliveryErr) || !errors.Is(err, messaging.ErrDelivery) {
		t.Fatalf("expected MessagingDeliveryError, got %v", err)
	}
	if res.Action != briefing.ActionAnswered || res.Delivered {
		t.Fatalf("expected committed, undelivered result: %+v", res)
	}
	got, _ := h.orch.GetSession(ctx, sess.ID)
	if len(got.Answers) != 1 || got.CurrentQuestionIndex != 1 {
		t.Fatalf("answer must be committed despite delivery failure: %+v", got)
	}

	h.transport.setFail(false)
	sent := h.transport.count()
	replay, err := h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Replayed || !replay.Delivered || h.transport.count() != sent+1 {
		t.Fatalf("expected undelivered reply to be sent on replay: %+v", replay)
	}
	if reloaded, _ := h.orch.GetSession(ctx, sess.ID); reloaded.Version != got.Version {
		t.Fatal("replay must not bump the version")
	}
}

func TestAbandon(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")

	closed, err := h.orch.Abandon(ctx, sess.ID, "cliente desistiu")
	if err != nil {
		t.Fatalf("abandon: %v", err)
	}
	if closed.Status != briefing.StatusAbandoned || closed.AbandonReason != "cliente desistiu" {
		t.Fatalf("unexpected session: %+v", closed)
	}
	if h.transport.last() != abandonMessage {
		t.Fatalf("expected abandon message, got %q", h.transport.last())
	}

	if _, err := h.orch.Abandon(ctx, sess.ID, "again"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if _, err := h.orch.Abandon(ctx, "missing", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}

	if _, err := h.orch.Start(ctx, h.client.ID, "basico@v1"); err != nil {
		t.Fatalf("a new session should be allowed after abandon: %v", err)
	}
}

func TestTerminalSessionIsImmutable(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")
	_, _ = h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))
	_, _ = h.orch.Handle(ctx, sess.ID, msg("m2", "Reforma"))
	done, _ := h.orch.GetSession(ctx, sess.ID)

	res, err := h.orch.Handle(ctx, sess.ID, msg("m3", "quero mudar minha resposta"))
	if err != nil || res.Action != briefing.ActionNoOp || res.Reason != "session closed" {
		t.Fatalf("expected closed no-op, got %+v %v", res, err)
	}
	after, _ := h.orch.GetSession(ctx, sess.ID)
	if after.Version != done.Version || after.Status != done.Status || len(after.Answers) != len(done.Answers) {
		t.Fatalf("terminal session mutated: %+v", after)
	}
}

func TestMissingTemplateFailsSession(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := time.Now().UTC()
	orphan := briefing.Session{
		ID:                "orphan",
		EndClientID:       h.client.ID,
		Phone:             h.client.Phone,
		TemplateVersionID: "removed@v1",
		Status:            briefing.StatusAwaitingAnswer,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := h.store.Create(ctx, orphan); err != nil {
		t.Fatalf("create: %v", err)
	}

	res, err := h.orch.Handle(ctx, "orphan", msg("m1", "oi"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if res.Action != briefing.ActionFailed || res.Status != briefing.StatusFailed {
		t.Fatalf("expected failed session, got %+v", res)
	}
}

func TestProgress(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	sess := h.start(t, "basico@v1")
	_, _ = h.orch.Handle(ctx, sess.ID, msg("m1", "João Silva"))

	p, err := h.orch.Progress(ctx, sess.ID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Total != 2 || p.Answered != 1 || p.Remaining != 1 || p.Percent != 50 {
		t.Fatalf("unexpected progress: %+v", p)
	}
	if p.CurrentQuestion == nil || p.CurrentQuestion.ID != "project_type" {
		t.Fatalf("unexpected current question: %+v", p.CurrentQuestion)
	}
	if _, err := h.orch.Progress(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
