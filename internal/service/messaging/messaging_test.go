package messaging

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []string
	fails int32
	err   error
}

func (f *fakeTransport) Deliver(_ context.Context, to, text string) (string, error) {
	if atomic.AddInt32(&f.fails, -1) >= 0 {
		if f.err != nil {
			return "", f.err
		}
		return "", errors.New("temporary outage")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to+"|"+text)
	return "wamid." + text, nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestIdempotentSenderSuppressesDuplicates(t *testing.T) {
	transport := &fakeTransport{}
	sender := NewIdempotentSender(transport, NewMemoryOutbox(), retry.NoRetry())
	msg := Message{To: "+5511987654321", Text: "Olá", IdempotencyKey: "s1:start"}

	first, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Duplicate || first.ProviderMessageID == "" {
		t.Fatalf("unexpected first receipt: %+v", first)
	}

	second, err := sender.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Duplicate || second.ProviderMessageID != first.ProviderMessageID {
		t.Fatalf("expected duplicate receipt, got %+v", second)
	}
	if transport.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", transport.count())
	}
}

func TestIdempotentSenderConcurrentSameKey(t *testing.T) {
	transport := &fakeTransport{}
	sender := NewIdempotentSender(transport, NewMemoryOutbox(), retry.NoRetry())
	msg := Message{To: "+5511987654321", Text: "Olá", IdempotencyKey: "m1:reply"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sender.Send(context.Background(), msg); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if transport.count() != 1 {
		t.Fatalf("expected exactly one delivery, got %d", transport.count())
	}
}

func TestIdempotentSenderRetriesTransientFailure(t *testing.T) {
	transport := &fakeTransport{fails: 2}
	outbox := NewMemoryOutbox()
	sender := NewIdempotentSender(transport, outbox, retry.Policy{MaxAttempts: 3})

	if _, err := sender.Send(context.Background(), Message{To: "+5511987654321", Text: "oi", IdempotencyKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, _ := outbox.Get(context.Background(), "k")
	if entry.Status != OutboxSent {
		t.Fatalf("expected sent status, got %s", entry.Status)
	}
}

func TestIdempotentSenderDeliveryError(t *testing.T) {
	transport := &fakeTransport{fails: 10}
	outbox := NewMemoryOutbox()
	sender := NewIdempotentSender(transport, outbox, retry.Policy{MaxAttempts: 2})

	_, err := sender.Send(context.Background(), Message{To: "+5511987654321", Text: "oi", IdempotencyKey: "k"})
	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		t.Fatalf("expected delivery error, got %v", err)
	}
	if !errors.Is(err, ErrDelivery) || deliveryErr.Attempts != 2 {
		t.Fatalf("unexpected delivery error: %+v", deliveryErr)
	}
	entry, _ := outbox.Get(context.Background(), "k")
	if entry.Status != OutboxFailed || entry.LastError == "" {
		t.Fatalf("expected failed outbox entry, got %+v", entry)
	}
}

func TestIdempotentSenderKeepsFirstBody(t *testing.T) {
	transport := &fakeTransport{fails: 1, err: errors.New("down")}
	sender := NewIdempotentSender(transport, NewMemoryOutbox(), retry.NoRetry())

	_, _ = sender.Send(context.Background(), Message{To: "+5511987654321", Text: "primeiro", IdempotencyKey: "k"})
	if _, err := sender.Send(context.Background(), Message{To: "+5511987654321", Text: "segundo", IdempotencyKey: "k"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if transport.count() != 1 || !strings.HasSuffix(transport.sent[0], "|primeiro") {
		t.Fatalf("expected first body to be delivered, got %v", transport.sent)
	}
}

func TestRedelivererRetriesFailedEntries(t *testing.T) {
	transport := &fakeTransport{fails: 1}
	outbox := NewMemoryOutbox()
	sender := NewIdempotentSender(transport, outbox, retry.NoRetry())

	if _, err := sender.Send(context.Background(), Message{To: "+5511987654321", Text: "oi", IdempotencyKey: "k"}); err == nil {
		t.Fatal("expected first delivery to fail")
	}

	r := NewRedeliverer(sender, outbox, 10, 5)
	n, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || transport.count() != 1 {
		t.Fatalf("expected one redelivery, got n=%d sent=%d", n, transport.count())
	}

	n, _ = r.RunOnce(context.Background())
	if n != 0 {
		t.Fatalf("expected nothing left to redeliver, got %d", n)
	}
}

func TestRedelivererGivesUpAfterMaxAttempts(t *testing.T) {
	transport := &fakeTransport{fails: 100}
	outbox := NewMemoryOutbox()
	sender := NewIdempotentSender(transport, outbox, retry.NoRetry())
	_, _ = sender.Send(context.Background(), Message{To: "+5511987654321", Text: "oi", IdempotencyKey: "k"})

	r := NewRedeliverer(sender, outbox, 10, 2)
	for i := 0; i < 5; i++ {
		_, _ = r.RunOnce(context.Background())
	}
	entry, _ := outbox.Get(context.Background(), "k")
	if entry.Attempts != 2 {
		t.Fatalf("expected attempts capped at 2, got %d", entry.Attempts)
	}
}

func TestRedelivererSkipsExhaustedEntriesAhead(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	base := time.Now().Add(-time.Hour)
	for i, key := range []string{"old-1", "old-2"} {
		at := base.Add(time.Duration(i) * time.Minute)
		_, _ = outbox.Enqueue(ctx, Message{To: "+5511987654321", Text: key, IdempotencyKey: key}, at)
		for n := 0; n < 3; n++ {
			if ok, _ := outbox.Claim(ctx, key, at, at); !ok {
				t.Fatalf("claim %s #%d refused", key, n)
			}
			_ = outbox.MarkFailed(ctx, key, "outage", at)
		}
	}
	fresh := base.Add(10 * time.Minute)
	_, _ = outbox.Enqueue(ctx, Message{To: "+5511987654321", Text: "fresh", IdempotencyKey: "fresh"}, fresh)
	_, _ = outbox.Claim(ctx, "fresh", fresh, fresh)
	_ = outbox.MarkFailed(ctx, "fresh", "outage", fresh)

	transport := &fakeTransport{}
	r := NewRedeliverer(NewIdempotentSender(transport, outbox, retry.NoRetry()), outbox, 2, 3)
	n, err := r.RunOnce(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 || transport.count() != 1 || !strings.HasSuffix(transport.sent[0], "|fresh") {
		t.Fatalf("expected fresh entry to be redelivered, got n=%d sent=%v", n, transport.sent)
	}
	for _, key := range []string{"old-1", "old-2"} {
		entry, _ := outbox.Get(ctx, key)
		if entry.Status != OutboxFailed || entry.Attempts != 3 {
			t.Fatalf("exhausted entry %s must stay untouched: %+v", key, entry)
		}
	}
}

func TestMemoryOutboxStaleClaim(t *testing.T) {
	outbox := NewMemoryOutbox()
	now := time.Now()
	_, _ = outbox.Enqueue(context.Background(), Message{IdempotencyKey: "k"}, now)

	ok, _ := outbox.Claim(context.Background(), "k", now, now.Add(-time.Minute))
	if !ok {
		t.Fatal("expected first claim to succeed")
	}
	ok, _ = outbox.Claim(context.Background(), "k", now, now.Add(-time.Minute))
	if ok {
		t.Fatal("expected in-flight entry to be refused")
	}
	later := now.Add(10 * time.Minute)
	ok, _ = outbox.Claim(context.Background(), "k", later, later.Add(-time.Minute))
	if !ok {
		t.Fatal("expected stale entry to be reclaimed")
	}
}

func TestWhatsAppClientDeliver(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v18.0/12345/messages" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-test" {
			t.Fatalf("unexpected auth header: %s", got)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"to":"5511987654321"`) {
			t.Fatalf("unexpected recipient in request: %s", string(body))
		}
		if !strings.Contains(string(body), `"messaging_product":"whatsapp"`) {
			t.Fatalf("missing messaging product: %s", string(body))
		}
		_, _ = w.Write([]byte(`{"messages":[{"id":"wamid.abc"}]}`))
	}))
	defer srv.Close()

	c := &WhatsAppClient{Token: "token-test", PhoneNumberID: "12345", BaseURL: srv.URL, HTTP: srv.Client()}
	id, err := c.Deliver(context.Background(), "(11) 98765-4321", "Olá")
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if id != "wamid.abc" {
		t.Fatalf("unexpected id: %s", id)
	}
}

func TestWhatsAppClientErrors(t *testing.T) {
	c := &WhatsAppClient{PhoneNumberID: "1"}
	if _, err := c.Deliver(context.Background(), "+5511987654321", "x"); !retry.IsPermanent(err) {
		t.Fatalf("expected permanent missing token error, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid recipient","code":100}}`))
	}))
	defer srv.Close()

	c = &WhatsAppClient{Token: "x", PhoneNumberID: "1", BaseURL: srv.URL, HTTP: srv.Client()}
	_, err := c.Deliver(context.Background(), "+5511987654321", "x")
	if !retry.IsPermanent(err) || !strings.Contains(err.Error(), "invalid recipient") {
		t.Fatalf("expected permanent api error, got %v", err)
	}

	srv2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv2.Close()

	c.BaseURL = srv2.URL
	c.HTTP = srv2.Client()
	if _, err := c.Deliver(context.Background(), "+5511987654321", "x"); err == nil || retry.IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
}
