package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/internal/service/messaging"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
	"github.com/zhouzirui/briefing/backend/internal/service/session/sessiontest"
	"github.com/zhouzirui/briefing/backend/pkg/retry"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "briefing.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionStoreContract(t *testing.T) {
	sessiontest.Run(t, func(t *testing.T) session.Store {
		return openTestDB(t).Sessions()
	})
}

func TestSessionStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "briefing.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	sess := sessiontest.NewSession("s1", "c1")
	if err := db.Sessions().Create(ctx, sess); err != nil {
		t.Fatalf("create: %v", err)
	}
	next := sess.Clone()
	next.CurrentQuestionIndex = 1
	if _, err := db.Sessions().CompareAndSwap(ctx, "s1", 1, next); err != nil {
		t.Fatalf("cas: %v", err)
	}
	db.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen db: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Sessions().Get(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 2 || got.CurrentQuestionIndex != 1 {
		t.Fatalf("unexpected session after reopen: %+v", got)
	}
	if active, err := reopened.Sessions().FindActive(ctx, "c1"); err != nil || active.ID != "s1" {
		t.Fatalf("active index lost after reopen: %v", err)
	}
}

func TestOutboxLifecycle(t *testing.T) {
	outbox := openTestDB(t).Outbox()
	ctx := context.Background()
	now := time.Now().UTC()
	msg := messaging.Message{To: "+5511987654321", Text: "Olá", IdempotencyKey: "s1:start"}

	entry, err := outbox.Enqueue(ctx, msg, now)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if entry.Status != messaging.OutboxPending || entry.Body != "Olá" {
		t.Fatalf("unexpected entry: %+v", entry)
	}

	again, err := outbox.Enqueue(ctx, messaging.Message{To: msg.To, Text: "outro", IdempotencyKey: msg.IdempotencyKey}, now)
	if err != nil {
		t.Fatalf("enqueue again: %v", err)
	}
	if again.Body != "Olá" {
		t.Fatalf("expected first body to be kept, got %q", again.Body)
	}

	ok, err := outbox.Claim(ctx, msg.IdempotencyKey, now, now.Add(-time.Minute))
	if err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}
	if ok, _ := outbox.Claim(ctx, msg.IdempotencyKey, now, now.Add(-time.Minute)); ok {
		t.Fatal("expected in-flight entry to be refused")
	}

	if err := outbox.MarkFailed(ctx, msg.IdempotencyKey, "timeout", now); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	pending, err := outbox.Undelivered(ctx, 0, 10)
	if err != nil || len(pending) != 1 || pending[0].LastError != "timeout" || pending[0].Attempts != 1 {
		t.Fatalf("unexpected undelivered: %+v %v", pending, err)
	}

	if err := outbox.MarkSent(ctx, msg.IdempotencyKey, "wamid.1", now); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := outbox.MarkFailed(ctx, msg.IdempotencyKey, "late", now); err != nil {
		t.Fatalf("mark failed after sent: %v", err)
	}
	got, _ := outbox.Get(ctx, msg.IdempotencyKey)
	if got.Status != messaging.OutboxSent || got.ProviderMessageID != "wamid.1" {
		t.Fatalf("sent entry must stay sent: %+v", got)
	}

	if _, err := outbox.Claim(ctx, "missing", now, now); !errors.Is(err, messaging.ErrOutboxEntryNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOutboxUndeliveredExcludesExhausted(t *testing.T) {
	ctx := context.Background()
	outbox := openTestDB(t).Outbox()
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)

	for i, key := range []string{"old-1", "old-2", "fresh"} {
		at := base.Add(time.Duration(i) * time.Minute)
		if _, err := outbox.Enqueue(ctx, messaging.Message{To: "+5511987654321", Text: key, IdempotencyKey: key}, at); err != nil {
			t.Fatalf("enqueue %s: %v", key, err)
		}
		claims := 3
		if key == "fresh" {
			claims = 1
		}
		for n := 0; n < claims; n++ {
			if ok, err := outbox.Claim(ctx, key, at, at); err != nil || !ok {
				t.Fatalf("claim %s: %v %v", key, ok, err)
			}
			if err := outbox.MarkFailed(ctx, key, "outage", at); err != nil {
				t.Fatalf("mark failed %s: %v", key, err)
			}
		}
	}

	pending, err := outbox.Undelivered(ctx, 3, 2)
	if err != nil {
		t.Fatalf("undelivered: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != "fresh" {
		t.Fatalf("expected only the fresh entry, got %+v", pending)
	}

	all, _ := outbox.Undelivered(ctx, 0, 10)
	if len(all) != 3 {
		t.Fatalf("expected all failed entries without a cap, got %d", len(all))
	}
}

func TestOutboxWithIdempotentSender(t *testing.T) {
	outbox := openTestDB(t).Outbox()
	var delivered int
	transport := messaging.TransportFunc(func(context.Context, string, string) (string, error) {
		delivered++
		return "wamid.x", nil
	})
	sender := messaging.NewIdempotentSender(transport, outbox, retry.NoRetry())

	msg := messaging.Message{To: "+5511987654321", Text: "Olá", IdempotencyKey: "m1:reply"}
	for i := 0; i < 3; i++ {
		if _, err := sender.Send(context.Background(), msg); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	if delivered != 1 {
		t.Fatalf("expected one delivery, got %d", delivered)
	}
}

func TestClientDirectory(t *testing.T) {
	dir := openTestDB(t).Clients()
	ctx := context.Background()

	saved, err := dir.Save(ctx, client.Client{Name: "João Silva", Phone: "(11) 98765-4321"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.ID == "" || saved.Phone != "+5511987654321" {
		t.Fatalf("unexpected client: %+v", saved)
	}

	byPhone, err := dir.FindByPhone(ctx, "5511987654321")
	if err != nil || byPhone.ID != saved.ID {
		t.Fatalf("find by phone: %+v %v", byPhone, err)
	}

	if _, err := dir.Save(ctx, client.Client{Name: "Outro", Phone: "+55 11 98765-4321"}); !errors.Is(err, client.ErrPhoneTaken) {
		t.Fatalf("expected ErrPhoneTaken, got %v", err)
	}

	saved.Name = "João S."
	updated, err := dir.Save(ctx, saved)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.CreatedAt.UnixNano() != saved.CreatedAt.UnixNano() {
		t.Fatalf("created_at changed on update: %v vs %v", updated.CreatedAt, saved.CreatedAt)
	}

	if _, err := dir.FindByID(ctx, "missing"); !errors.Is(err, client.ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}
