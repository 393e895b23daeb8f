// Package sessiontest holds the behavioural contract every session.Store
// implementation must satisfy.
package sessiontest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
)

// NewSession builds an active session with sensible defaults.
func NewSession(id, clientID string) briefing.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return briefing.Session{
		ID:                id,
		EndClientID:       clientID,
		Phone:             "+5511987654321",
		TemplateVersionID: "basico@v1",
		Status:            briefing.StatusAwaitingAnswer,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
		LastInboundAt:     now,
	}
}

// Run exercises store against the Store contract.
func Run(t *testing.T, newStore func(t *testing.T) session.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sess := NewSession("s1", "c1")
		sess.PutAnswer(briefing.AnswerRecord{QuestionID: "client_name", Value: "João"}, nil)

		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create err: %v", err)
		}
		got, err := store.Get(ctx, "s1")
		if err != nil {
			t.Fatalf("Get err: %v", err)
		}
		if got.EndClientID != "c1" || got.Version != 1 || len(got.Answers) != 1 {
			t.Fatalf("unexpected session: %+v", got)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("CreateDuplicateID", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		if err := store.Create(ctx, NewSession("s1", "c1")); err != nil {
			t.Fatalf("Create err: %v", err)
		}
		if err := store.Create(ctx, NewSession("s1", "c2")); !errors.Is(err, session.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("CreateSecondActiveForClient", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		if err := store.Create(ctx, NewSession("s1", "c1")); err != nil {
			t.Fatalf("Create err: %v", err)
		}
		err := store.Create(ctx, NewSession("s2", "c1"))
		var active *session.ActiveSessionError
		if !errors.As(err, &active) || active.SessionID != "s1" {
			t.Fatalf("expected ActiveSessionError for s1, got %v", err)
		}
	})

	t.Run("CompareAndSwapIncrementsVersion", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sess := NewSession("s1", "c1")
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create err: %v", err)
		}

		next := sess.Clone()
		next.CurrentQuestionIndex = 1
		committed, err := store.CompareAndSwap(ctx, "s1", 1, next)
		if err != nil {
			t.Fatalf("CompareAndSwap err: %v", err)
		}
		if committed.Version != 2 {
			t.Fatalf("expected version 2, got %d", committed.Version)
		}

		if _, err := store.CompareAndSwap(ctx, "s1", 1, next); !errors.Is(err, session.ErrVersionConflict) {
			t.Fatalf("expected ErrVersionConflict, got %v", err)
		}
	})

	t.Run("CompareAndSwapMissing", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.CompareAndSwap(context.Background(), "nope", 1, NewSession("nope", "c")); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("TerminalReleasesActiveIndex", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sess := NewSession("s1", "c1")
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create err: %v", err)
		}
		if got, err := store.FindActive(ctx, "c1"); err != nil || got.ID != "s1" {
			t.Fatalf("FindActive: %v %v", got.ID, err)
		}

		done := sess.Clone()
		done.Status = briefing.StatusCompleted
		if _, err := store.CompareAndSwap(ctx, "s1", 1, done); err != nil {
			t.Fatalf("CompareAndSwap err: %v", err)
		}
		if _, err := store.FindActive(ctx, "c1"); !errors.Is(err, session.ErrNotFound) {
			t.Fatalf("expected no active session, got %v", err)
		}
		if err := store.Create(ctx, NewSession("s2", "c1")); err != nil {
			t.Fatalf("new session after completion should be allowed: %v", err)
		}

		if _, err := store.CompareAndSwap(ctx, "s1", 2, done); !errors.Is(err, session.ErrTerminal) {
			t.Fatalf("expected ErrTerminal, got %v", err)
		}
	})

	t.Run("ConcurrentCompareAndSwapSingleWinner", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		sess := NewSession("s1", "c1")
		if err := store.Create(ctx, sess); err != nil {
			t.Fatalf("Create err: %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				next := sess.Clone()
				next.CurrentQuestionIndex = i
				if _, err := store.CompareAndSwap(ctx, "s1", 1, next); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		if wins != 1 {
			t.Fatalf("expected exactly one winner, got %d", wins)
		}
	})

	t.Run("ListFilters", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		old := NewSession("old", "c1")
		old.LastInboundAt = time.Now().Add(-96 * time.Hour)
		fresh := NewSession("fresh", "c2")
		if err := store.Create(ctx, old); err != nil {
			t.Fatalf("Create err: %v", err)
		}
		if err := store.Create(ctx, fresh); err != nil {
			t.Fatalf("Create err: %v", err)
		}

		idle, err := store.List(ctx, session.Filter{
			Statuses:   []briefing.Status{briefing.StatusAwaitingAnswer},
			IdleBefore: time.Now().Add(-72 * time.Hour),
		})
		if err != nil {
			t.Fatalf("List err: %v", err)
		}
		if len(idle) != 1 || idle[0].ID != "old" {
			t.Fatalf("unexpected idle sessions: %+v", idle)
		}

		all, err := store.List(ctx, session.Filter{})
		if err != nil {
			t.Fatalf("List err: %v", err)
		}
		if len(all) != 2 {
			t.Fatalf("expected 2 sessions, got %d", len(all))
		}

		byClient, err := store.List(ctx, session.Filter{EndClientID: "c2"})
		if err != nil {
			t.Fatalf("List err: %v", err)
		}
		if len(byClient) != 1 || byClient[0].ID != "fresh" {
			t.Fatalf("unexpected sessions for client: %+v", byClient)
		}
	})
}
