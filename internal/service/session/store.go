package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrAlreadyExists   = errors.New("session already exists")
	ErrActiveExists    = errors.New("client already has an active session")
	ErrVersionConflict = errors.New("session version conflict")
	ErrTerminal        = errors.New("session is terminal")
)

// ActiveSessionError reports the session that blocks a Create.
type ActiveSessionError struct {
	SessionID string
}

func (e *ActiveSessionError) Error() string {
	return fmt.Sprintf("%s: %s", ErrActiveExists, e.SessionID)
}

func (e *ActiveSessionError) Unwrap() error { return ErrActiveExists }

// Filter narrows List results. Zero values mean "any".
type Filter struct {
	Statuses    []briefing.Status
	EndClientID string
	IdleBefore  time.Time // last inbound (or creation) strictly before this instant
	Limit       int
}

// Match reports whether s passes the filter.
func (f Filter) Match(s briefing.Session) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if s.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.EndClientID != "" && s.EndClientID != f.EndClientID {
		return false
	}
	if !f.IdleBefore.IsZero() && !LastActivity(s).Before(f.IdleBefore) {
		return false
	}
	return true
}

// LastActivity is the instant used for inactivity decisions.
func LastActivity(s briefing.Session) time.Time {
	if !s.LastInboundAt.IsZero() {
		return s.LastInboundAt
	}
	return s.CreatedAt
}

// Store persists sessions with optimistic concurrency. The version field is
// the only concurrency token: CompareAndSwap succeeds for exactly one writer
// per version -> version+1 transition.
type Store interface {
	Get(ctx context.Context, id string) (briefing.Session, error)
	Create(ctx context.Context, s briefing.Session) error
	CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next briefing.Session) (briefing.Session, error)
	// FindActive resolves the non-terminal session of an end client through
	// the explicit client -> session index.
	FindActive(ctx context.Context, endClientID string) (briefing.Session, error)
	List(ctx context.Context, filter Filter) ([]briefing.Session, error)
}
