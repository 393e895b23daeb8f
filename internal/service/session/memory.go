package session

import (
	"context"
	"sort"
	"sync"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
)

// MemoryStore implements Store in memory, suitable for tests and single
// process development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]briefing.Session
	active   map[string]string // endClientID -> sessionID
}

// NewMemoryStore bootstraps an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]briefing.Session),
		active:   make(map[string]string),
	}
}

// Get retrieves a session by identifier.
func (s *MemoryStore) Get(_ context.Context, id string) (briefing.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return briefing.Session{}, ErrNotFound
	}
	return sess.Clone(), nil
}

// Create inserts a new session and claims the client's active slot.
func (s *MemoryStore) Create(_ context.Context, sess briefing.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; ok {
		return ErrAlreadyExists
	}
	if !sess.Status.Terminal() {
		if existing, ok := s.active[sess.EndClientID]; ok {
			return &ActiveSessionError{SessionID: existing}
		}
		s.active[sess.EndClientID] = sess.ID
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// CompareAndSwap replaces the session if its stored version still equals
// expectedVersion. The committed copy carries version expectedVersion+1.
func (s *MemoryStore) CompareAndSwap(_ context.Context, id string, expectedVersion int64, next briefing.Session) (briefing.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.sessions[id]
	if !ok {
		return briefing.Session{}, ErrNotFound
	}
	if current.Version != expectedVersion {
		return briefing.Session{}, ErrVersionConflict
	}
	if current.Status.Terminal() {
		return briefing.Session{}, ErrTerminal
	}

	next = next.Clone()
	next.ID = id
	next.EndClientID = current.EndClientID
	next.Version = expectedVersion + 1
	s.sessions[id] = next

	if next.Status.Terminal() && s.active[next.EndClientID] == id {
		delete(s.active, next.EndClientID)
	}
	return next.Clone(), nil
}

// FindActive returns the active session for an end client.
func (s *MemoryStore) FindActive(_ context.Context, endClientID string) (briefing.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.active[endClientID]
	if !ok {
		return briefing.Session{}, ErrNotFound
	}
	return s.sessions[id].Clone(), nil
}

// List returns sessions matching filter, oldest activity first.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]briefing.Session, error) {
	s.mu.RLock()
	out := make([]briefing.Session, 0)
	for _, sess := range s.sessions {
		if filter.Match(sess) {
			out = append(out, sess.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return LastActivity(out[i]).Before(LastActivity(out[j]))
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
