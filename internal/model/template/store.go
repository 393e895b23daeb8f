package template

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrVersionNotFound is returned when a template version id is unknown.
var ErrVersionNotFound = errors.New("template version not found")

// Provider exposes read-only template versions to the orchestrator.
type Provider interface {
	Version(ctx context.Context, id string) (Version, error)
	List(ctx context.Context) ([]Version, error)
}

// MemoryStore implements Provider with an in-memory map, populated at boot
// from Seed and the template directory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Version
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied versions.
func NewMemoryStore(items []Version) (*MemoryStore, error) {
	s := &MemoryStore{items: make(map[string]Version, len(items))}
	for _, v := range items {
		if err := s.Publish(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Publish validates and stores a new version. Re-publishing an existing id is
// rejected so that published snapshots stay immutable.
func (s *MemoryStore) Publish(v Version) error {
	if err := v.Validate(); err != nil {
		return err
	}
	v = v.Clone()
	v.ID = VersionID(v.TemplateID, v.Number)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[v.ID]; exists {
		return fmt.Errorf("template version %s already published", v.ID)
	}
	s.items[v.ID] = v
	return nil
}

// Version looks up a version by identifier.
func (s *MemoryStore) Version(_ context.Context, id string) (Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[id]
	if !ok {
		return Version{}, fmt.Errorf("%w: %s", ErrVersionNotFound, id)
	}
	return v.Clone(), nil
}

// List returns every published version ordered by id.
func (s *MemoryStore) List(_ context.Context) ([]Version, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Version, 0, len(s.items))
	for _, v := range s.items {
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CachedProvider memoizes lookups from a slower Provider. Versions are
// immutable once published, so entries never expire.
type CachedProvider struct {
	next  Provider
	mu    sync.RWMutex
	cache map[string]Version
}

// NewCachedProvider wraps next with a read-through cache.
func NewCachedProvider(next Provider) *CachedProvider {
	return &CachedProvider{next: next, cache: make(map[string]Version)}
}

// Version returns the cached version or loads it from the wrapped provider.
func (c *CachedProvider) Version(ctx context.Context, id string) (Version, error) {
	c.mu.RLock()
	v, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return v.Clone(), nil
	}

	v, err := c.next.Version(ctx, id)
	if err != nil {
		return Version{}, err
	}

	c.mu.Lock()
	c.cache[id] = v.Clone()
	c.mu.Unlock()
	return v, nil
}

// List is not cached; the set of published versions may grow.
func (c *CachedProvider) List(ctx context.Context) ([]Version, error) {
	return c.next.List(ctx)
}
