package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/briefing/backend/pkg/phone"
)

var (
	ErrClientNotFound = errors.New("client not found")
	ErrPhoneRequired  = errors.New("client phone is required")
	ErrPhoneTaken     = errors.New("phone already registered to another client")
)

// Client is the end client answering a briefing.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"createdAt"`
}

// Directory resolves end clients by id or by phone (the channel discovery key).
type Directory interface {
	FindByID(ctx context.Context, id string) (Client, error)
	FindByPhone(ctx context.Context, phone string) (Client, error)
	Save(ctx context.Context, c Client) (Client, error)
}

// Prepare normalizes the phone and fills id/timestamps for a new client.
func Prepare(c Client) (Client, error) {
	c.Phone = phone.Normalize(c.Phone)
	if c.Phone == "" {
		return Client{}, ErrPhoneRequired
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	return c, nil
}

// MemoryDirectory implements Directory in memory.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]Client
	byPhone map[string]string
}

// NewMemoryDirectory returns an empty directory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]Client),
		byPhone: make(map[string]string),
	}
}

// Save inserts or updates a client.
func (d *MemoryDirectory) Save(_ context.Context, c Client) (Client, error) {
	c, err := Prepare(c)
	if err != nil {
		return Client{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.byPhone[c.Phone]; ok && owner != c.ID {
		return Client{}, ErrPhoneTaken
	}
	if prev, ok := d.byID[c.ID]; ok {
		delete(d.byPhone, prev.Phone)
		c.CreatedAt = prev.CreatedAt
	}
	d.byID[c.ID] = c
	d.byPhone[c.Phone] = c.ID
	return c, nil
}

// FindByID looks up a client by identifier.
func (d *MemoryDirectory) FindByID(_ context.Context, id string) (Client, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.byID[id]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	return c, nil
}

// FindByPhone looks up a client by any formatting of its phone number.
func (d *MemoryDirectory) FindByPhone(_ context.Context, raw string) (Client, error) {
	normalized := phone.Normalize(raw)

	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byPhone[normalized]
	if !ok {
		return Client{}, ErrClientNotFound
	}
	return d.byID[id], nil
}
