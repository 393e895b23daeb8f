package messaging

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrOutboxEntryNotFound 表示幂等键不存在。
var ErrOutboxEntryNotFound = errors.New("outbox entry not found")

// OutboxStatus 是出站记录的投递状态。
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEntry 记录某个幂等键的投递情况。
type OutboxEntry struct {
	Key               string       `json:"idempotencyKey"`
	Recipient         string       `json:"recipient"`
	Body              string       `json:"body"`
	Status            OutboxStatus `json:"status"`
	Attempts          int          `json:"attempts"`
	LastError         string       `json:"lastError,omitempty"`
	ProviderMessageID string       `json:"providerMessageId,omitempty"`
	CreatedAt         time.Time    `json:"createdAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
}

// Message 还原出站消息。
func (e OutboxEntry) Message() Message {
	return Message{To: e.Recipient, Text: e.Body, IdempotencyKey: e.Key}
}

// Outbox 以幂等键持久化出站消息，保证同一键最多成功投递一次。
type Outbox interface {
	// Enqueue 登记消息；键已存在时原样返回已有记录。
	Enqueue(ctx context.Context, msg Message, now time.Time) (OutboxEntry, error)
	// Claim 把 pending/failed（或租约过期的 sending）记录原子地切换为 sending，并累计尝试次数。
	Claim(ctx context.Context, key string, now, staleBefore time.Time) (bool, error)
	MarkSent(ctx context.Context, key, providerMessageID string, now time.Time) error
	MarkFailed(ctx context.Context, key, lastError string, now time.Time) error
	Get(ctx context.Context, key string) (OutboxEntry, error)
	// Undelivered 列出尚未送达且尝试次数低于 maxAttempts 的记录，按创建时间升序。
	// maxAttempts <= 0 表示不限。
	Undelivered(ctx context.Context, maxAttempts, limit int) ([]OutboxEntry, error)
}

// MemoryOutbox 是进程内实现。
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[string]*OutboxEntry
}

// NewMemoryOutbox 创建空的内存 outbox。
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[string]*OutboxEntry)}
}

func (o *MemoryOutbox) Enqueue(_ context.Context, msg Message, now time.Time) (OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if existing, ok := o.entries[msg.IdempotencyKey]; ok {
		return *existing, nil
	}
	entry := &OutboxEntry{
		Key:       msg.IdempotencyKey,
		Recipient: msg.To,
		Body:      msg.Text,
		Status:    OutboxPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	o.entries[msg.IdempotencyKey] = entry
	return *entry, nil
}

func (o *MemoryOutbox) Claim(_ context.Context, key string, now, staleBefore time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[key]
	if !ok {
		return false, ErrOutboxEntryNotFound
	}
	switch entry.Status {
	case OutboxPending, OutboxFailed:
	case OutboxSending:
		if !entry.UpdatedAt.Before(staleBefore) {
			return false, nil
		}
	default:
		return false, nil
	}
	entry.Status = OutboxSending
	entry.Attempts++
	entry.UpdatedAt = now
	return true, nil
}

func (o *MemoryOutbox) MarkSent(_ context.Context, key, providerMessageID string, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[key]
	if !ok {
		return ErrOutboxEntryNotFound
	}
	entry.Status = OutboxSent
	entry.ProviderMessageID = providerMessageID
	entry.LastError = ""
	entry.UpdatedAt = now
	return nil
}

func (o *MemoryOutbox) MarkFailed(_ context.Context, key, lastError string, now time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[key]
	if !ok {
		return ErrOutboxEntryNotFound
	}
	if entry.Status == OutboxSent {
		return nil
	}
	entry.Status = OutboxFailed
	entry.LastError = lastError
	entry.UpdatedAt = now
	return nil
}

func (o *MemoryOutbox) Get(_ context.Context, key string) (OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	entry, ok := o.entries[key]
	if !ok {
		return OutboxEntry{}, ErrOutboxEntryNotFound
	}
	return *entry, nil
}

func (o *MemoryOutbox) Undelivered(_ context.Context, maxAttempts, limit int) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]OutboxEntry, 0)
	for _, entry := range o.entries {
		if entry.Status == OutboxSent {
			continue
		}
		if maxAttempts <= 0 || entry.Attempts < maxAttempts {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
