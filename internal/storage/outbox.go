package storage

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/zhouzirui/briefing/backend/internal/service/messaging"
)

// Outbox implements messaging.Outbox on the outbox table.
type Outbox struct {
	db *sql.DB
}

// Outbox returns the outbox backed by d.
func (d *DB) Outbox() *Outbox {
	return &Outbox{db: d.db}
}

var _ messaging.Outbox = (*Outbox)(nil)

const outboxColumns = `idempotency_key, recipient, body, status, attempts, last_error, provider_message_id, created_at, updated_at`

func (o *Outbox) Enqueue(ctx context.Context, msg messaging.Message, now time.Time) (messaging.OutboxEntry, error) {
	_, err := o.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO outbox (idempotency_key, recipient, body, status, attempts, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?)
	`, msg.IdempotencyKey, msg.To, msg.Text, string(messaging.OutboxPending), toUnix(now), toUnix(now))
	if err != nil {
		return messaging.OutboxEntry{}, err
	}
	return o.Get(ctx, msg.IdempotencyKey)
}

func (o *Outbox) Claim(ctx context.Context, key string, now, staleBefore time.Time) (bool, error) {
	res, err := o.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = ?, attempts = attempts + 1, updated_at = ?
		WHERE idempotency_key = ?
		  AND (status IN (?, ?) OR (status = ? AND updated_at < ?))
	`, string(messaging.OutboxSending), toUnix(now), key,
		string(messaging.OutboxPending), string(messaging.OutboxFailed),
		string(messaging.OutboxSending), toUnix(staleBefore))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := o.Get(ctx, key); err != nil {
		return false, err
	}
	return false, nil
}

func (o *Outbox) MarkSent(ctx context.Context, key, providerMessageID string, now time.Time) error {
	res, err := o.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, provider_message_id = ?, last_error = '', updated_at = ?
		WHERE idempotency_key = ?
	`, string(messaging.OutboxSent), providerMessageID, toUnix(now), key)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return messaging.ErrOutboxEntryNotFound
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, key, lastError string, now time.Time) error {
	_, err := o.db.ExecContext(ctx, `
		UPDATE outbox SET status = ?, last_error = ?, updated_at = ?
		WHERE idempotency_key = ? AND status != ?
	`, string(messaging.OutboxFailed), lastError, toUnix(now), key, string(messaging.OutboxSent))
	return err
}

func (o *Outbox) Get(ctx context.Context, key string) (messaging.OutboxEntry, error) {
	row := o.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM outbox WHERE idempotency_key = ?`, key)
	entry, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return messaging.OutboxEntry{}, messaging.ErrOutboxEntryNotFound
	}
	return entry, err
}

func (o *Outbox) Undelivered(ctx context.Context, maxAttempts, limit int) ([]messaging.OutboxEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}
	rows, err := o.db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM outbox
		WHERE status != ? AND attempts < ?
		ORDER BY created_at ASC, idempotency_key ASC
		LIMIT ?
	`, string(messaging.OutboxSent), maxAttempts, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]messaging.OutboxEntry, 0)
	for rows.Next() {
		entry, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func scanOutbox(row scanner) (messaging.OutboxEntry, error) {
	var (
		entry     messaging.OutboxEntry
		status    string
		createdAt int64
		updatedAt int64
	)
	err := row.Scan(&entry.Key, &entry.Recipient, &entry.Body, &status, &entry.Attempts,
		&entry.LastError, &entry.ProviderMessageID, &createdAt, &updatedAt)
	if err != nil {
		return messaging.OutboxEntry{}, err
	}
	entry.Status = messaging.OutboxStatus(status)
	entry.CreatedAt = fromUnix(createdAt)
	entry.UpdatedAt = fromUnix(updatedAt)
	return entry, nil
}
