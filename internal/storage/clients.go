package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/zhouzirui/briefing/backend/internal/model/client"
	"github.com/zhouzirui/briefing/backend/pkg/phone"
)

// ClientDirectory implements client.Directory on the clients table.
type ClientDirectory struct {
	db *sql.DB
}

// Clients returns the client directory backed by d.
func (d *DB) Clients() *ClientDirectory {
	return &ClientDirectory{db: d.db}
}

var _ client.Directory = (*ClientDirectory)(nil)

// Save inserts or updates a client; the phone must not belong to another client.
func (c *ClientDirectory) Save(ctx context.Context, in client.Client) (client.Client, error) {
	in, err := client.Prepare(in)
	if err != nil {
		return client.Client{}, err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return client.Client{}, err
	}
	defer tx.Rollback()

	var owner string
	err = tx.QueryRowContext(ctx, `SELECT id FROM clients WHERE phone = ?`, in.Phone).Scan(&owner)
	switch {
	case err == nil && owner != in.ID:
		return client.Client{}, client.ErrPhoneTaken
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return client.Client{}, err
	}

	var createdAt int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM clients WHERE id = ?`, in.ID).Scan(&createdAt)
	switch {
	case err == nil:
		in.CreatedAt = fromUnix(createdAt)
	case !errors.Is(err, sql.ErrNoRows):
		return client.Client{}, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO clients (id, name, phone, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone
	`, in.ID, in.Name, in.Phone, toUnix(in.CreatedAt))
	if err != nil {
		return client.Client{}, fmt.Errorf("save client: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return client.Client{}, err
	}
	return in, nil
}

func (c *ClientDirectory) FindByID(ctx context.Context, id string) (client.Client, error) {
	row := c.db.QueryRowContext(ctx, `SELECT id, name, phone, created_at FROM clients WHERE id = ?`, id)
	return scanClient(row)
}

func (c *ClientDirectory) FindByPhone(ctx context.Context, raw string) (client.Client, error) {
	row := c.db.QueryRowContext(ctx, `SELECT id, name, phone, created_at FROM clients WHERE phone = ?`, phone.Normalize(raw))
	return scanClient(row)
}

func scanClient(row scanner) (client.Client, error) {
	var (
		out       client.Client
		createdAt int64
	)
	if err := row.Scan(&out.ID, &out.Name, &out.Phone, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return client.Client{}, client.ErrClientNotFound
		}
		return client.Client{}, err
	}
	out.CreatedAt = fromUnix(createdAt)
	return out, nil
}
