// Package storage persists sessions, the outbound message outbox and the
// client directory in SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite handle shared by all stores.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database file and applies the schema.
func Open(path string) (*DB, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, path[1:])
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; a single connection also serializes the CAS transactions.
	db.SetMaxOpenConns(1)

	store := &DB{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return store, nil
}

func (d *DB) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			end_client_id TEXT NOT NULL,
			status TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			last_inbound_at INTEGER NOT NULL,
			document TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS active_sessions (
			end_client_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		);

		CREATE TABLE IF NOT EXISTS outbox (
			idempotency_key TEXT PRIMARY KEY,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			status TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			provider_message_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			phone TEXT NOT NULL UNIQUE,
			created_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status, last_inbound_at);
		CREATE INDEX IF NOT EXISTS idx_sessions_client ON sessions(end_client_id);
		CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox(status, created_at);
	`

	_, err := d.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
