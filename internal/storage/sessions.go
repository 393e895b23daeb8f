package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zhouzirui/briefing/backend/internal/model/briefing"
	"github.com/zhouzirui/briefing/backend/internal/service/session"
)

// SessionStore implements session.Store. Sessions are kept as JSON documents
// next to the columns needed for CAS, indexing and the inactivity sweep.
type SessionStore struct {
	db *sql.DB
}

// Sessions returns the session store backed by d.
func (d *DB) Sessions() *SessionStore {
	return &SessionStore{db: d.db}
}

var _ session.Store = (*SessionStore)(nil)

// Get loads a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (briefing.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT version, document FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

// Create inserts a session and, when it is not terminal, claims the client's
// active slot in the same transaction.
func (s *SessionStore) Create(ctx context.Context, sess briefing.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sess.ID).Scan(&exists)
	switch {
	case err == nil:
		return session.ErrAlreadyExists
	case !errors.Is(err, sql.ErrNoRows):
		return err
	}

	if !sess.Status.Terminal() {
		var activeID string
		err = tx.QueryRowContext(ctx, `SELECT session_id FROM active_sessions WHERE end_client_id = ?`, sess.EndClientID).Scan(&activeID)
		switch {
		case err == nil:
			return &session.ActiveSessionError{SessionID: activeID}
		case !errors.Is(err, sql.ErrNoRows):
			return err
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (id, end_client_id, status, version, updated_at, last_inbound_at, document)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.EndClientID, string(sess.Status), sess.Version,
		toUnix(sess.UpdatedAt), toUnix(session.LastActivity(sess)), string(doc))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	if !sess.Status.Terminal() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO active_sessions (end_client_id, session_id) VALUES (?, ?)`,
			sess.EndClientID, sess.ID); err != nil {
			return fmt.Errorf("claim active session: %w", err)
		}
	}

	return tx.Commit()
}

// CompareAndSwap writes next when the stored version equals expectedVersion.
func (s *SessionStore) CompareAndSwap(ctx context.Context, id string, expectedVersion int64, next briefing.Session) (briefing.Session, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return briefing.Session{}, err
	}
	defer tx.Rollback()

	var (
		version     int64
		status      string
		endClientID string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT version, status, end_client_id FROM sessions WHERE id = ?`, id,
	).Scan(&version, &status, &endClientID)
	if errors.Is(err, sql.ErrNoRows) {
		return briefing.Session{}, session.ErrNotFound
	}
	if err != nil {
		return briefing.Session{}, err
	}
	if version != expectedVersion {
		return briefing.Session{}, session.ErrVersionConflict
	}
	if briefing.Status(status).Terminal() {
		return briefing.Session{}, session.ErrTerminal
	}

	next = next.Clone()
	next.ID = id
	next.EndClientID = endClientID
	next.Version = expectedVersion + 1

	doc, err := json.Marshal(next)
	if err != nil {
		return briefing.Session{}, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE sessions
		SET status = ?, version = ?, updated_at = ?, last_inbound_at = ?, document = ?
		WHERE id = ? AND version = ?
	`, string(next.Status), next.Version, toUnix(next.UpdatedAt), toUnix(session.LastActivity(next)),
		string(doc), id, expectedVersion)
	if err != nil {
		return briefing.Session{}, fmt.Errorf("update session: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return briefing.Session{}, session.ErrVersionConflict
	}

	if next.Status.Terminal() {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM active_sessions WHERE end_client_id = ? AND session_id = ?`,
			endClientID, id); err != nil {
			return briefing.Session{}, fmt.Errorf("release active session: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return briefing.Session{}, err
	}
	return next, nil
}

// FindActive resolves the client's active session through active_sessions.
func (s *SessionStore) FindActive(ctx context.Context, endClientID string) (briefing.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT s.version, s.document
		FROM active_sessions a
		JOIN sessions s ON s.id = a.session_id
		WHERE a.end_client_id = ?
	`, endClientID)
	return scanSession(row)
}

// List returns matching sessions ordered by last activity, oldest first.
func (s *SessionStore) List(ctx context.Context, filter session.Filter) ([]briefing.Session, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Statuses) > 0 {
		placeholders := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		clauses = append(clauses, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.EndClientID != "" {
		clauses = append(clauses, "end_client_id = ?")
		args = append(args, filter.EndClientID)
	}
	if !filter.IdleBefore.IsZero() {
		clauses = append(clauses, "last_inbound_at < ?")
		args = append(args, toUnix(filter.IdleBefore))
	}

	query := `SELECT version, document FROM sessions`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY last_inbound_at ASC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]briefing.Session, 0)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (briefing.Session, error) {
	var (
		version int64
		doc     string
	)
	if err := row.Scan(&version, &doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return briefing.Session{}, session.ErrNotFound
		}
		return briefing.Session{}, err
	}

	var sess briefing.Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return briefing.Session{}, fmt.Errorf("decode session document: %w", err)
	}
	sess.Version = version
	return sess, nil
}
