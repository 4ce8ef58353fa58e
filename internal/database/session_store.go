package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionStore keeps one session's key/value flags in session_state.
// It satisfies session.Store.
type SessionStore struct {
	db        *sql.DB
	sessionID string
}

func (d *Database) SessionStore(sessionID string) *SessionStore {
	return &SessionStore{db: d.db, sessionID: sessionID}
}

func (s *SessionStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM session_state WHERE session_id = ? AND key = ?`, s.sessionID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session key %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO session_state(session_id, key, value, updated_utc) VALUES(?,?,?,?)
	ON CONFLICT(session_id, key) DO UPDATE SET value = excluded.value, updated_utc = excluded.updated_utc`,
		s.sessionID, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to write session key %s: %w", key, err)
	}
	return nil
}

func (s *SessionStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_state WHERE session_id = ? AND key = ?`, s.sessionID, key)
	if err != nil {
		return fmt.Errorf("failed to delete session key %s: %w", key, err)
	}
	return nil
}

// PurgeSessionsBefore drops state of sessions idle since before cutoff,
// standing in for the browser clearing session storage.
func (d *Database) PurgeSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, `
	DELETE FROM session_state WHERE session_id IN (
	  SELECT session_id FROM session_state GROUP BY session_id HAVING MAX(updated_utc) < ?
	)`, cutoff.UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to purge session state: %w", err)
	}
	return result.RowsAffected()
}
