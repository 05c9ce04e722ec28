package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/coldforge/renderfarm/internal/bus"
)

// AddSession inserts a new session row and publishes a
// TopicSessionCreated event. Returns ErrDuplicate on a session_id
// collision.
func (s *Store) AddSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, username, creation_time) VALUES ($1, $2, $3)`,
		sess.SessionID, sess.Username, sess.CreationTime,
	)
	if err != nil {
		return classifyWriteError(err)
	}
	s.publish(bus.TopicSessionCreated, bus.SessionCreatedEvent{SessionID: sess.SessionID, Username: sess.Username})
	return nil
}

// GetSessionById returns the session row, or ErrNotFound.
func (s *Store) GetSessionById(ctx context.Context, sessionID string) (Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, username, creation_time FROM sessions WHERE session_id = $1`,
		sessionID,
	).Scan(&sess.SessionID, &sess.Username, &sess.CreationTime)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	return sess, nil
}

// GetSessionsByUsername returns every session row for username. A username
// has at most one active session, so this is normally zero or one rows,
// but the accessor makes no such assumption itself.
func (s *Store) GetSessionsByUsername(ctx context.Context, username string) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, username, creation_time FROM sessions WHERE username = $1`,
		username,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.SessionID, &sess.Username, &sess.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSessionById removes the session row. Task rows with a matching
// parent_session_id are cascade-deleted by the schema's ON DELETE CASCADE.
// Publishes a TopicSessionRemoved event on success. Returns ErrNotFound if
// the session does not exist.
func (s *Store) DeleteSessionById(ctx context.Context, sessionID string) error {
	var username string
	_ = s.db.QueryRowContext(ctx, `SELECT username FROM sessions WHERE session_id = $1`, sessionID).Scan(&username)

	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	s.publish(bus.TopicSessionRemoved, bus.SessionRemovedEvent{SessionID: sessionID, Username: username})
	return nil
}
