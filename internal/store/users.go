package store

import (
	"context"
	"database/sql"
	"errors"
)

// AddUser inserts a new user row. Returns ErrDuplicate if username already
// exists. Called only by the bootstrap utility; the server never mutates
// or deletes user rows.
func (s *Store) AddUser(ctx context.Context, username, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_hash) VALUES ($1, $2)`,
		username, passwordHash,
	)
	return classifyWriteError(err)
}

// GetUserByUsername returns the stored user row, or ErrNotFound.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var u User
	err := s.db.QueryRowContext(ctx,
		`SELECT username, password_hash FROM users WHERE username = $1`,
		username,
	).Scan(&u.Username, &u.PasswordHash)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}
