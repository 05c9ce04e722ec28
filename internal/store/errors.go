package store

import (
	"errors"

	"github.com/lib/pq"
)

// ErrNotFound is returned by Get*/Delete* operations when no row matches
// the given key.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicate is returned by Add* operations on a primary-key conflict.
// The server gates on pre-reads, so callers use this only as a defensive
// check, never as the primary control path.
var ErrDuplicate = errors.New("store: duplicate")

const pqUniqueViolation = "23505"

// classifyWriteError maps a raw database/sql error from an insert into the
// store's error taxonomy, leaving unrelated errors untouched.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicate
	}
	return err
}
