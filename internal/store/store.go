// Package store is the durable, table-backed persistence layer for users,
// sessions, and tasks. It is the only component that talks to Postgres.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net"
	"time"

	_ "github.com/lib/pq"

	"github.com/coldforge/renderfarm/internal/bus"
	"github.com/coldforge/renderfarm/internal/config"
)

const (
	dialTimeout   = 180 * time.Second
	dialInterval  = 500 * time.Millisecond
	connectRetry  = 3
	connectJitter = 50 * time.Millisecond
)

// Store is a synchronous wrapper over *sql.DB. All operations are
// synchronous; the server performs single-column read-modify-writes for
// state updates, so no explicit transaction is required there.
type Store struct {
	db     *sql.DB
	bus    *bus.Bus
	logger *slog.Logger
}

// Open waits for the configured Postgres endpoint to accept TCP
// connections (up to 180s, polling every 500ms), opens the full DSN, pings
// it, and runs idempotent schema migrations. eventBus may be nil.
func Open(ctx context.Context, cfg config.DatabaseConfig, eventBus *bus.Bus, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	if err := waitForTCP(ctx, addr); err != nil {
		return nil, fmt.Errorf("store: waiting for %s to accept connections: %w", addr, err)
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.Name, cfg.User, cfg.Pass,
	)
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: opening connection: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	s := &Store{db: db, bus: eventBus, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return s, nil
}

// waitForTCP polls addr every dialInterval until a TCP connection succeeds
// or dialTimeout elapses.
func waitForTCP(ctx context.Context, addr string) error {
	deadline := time.Now().Add(dialTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, dialInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		time.Sleep(dialInterval)
	}
	return fmt.Errorf("timed out after %s, last error: %w", dialTimeout, lastErr)
}

func (s *Store) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			username TEXT NOT NULL REFERENCES users(username),
			creation_time TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			task_id TEXT PRIMARY KEY,
			task_name TEXT NOT NULL,
			parent_session_id TEXT NOT NULL REFERENCES sessions(session_id) ON DELETE CASCADE,
			username TEXT NOT NULL,
			blend_file_path TEXT NOT NULL,
			tar_path TEXT NOT NULL DEFAULT '',
			start_frame INTEGER NOT NULL,
			end_frame INTEGER NOT NULL,
			state TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_parent_session_id ON tasks(parent_session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_username ON sessions(username)`,
	}
	for _, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) publish(topic string, payload any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Topic: topic, Payload: payload})
}
