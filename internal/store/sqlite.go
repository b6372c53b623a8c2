// Package store persists users, bots, trades and activity logs in sqlite.
// Bot writes are field-scoped: intent fields (params, is_active) belong to
// the frontend, runtime fields (state, is_running, timestamps) to the
// engines, and neither side's writes touch the other's columns.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id          TEXT PRIMARY KEY,
	api_key     TEXT NOT NULL DEFAULT '',
	api_secret  TEXT NOT NULL DEFAULT '',
	bot_enabled INTEGER NOT NULL DEFAULT 0,
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS bots (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL REFERENCES users(id),
	name             TEXT NOT NULL DEFAULT '',
	symbol           TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	is_active        INTEGER NOT NULL DEFAULT 0,
	is_running       INTEGER NOT NULL DEFAULT 0,
	params           TEXT NOT NULL DEFAULT '{}',
	state            TEXT NOT NULL DEFAULT '{}',
	next_run_at      INTEGER,
	last_checked_at  INTEGER,
	last_executed_at INTEGER,
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bots_due ON bots (strategy, is_active, is_running, next_run_at);
CREATE INDEX IF NOT EXISTS idx_bots_user ON bots (user_id);

CREATE TABLE IF NOT EXISTS trades (
	id             TEXT PRIMARY KEY,
	bot_id         TEXT NOT NULL,
	user_id        TEXT NOT NULL,
	strategy       TEXT NOT NULL,
	symbol         TEXT NOT NULL,
	side           TEXT NOT NULL,
	type           TEXT NOT NULL,
	requested_qty  TEXT NOT NULL DEFAULT '0',
	executed_qty   TEXT NOT NULL DEFAULT '0',
	price          TEXT NOT NULL DEFAULT '0',
	quote_amount   TEXT NOT NULL DEFAULT '0',
	venue_order_id TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	error          TEXT NOT NULL DEFAULT '',
	raw            TEXT,
	created_at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_bot ON trades (bot_id, created_at);

CREATE TABLE IF NOT EXISTS activity_log (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	bot_id     TEXT NOT NULL DEFAULT '',
	strategy   TEXT NOT NULL,
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	payload    TEXT,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_strategy ON activity_log (strategy, id);
`

// Store wraps the sqlite handle shared by the repositories.
type Store struct {
	db           *sql.DB
	logRetention int
}

// Open opens the database in WAL mode and applies the schema.
func Open(path string, logRetention int) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL keeps readers unblocked while engines write runtime updates.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if logRetention <= 0 {
		logRetention = 500
	}
	return &Store{db: db, logRetention: logRetention}, nil
}

// Close closes the underlying handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// millis helpers: timestamps are stored as epoch milliseconds, with NULL
// for the zero time.

func toMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}
