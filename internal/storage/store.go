// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jeranaias/jarvischat/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS profile (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	content    TEXT NOT NULL DEFAULT '',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS presets (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	prompt     TEXT NOT NULL,
	model_hint TEXT NOT NULL DEFAULT '',
	is_default INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT 'New Chat',
	model      TEXT NOT NULL DEFAULT '',
	preset_id  TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role            TEXT NOT NULL CHECK (role IN ('user', 'assistant')),
	content         TEXT NOT NULL DEFAULT '',
	model           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	system_prompt   TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, id);
CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);
CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at DESC);
`

// schemaVersion is the current schema version.
// Increment when the schema const changes and add the upgrade step to
// migrations so existing databases reach the same shape.
const schemaVersion = 1

// migration upgrades a database from version-1 to version.
type migration struct {
	version     int
	description string
	up          func(db *sql.DB) error
}

// migrations holds upgrade steps for databases created by older builds.
var migrations []migration

// =============================================================================
// STORE
// =============================================================================

// Config holds storage options.
type Config struct {
	// Path is the SQLite database file. ":memory:" is not supported because
	// each pooled connection would see its own database.
	Path string

	// BusyTimeout is how long a writer waits on a locked database (default: 5s).
	BusyTimeout time.Duration

	// MaxOpenConns caps the connection pool (default: 8).
	MaxOpenConns int
}

// Store is the SQLite-backed persistence layer.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path, applies the
// schema and runs pending migrations.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("storage: %w: empty database path", model.ErrInvalidInput)
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 8
	}

	path := expandHome(cfg.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return persistErr("ping", err)
	}
	return nil
}

// initSchema creates the schema and runs any pending migrations.
func initSchema(db *sql.DB) error {
	var current int
	err := db.QueryRow("SELECT version FROM schema_version").Scan(&current)
	if err == nil && current >= schemaVersion {
		return nil
	}

	if _, execErr := db.Exec(schema); execErr != nil {
		return fmt.Errorf("create base schema: %w", execErr)
	}
	if _, execErr := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); execErr != nil {
		return fmt.Errorf("create schema_version table: %w", execErr)
	}

	switch {
	case err == nil:
		// Existing versioned database below the current version.
	case errors.Is(err, sql.ErrNoRows) || strings.Contains(err.Error(), "no such table"):
		current = schemaVersion
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", current); err != nil {
			return fmt.Errorf("insert initial version: %w", err)
		}
	default:
		return fmt.Errorf("get current version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := m.up(db); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := db.Exec("UPDATE schema_version SET version = ?", m.version); err != nil {
			return fmt.Errorf("update schema version to %d: %w", m.version, err)
		}
		current = m.version
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// persistErr wraps a driver error as a persistence failure.
func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, model.ErrPersistence, err)
}

// notFound reports a missing record.
func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, model.ErrNotFound)
}

func toUnix(t time.Time) int64 {
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// expandHome replaces a leading "~/" with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
