package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens (and creates if needed) the SQLite database at path
// and ensures required tables exist.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is empty")
	}
	if err := ensureLocalFilesystem(path); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Basic health check + apply a few safe pragmas.
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := Bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Bootstrap creates tables/indexes if missing.
func Bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS commands (
  id                TEXT PRIMARY KEY,
  zone              TEXT NOT NULL,
  agent             TEXT NOT NULL DEFAULT '',
  type              TEXT NOT NULL,
  payload           TEXT NOT NULL DEFAULT '',
  status            TEXT NOT NULL,
  session_id        TEXT NOT NULL DEFAULT '',
  inputs            JSON,
  output_env_filter JSON,
  outputs           JSON,
  working_dir       TEXT NOT NULL DEFAULT '',
  log_path          TEXT NOT NULL DEFAULT '',
  timeout_seconds   INTEGER NOT NULL DEFAULT 0,
  webhook           TEXT NOT NULL DEFAULT '',
  extra             TEXT NOT NULL DEFAULT '',
  created_at        TEXT NOT NULL,
  updated_at        TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS commands_zone_agent_idx ON commands(zone, agent);`,
		`CREATE INDEX IF NOT EXISTS commands_session_idx ON commands(session_id);`,
		`CREATE INDEX IF NOT EXISTS commands_status_idx ON commands(status, timeout_seconds);`,
		`CREATE TABLE IF NOT EXISTS sessions (
  id         TEXT PRIMARY KEY,
  zone       TEXT NOT NULL,
  agent      TEXT NOT NULL,
  status     TEXT NOT NULL,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS sessions_status_idx ON sessions(status);`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap sqlite: %w", err)
		}
	}
	return nil
}
