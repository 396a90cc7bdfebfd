package store

import (
	"context"
	"fmt"
	"time"

	"github.com/agentd-dev/agentd/internal/logging"
)

// A migration is applied at most once, in name order. Migrations are
// forward-only; rolling back means restoring a database backup.
type migration struct {
	name string
	sql  string
}

var migrations = []migration{
	{
		name: "0001_init",
		sql: `
CREATE TABLE project (
	id               TEXT PRIMARY KEY,
	worktree         TEXT NOT NULL,
	vcs              TEXT,
	name             TEXT,
	icon_url         TEXT,
	icon_color       TEXT,
	time_created     INTEGER NOT NULL,
	time_updated     INTEGER NOT NULL,
	time_initialized INTEGER,
	sandboxes_json   TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE session (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES project(id) ON DELETE CASCADE,
	parent_id  TEXT,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	data_json  TEXT NOT NULL
);
CREATE INDEX session_project_idx ON session(project_id);
CREATE INDEX session_parent_idx ON session(parent_id);

CREATE TABLE message (
	id         TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES session(id) ON DELETE CASCADE,
	created_at INTEGER NOT NULL,
	data_json  TEXT NOT NULL
);
CREATE INDEX message_session_idx ON message(session_id);

CREATE TABLE part (
	id         TEXT PRIMARY KEY,
	message_id TEXT NOT NULL REFERENCES message(id) ON DELETE CASCADE,
	session_id TEXT NOT NULL,
	data_json  TEXT NOT NULL
);
CREATE INDEX part_message_idx ON part(message_id);
CREATE INDEX part_session_idx ON part(session_id);

CREATE TABLE session_diff (
	session_id TEXT PRIMARY KEY REFERENCES session(id) ON DELETE CASCADE,
	data_json  TEXT NOT NULL
);

CREATE TABLE todo (
	session_id TEXT PRIMARY KEY REFERENCES session(id) ON DELETE CASCADE,
	data_json  TEXT NOT NULL
);

CREATE TABLE permission (
	project_id TEXT PRIMARY KEY REFERENCES project(id) ON DELETE CASCADE,
	data_json  TEXT NOT NULL
);

CREATE TABLE session_share (
	session_id TEXT PRIMARY KEY REFERENCES session(id) ON DELETE CASCADE,
	data_json  TEXT NOT NULL
);

-- Shares downloaded from a remote; the session may not exist locally.
CREATE TABLE share (
	session_id TEXT PRIMARY KEY,
	data_json  TEXT NOT NULL
);
`,
	},
}

// migrate applies every unapplied migration, each in its own transaction.
func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS _migrations (
	name       TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	applied := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT name FROM _migrations")
	if err != nil {
		return fmt.Errorf("read migrations table: %w", err)
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		applied[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, m := range migrations {
		if applied[m.name] {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("migration %s: begin: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO _migrations (name, applied_at) VALUES (?, ?)",
			m.name, time.Now().UTC().Format(time.RFC3339),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s: record: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %s: commit: %w", m.name, err)
		}

		logging.Info().Str("migration", m.name).Msg("applied migration")
	}

	return nil
}
