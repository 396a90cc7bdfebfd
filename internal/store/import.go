package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/agentd-dev/agentd/internal/logging"
	"github.com/agentd-dev/agentd/pkg/types"
)

// markerFile is written into the legacy tree after a successful import so
// the import never runs twice.
const markerFile = "sqlite-migrated"

// importLegacy performs the one-shot import of the legacy JSON storage
// tree. It is idempotent: rows are inserted with conflict-ignore, the
// whole import runs in one transaction, and the marker file is written
// only after the commit, so a crash mid-import simply retries next open.
func (s *Store) importLegacy(ctx context.Context, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return nil // nothing to import
	}
	if _, err := os.Stat(filepath.Join(dir, markerFile)); err == nil {
		return nil // already imported
	}

	log := logging.Component("import")
	log.Info().Str("dir", dir).Msg("importing legacy storage")

	imp := &importer{dir: dir, log: log}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Warn().Err(err).Msg("import rollback failed")
		}
	}()

	if err := imp.run(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(filepath.Join(dir, markerFile), []byte(stamp), 0644); err != nil {
		// The data is committed; a missing marker only costs a redundant
		// (conflict-ignored) pass on next open.
		log.Warn().Err(err).Msg("failed to write import marker")
	}

	log.Info().
		Int("projects", imp.projects).
		Int("sessions", imp.sessions).
		Int("messages", imp.messages).
		Int("parts", imp.parts).
		Int("skipped", imp.skipped).
		Msg("legacy import complete")
	return nil
}

type importer struct {
	dir string
	log zerolog.Logger

	projects, sessions, messages, parts, skipped int
}

// run walks the tree in dependency order so foreign keys can be validated
// against the rows already seen in this pass. Unparseable or orphaned
// files are skipped with a warning; they never fail the import.
func (imp *importer) run(ctx context.Context, tx *sql.Tx) error {
	projectIDs := make(map[string]bool)
	sessionIDs := make(map[string]bool)
	messageIDs := make(map[string]bool)
	partSessions := make(map[string]string) // messageID -> sessionID

	// project/*.json
	err := imp.scanDir(filepath.Join(imp.dir, "project"), func(path string, data []byte) error {
		var p types.Project
		if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
			imp.skip(path, "unparseable project")
			return nil
		}
		sandboxes, err := json.Marshal(p.Sandboxes)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO project (id, worktree, vcs, name, icon_url, icon_color, time_created, time_updated, time_initialized, sandboxes_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Worktree, p.VCS, p.Name, p.IconURL, p.IconColor,
			p.Time.Created, p.Time.Updated, p.Time.Initialized, string(sandboxes))
		if err != nil {
			return err
		}
		projectIDs[p.ID] = true
		imp.projects += affected(res)
		return nil
	})
	if err != nil {
		return err
	}

	// session/<projectID>/*.json
	err = imp.scanNested(filepath.Join(imp.dir, "session"), func(projectID, path string, data []byte) error {
		var s types.Session
		if err := json.Unmarshal(data, &s); err != nil || s.ID == "" {
			imp.skip(path, "unparseable session")
			return nil
		}
		if s.ProjectID == "" {
			s.ProjectID = projectID
		}
		if !projectIDs[s.ProjectID] {
			imp.skip(path, "orphaned session (missing project "+s.ProjectID+")")
			return nil
		}
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO session (id, project_id, parent_id, created_at, updated_at, data_json)
VALUES (?, ?, ?, ?, ?, ?)`,
			s.ID, s.ProjectID, s.ParentID, s.Time.Created, s.Time.Updated, string(data))
		if err != nil {
			return err
		}
		sessionIDs[s.ID] = true
		imp.sessions += affected(res)
		return nil
	})
	if err != nil {
		return err
	}

	// message/<sessionID>/*.json
	err = imp.scanNested(filepath.Join(imp.dir, "message"), func(sessionID, path string, data []byte) error {
		var m types.Message
		if err := json.Unmarshal(data, &m); err != nil || m.ID == "" {
			imp.skip(path, "unparseable message")
			return nil
		}
		if m.SessionID == "" {
			m.SessionID = sessionID
		}
		if !sessionIDs[m.SessionID] {
			imp.skip(path, "orphaned message (missing session "+m.SessionID+")")
			return nil
		}
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO message (id, session_id, created_at, data_json)
VALUES (?, ?, ?, ?)`,
			m.ID, m.SessionID, m.Time.Created, string(data))
		if err != nil {
			return err
		}
		messageIDs[m.ID] = true
		partSessions[m.ID] = m.SessionID
		imp.messages += affected(res)
		return nil
	})
	if err != nil {
		return err
	}

	// part/<messageID>/*.json
	err = imp.scanNested(filepath.Join(imp.dir, "part"), func(messageID, path string, data []byte) error {
		part, err := types.UnmarshalPart(data)
		if err != nil {
			imp.skip(path, "unparseable part")
			return nil
		}
		msgID := part.PartMessageID()
		if msgID == "" {
			msgID = messageID
		}
		if !messageIDs[msgID] {
			imp.skip(path, "orphaned part (missing message "+msgID+")")
			return nil
		}
		sessionID := part.PartSessionID()
		if sessionID == "" {
			sessionID = partSessions[msgID]
		}
		res, err := tx.ExecContext(ctx, `
INSERT OR IGNORE INTO part (id, message_id, session_id, data_json)
VALUES (?, ?, ?, ?)`,
			part.PartID(), msgID, sessionID, string(data))
		if err != nil {
			return err
		}
		imp.parts += affected(res)
		return nil
	})
	if err != nil {
		return err
	}

	// todo/<sessionID>.json
	err = imp.scanDir(filepath.Join(imp.dir, "todo"), func(path string, data []byte) error {
		sessionID := strings.TrimSuffix(filepath.Base(path), ".json")
		if !sessionIDs[sessionID] {
			imp.skip(path, "orphaned todo list (missing session "+sessionID+")")
			return nil
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO todo (session_id, data_json) VALUES (?, ?)",
			sessionID, string(data))
		return err
	})
	if err != nil {
		return err
	}

	// permission/<projectID>.json
	return imp.scanDir(filepath.Join(imp.dir, "permission"), func(path string, data []byte) error {
		projectID := strings.TrimSuffix(filepath.Base(path), ".json")
		if !projectIDs[projectID] {
			imp.skip(path, "orphaned permission ruleset (missing project "+projectID+")")
			return nil
		}
		_, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO permission (project_id, data_json) VALUES (?, ?)",
			projectID, string(data))
		return err
	})
}

// scanDir visits every .json file directly under dir.
func (imp *importer) scanDir(dir string, fn func(path string, data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil // missing subtree is fine
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			imp.skip(path, "unreadable file")
			continue
		}
		if err := fn(path, data); err != nil {
			return err
		}
	}
	return nil
}

// scanNested visits every <dir>/<key>/*.json file, passing the key
// (a parent ID in the legacy layout) alongside each file.
func (imp *importer) scanNested(dir string, fn func(key, path string, data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		key := entry.Name()
		err := imp.scanDir(filepath.Join(dir, key), func(path string, data []byte) error {
			return fn(key, path, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (imp *importer) skip(path, reason string) {
	imp.skipped++
	imp.log.Warn().Str("file", path).Msg("import skipped: " + reason)
}

func affected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil || n <= 0 {
		return 0
	}
	return int(n)
}
