package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentd-dev/agentd/pkg/types"
)

// querier is satisfied by both *sql.DB and *sql.Tx so the same repository
// code serves ad-hoc calls and transactional persistence.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repo provides CRUD over projects, sessions, messages, parts, todos,
// diffs, permissions, and shares. All writes are insert-or-update by
// primary key; concurrent writers to the same row are serialised upstream
// by the per-session lock.
type Repo struct {
	q     querier
	store *Store
}

// --- projects ---

// PutProject inserts or updates a project.
func (r *Repo) PutProject(ctx context.Context, p *types.Project) error {
	sandboxes, err := json.Marshal(p.Sandboxes)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO project (id, worktree, vcs, name, icon_url, icon_color, time_created, time_updated, time_initialized, sandboxes_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	worktree = excluded.worktree,
	vcs = excluded.vcs,
	name = excluded.name,
	icon_url = excluded.icon_url,
	icon_color = excluded.icon_color,
	time_updated = excluded.time_updated,
	time_initialized = excluded.time_initialized,
	sandboxes_json = excluded.sandboxes_json`,
		p.ID, p.Worktree, p.VCS, p.Name, p.IconURL, p.IconColor,
		p.Time.Created, p.Time.Updated, p.Time.Initialized, string(sandboxes))
	if err != nil {
		return fmt.Errorf("put project %s: %w", p.ID, err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (r *Repo) GetProject(ctx context.Context, id string) (*types.Project, error) {
	row := r.q.QueryRowContext(ctx, `
SELECT id, worktree, vcs, name, icon_url, icon_color, time_created, time_updated, time_initialized, sandboxes_json
FROM project WHERE id = ?`, id)
	return scanProject(row)
}

// ListProjects returns all projects, most recently updated first.
func (r *Repo) ListProjects(ctx context.Context) ([]*types.Project, error) {
	rows, err := r.q.QueryContext(ctx, `
SELECT id, worktree, vcs, name, icon_url, icon_color, time_created, time_updated, time_initialized, sandboxes_json
FROM project ORDER BY time_updated DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project and, by cascade, everything it owns.
func (r *Repo) DeleteProject(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM project WHERE id = ?", id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*types.Project, error) {
	var p types.Project
	var vcs, name, iconURL, iconColor sql.NullString
	var initialized sql.NullInt64
	var sandboxes string
	err := row.Scan(&p.ID, &p.Worktree, &vcs, &name, &iconURL, &iconColor,
		&p.Time.Created, &p.Time.Updated, &initialized, &sandboxes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.VCS = vcs.String
	p.Name = name.String
	p.IconURL = iconURL.String
	p.IconColor = iconColor.String
	if initialized.Valid {
		p.Time.Initialized = &initialized.Int64
	}
	if err := json.Unmarshal([]byte(sandboxes), &p.Sandboxes); err != nil {
		return nil, fmt.Errorf("project %s: sandboxes: %w", p.ID, err)
	}
	return &p, nil
}

// --- sessions ---

// PutSession inserts or updates a session.
func (r *Repo) PutSession(ctx context.Context, s *types.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO session (id, project_id, parent_id, created_at, updated_at, data_json)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	parent_id = excluded.parent_id,
	updated_at = excluded.updated_at,
	data_json = excluded.data_json`,
		s.ID, s.ProjectID, s.ParentID, s.Time.Created, s.Time.Updated, string(data))
	if err != nil {
		return fmt.Errorf("put session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession fetches a session by ID.
func (r *Repo) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var data string
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM session WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var s types.Session
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return nil, fmt.Errorf("session %s: %w", id, err)
	}
	return &s, nil
}

// ListSessions returns a project's sessions, newest first.
func (r *Repo) ListSessions(ctx context.Context, projectID string) ([]*types.Session, error) {
	return r.querySessions(ctx,
		"SELECT data_json FROM session WHERE project_id = ? ORDER BY id DESC", projectID)
}

// ListChildSessions returns the forks created from a session.
func (r *Repo) ListChildSessions(ctx context.Context, parentID string) ([]*types.Session, error) {
	return r.querySessions(ctx,
		"SELECT data_json FROM session WHERE parent_id = ? ORDER BY id ASC", parentID)
}

func (r *Repo) querySessions(ctx context.Context, query string, args ...any) ([]*types.Session, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var s types.Session
		if err := json.Unmarshal([]byte(data), &s); err != nil {
			return nil, err
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and all rows it owns (messages, parts,
// todos, diffs, share) via foreign-key cascade.
func (r *Repo) DeleteSession(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM session WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- messages ---

// PutMessage inserts or updates a message.
func (r *Repo) PutMessage(ctx context.Context, m *types.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO message (id, session_id, created_at, data_json)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET data_json = excluded.data_json`,
		m.ID, m.SessionID, m.Time.Created, string(data))
	if err != nil {
		return fmt.Errorf("put message %s: %w", m.ID, err)
	}
	return nil
}

// GetMessage fetches a message by ID.
func (r *Repo) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	var data string
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM message WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var m types.Message
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("message %s: %w", id, err)
	}
	return &m, nil
}

// ListMessages returns a session's messages in conversation order. IDs are
// time-sortable, so ordering by primary key is chronological.
func (r *Repo) ListMessages(ctx context.Context, sessionID string) ([]*types.Message, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT data_json FROM message WHERE session_id = ? ORDER BY id ASC", sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Message
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var m types.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

// DeleteMessage removes a message and its parts.
func (r *Repo) DeleteMessage(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM message WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMessagesFrom removes a message and every later message in the
// session, used when reverting a session to an earlier point.
func (r *Repo) DeleteMessagesFrom(ctx context.Context, sessionID, messageID string) error {
	_, err := r.q.ExecContext(ctx,
		"DELETE FROM message WHERE session_id = ? AND id >= ?", sessionID, messageID)
	return err
}

// --- parts ---

// PutPart inserts or updates a message part.
func (r *Repo) PutPart(ctx context.Context, p types.Part) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO part (id, message_id, session_id, data_json)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET data_json = excluded.data_json`,
		p.PartID(), p.PartMessageID(), p.PartSessionID(), string(data))
	if err != nil {
		return fmt.Errorf("put part %s: %w", p.PartID(), err)
	}
	return nil
}

// GetPart fetches a part by ID.
func (r *Repo) GetPart(ctx context.Context, id string) (types.Part, error) {
	var data []byte
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM part WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return types.UnmarshalPart(data)
}

// ListParts returns a message's parts in creation order.
func (r *Repo) ListParts(ctx context.Context, messageID string) ([]types.Part, error) {
	return r.queryParts(ctx,
		"SELECT data_json FROM part WHERE message_id = ? ORDER BY id ASC", messageID)
}

// ListSessionParts returns every part in a session in creation order.
func (r *Repo) ListSessionParts(ctx context.Context, sessionID string) ([]types.Part, error) {
	return r.queryParts(ctx,
		"SELECT data_json FROM part WHERE session_id = ? ORDER BY id ASC", sessionID)
}

func (r *Repo) queryParts(ctx context.Context, query string, args ...any) ([]types.Part, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Part
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		part, err := types.UnmarshalPart(data)
		if err != nil {
			return nil, err
		}
		out = append(out, part)
	}
	return out, rows.Err()
}

// DeletePart removes a single part.
func (r *Repo) DeletePart(ctx context.Context, id string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM part WHERE id = ?", id)
	return err
}

// --- todos ---

// PutTodos replaces a session's todo list.
func (r *Repo) PutTodos(ctx context.Context, sessionID string, todos []types.Todo) error {
	data, err := json.Marshal(todos)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO todo (session_id, data_json) VALUES (?, ?)
ON CONFLICT (session_id) DO UPDATE SET data_json = excluded.data_json`,
		sessionID, string(data))
	return err
}

// GetTodos returns a session's todo list; no row means an empty list.
func (r *Repo) GetTodos(ctx context.Context, sessionID string) ([]types.Todo, error) {
	var data string
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM todo WHERE session_id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var todos []types.Todo
	if err := json.Unmarshal([]byte(data), &todos); err != nil {
		return nil, err
	}
	return todos, nil
}

// --- diffs ---

// PutDiff replaces a session's accumulated diff summary.
func (r *Repo) PutDiff(ctx context.Context, sessionID string, summary types.SessionSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO session_diff (session_id, data_json) VALUES (?, ?)
ON CONFLICT (session_id) DO UPDATE SET data_json = excluded.data_json`,
		sessionID, string(data))
	return err
}

// GetDiff returns a session's diff summary; no row means an empty summary.
func (r *Repo) GetDiff(ctx context.Context, sessionID string) (types.SessionSummary, error) {
	var data string
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM session_diff WHERE session_id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return types.SessionSummary{}, nil
	}
	if err != nil {
		return types.SessionSummary{}, err
	}
	var summary types.SessionSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		return types.SessionSummary{}, err
	}
	return summary, nil
}

// --- permissions ---

// PutProjectPermissions replaces a project's permission ruleset.
func (r *Repo) PutProjectPermissions(ctx context.Context, projectID string, rules []types.PermissionRule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO permission (project_id, data_json) VALUES (?, ?)
ON CONFLICT (project_id) DO UPDATE SET data_json = excluded.data_json`,
		projectID, string(data))
	return err
}

// GetProjectPermissions returns a project's ruleset; no row means none.
func (r *Repo) GetProjectPermissions(ctx context.Context, projectID string) ([]types.PermissionRule, error) {
	var data string
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM permission WHERE project_id = ?", projectID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rules []types.PermissionRule
	if err := json.Unmarshal([]byte(data), &rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// --- shares ---

// PutShare stores the share handle for a locally owned session.
func (r *Repo) PutShare(ctx context.Context, sessionID string, info types.ShareInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, `
INSERT INTO session_share (session_id, data_json) VALUES (?, ?)
ON CONFLICT (session_id) DO UPDATE SET data_json = excluded.data_json`,
		sessionID, string(data))
	return err
}

// GetShare fetches the share handle for a locally owned session.
func (r *Repo) GetShare(ctx context.Context, sessionID string) (*types.ShareInfo, error) {
	var data string
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM session_share WHERE session_id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var info types.ShareInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteShare removes the share handle for a session.
func (r *Repo) DeleteShare(ctx context.Context, sessionID string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM session_share WHERE session_id = ?", sessionID)
	return err
}

// PutRemoteShare stores a share downloaded from a remote. The session is
// not required to exist locally.
func (r *Repo) PutRemoteShare(ctx context.Context, sessionID string, data json.RawMessage) error {
	_, err := r.q.ExecContext(ctx, `
INSERT INTO share (session_id, data_json) VALUES (?, ?)
ON CONFLICT (session_id) DO UPDATE SET data_json = excluded.data_json`,
		sessionID, string(data))
	return err
}

// GetRemoteShare fetches a downloaded share.
func (r *Repo) GetRemoteShare(ctx context.Context, sessionID string) (json.RawMessage, error) {
	var data []byte
	err := r.q.QueryRowContext(ctx,
		"SELECT data_json FROM share WHERE session_id = ?", sessionID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}
