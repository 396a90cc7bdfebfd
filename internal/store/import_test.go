package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/pkg/types"
)

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
}

// buildLegacyTree lays out the storage format older releases wrote:
// project/*.json, session/<project>/*.json, message/<session>/*.json,
// part/<message>/*.json, todo/<session>.json.
func buildLegacyTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	writeJSON(t, filepath.Join(dir, "project", "proj-1.json"), types.Project{
		ID: "proj-1", Worktree: "/work/demo", VCS: "git",
		Time: types.ProjectTime{Created: 1, Updated: 2},
	})

	writeJSON(t, filepath.Join(dir, "session", "proj-1", "ses_a.json"), types.Session{
		ID: "ses_a", ProjectID: "proj-1", Title: "imported",
		Time: types.SessionTime{Created: 10, Updated: 20},
	})
	// Orphan: its project was never exported.
	writeJSON(t, filepath.Join(dir, "session", "proj-ghost", "ses_orphan.json"), types.Session{
		ID: "ses_orphan", ProjectID: "proj-ghost",
		Time: types.SessionTime{Created: 10, Updated: 20},
	})

	writeJSON(t, filepath.Join(dir, "message", "ses_a", "msg_a.json"), types.Message{
		ID: "msg_a", SessionID: "ses_a", Role: "user",
		Time: types.MessageTime{Created: 11},
	})
	writeJSON(t, filepath.Join(dir, "message", "ses_orphan", "msg_orphan.json"), types.Message{
		ID: "msg_orphan", SessionID: "ses_orphan", Role: "user",
		Time: types.MessageTime{Created: 11},
	})

	writeJSON(t, filepath.Join(dir, "part", "msg_a", "prt_a.json"), types.TextPart{
		ID: "prt_a", SessionID: "ses_a", MessageID: "msg_a",
		Type: "text", Text: "hello",
	})
	writeJSON(t, filepath.Join(dir, "part", "msg_orphan", "prt_orphan.json"), types.TextPart{
		ID: "prt_orphan", SessionID: "ses_orphan", MessageID: "msg_orphan",
		Type: "text", Text: "lost",
	})

	writeJSON(t, filepath.Join(dir, "todo", "ses_a.json"), []types.Todo{
		{ID: "1", Content: "finish import", Status: types.TodoPending},
	})

	// Garbage that must be skipped, not fail the import.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "project", "junk.json"), []byte("{not json"), 0644))

	return dir
}

func TestImportLegacyTree(t *testing.T) {
	ctx := context.Background()
	dir := buildLegacyTree(t)

	s, err := Open(ctx, Options{
		Path:      filepath.Join(t.TempDir(), "agentd.db"),
		LegacyDir: dir,
	})
	require.NoError(t, err)
	defer s.Close()
	r := s.Repo()

	p, err := r.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, "/work/demo", p.Worktree)

	sess, err := r.GetSession(ctx, "ses_a")
	require.NoError(t, err)
	assert.Equal(t, "imported", sess.Title)

	msgs, err := r.ListMessages(ctx, "ses_a")
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	parts, err := r.ListParts(ctx, "msg_a")
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "hello", parts[0].(*types.TextPart).Text)

	todos, err := r.GetTodos(ctx, "ses_a")
	require.NoError(t, err)
	require.Len(t, todos, 1)

	// Orphans were skipped, not imported.
	_, err = r.GetSession(ctx, "ses_orphan")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.GetMessage(ctx, "msg_orphan")
	assert.ErrorIs(t, err, ErrNotFound)

	// Marker written last, with a timestamp.
	marker, err := os.ReadFile(filepath.Join(dir, markerFile))
	require.NoError(t, err)
	assert.NotEmpty(t, marker)
}

func TestImportRunsOnce(t *testing.T) {
	ctx := context.Background()
	dir := buildLegacyTree(t)
	path := filepath.Join(t.TempDir(), "agentd.db")

	s, err := Open(ctx, Options{Path: path, LegacyDir: dir})
	require.NoError(t, err)

	// Mutate the imported session, then reopen with the same legacy dir:
	// the marker must keep the import from clobbering live data.
	sess, err := s.Repo().GetSession(ctx, "ses_a")
	require.NoError(t, err)
	sess.Title = "edited after import"
	require.NoError(t, s.Repo().PutSession(ctx, sess))
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Path: path, LegacyDir: dir})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Repo().GetSession(ctx, "ses_a")
	require.NoError(t, err)
	assert.Equal(t, "edited after import", got.Title)
}
