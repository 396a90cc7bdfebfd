package tool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextResolve(t *testing.T) {
	tctx := &Context{WorkDir: "/work"}
	assert.Equal(t, "/work/a.txt", tctx.Resolve("a.txt"))
	assert.Equal(t, "/abs/a.txt", tctx.Resolve("/abs/a.txt"))
	assert.Equal(t, "/abs/a.txt", tctx.Resolve("/abs/./a.txt"))
}

func TestFileTimes(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("one"), 0o644))

	ft := NewFileTimes()

	err := ft.Check(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been read")

	ft.MarkRead(path)
	assert.NoError(t, ft.Check(path))

	// modification after the read invalidates the entry
	future := time.Now().Add(time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
	err = ft.Check(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "modified since")

	ft.MarkRead(path)
}

func TestRegistryDefault(t *testing.T) {
	r := Default(Deps{WorkDir: t.TempDir()})

	for _, name := range []string{"read", "write", "edit", "bash", "glob", "grep", "list", "webfetch", "todowrite", "todoread", "batch"} {
		_, ok := r.Get(name)
		assert.True(t, ok, "missing tool %s", name)
	}

	infos := r.Infos()
	require.NotEmpty(t, infos)
	for _, info := range infos {
		assert.NotEmpty(t, info.Name)
		assert.NotEmpty(t, info.Description)
		assert.NotEmpty(t, info.Parameters)
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	r.Register(NewReadTool())
	r.Register(NewReadTool())
	assert.Len(t, r.List(), 1)
}
