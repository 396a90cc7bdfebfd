package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/internal/event"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	return &Context{
		SessionID: "ses_test",
		MessageID: "msg_test",
		CallID:    "call_1",
		WorkDir:   t.TempDir(),
		FileTimes: NewFileTimes(),
	}
}

func runTool(t *testing.T, impl Tool, tctx *Context, input any) (*Result, error) {
	t.Helper()
	raw, err := json.Marshal(input)
	require.NoError(t, err)
	return impl.Execute(context.Background(), raw, tctx)
}

func TestReadTool(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha\nbeta\ngamma"), 0o644))

	result, err := runTool(t, NewReadTool(), tctx, ReadInput{FilePath: "hello.txt"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "00001| alpha")
	assert.Contains(t, result.Output, "00003| gamma")
	assert.Contains(t, result.Output, "End of file")

	// the read marks the file fresh for editing
	assert.NoError(t, tctx.FileTimes.Check(path))
}

func TestReadToolOffsetLimit(t *testing.T) {
	tctx := testContext(t)
	var content string
	for i := 1; i <= 10; i++ {
		content += fmt.Sprintf("line%d\n", i)
	}
	path := filepath.Join(tctx.WorkDir, "long.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	result, err := runTool(t, NewReadTool(), tctx, ReadInput{FilePath: path, Offset: 3, Limit: 2})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "00003| line3")
	assert.Contains(t, result.Output, "00004| line4")
	assert.NotContains(t, result.Output, "line5")
	assert.Contains(t, result.Output, "more lines")
}

func TestReadToolBlocksEnvFiles(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("SECRET=x"), 0o644))

	_, err := runTool(t, NewReadTool(), tctx, ReadInput{FilePath: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")

	sample := filepath.Join(tctx.WorkDir, ".env.example")
	require.NoError(t, os.WriteFile(sample, []byte("SECRET="), 0o644))
	_, err = runTool(t, NewReadTool(), tctx, ReadInput{FilePath: sample})
	assert.NoError(t, err)
}

func TestReadToolMissingFile(t *testing.T) {
	tctx := testContext(t)
	_, err := runTool(t, NewReadTool(), tctx, ReadInput{FilePath: "nope.txt"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestWriteToolCreatesFileAndPublishes(t *testing.T) {
	bus := event.New()
	defer bus.Close()
	sub := bus.Subscribe(8, event.FileEdited)
	defer sub.Close()

	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "sub/dir/new.txt")

	result, err := runTool(t, NewWriteTool(bus), tctx, WriteInput{FilePath: path, Content: "hello"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "5 bytes")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	e := <-sub.Events()
	assert.Equal(t, event.FileEdited, e.Type)
}

func TestWriteToolRequiresReadBeforeOverwrite(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "exists.txt")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	_, err := runTool(t, NewWriteTool(nil), tctx, WriteInput{FilePath: path, Content: "new"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been read")

	tctx.FileTimes.MarkRead(path)
	_, err = runTool(t, NewWriteTool(nil), tctx, WriteInput{FilePath: path, Content: "new"})
	assert.NoError(t, err)
}

func TestWriteToolAsksPermission(t *testing.T) {
	tctx := testContext(t)
	var askedKey string
	tctx.Ask = func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
		askedKey = key
		return nil
	}

	path := filepath.Join(tctx.WorkDir, "new.txt")
	_, err := runTool(t, NewWriteTool(nil), tctx, WriteInput{FilePath: path, Content: "x"})
	require.NoError(t, err)
	assert.Equal(t, path, askedKey)
}

func TestWriteToolDenied(t *testing.T) {
	tctx := testContext(t)
	tctx.Ask = func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
		return fmt.Errorf("permission denied")
	}

	path := filepath.Join(tctx.WorkDir, "new.txt")
	_, err := runTool(t, NewWriteTool(nil), tctx, WriteInput{FilePath: path, Content: "x"})
	require.Error(t, err)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "denied write must not touch the file")
}

func TestEditTool(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("func old() {}\nfunc keep() {}\n"), 0o644))
	tctx.FileTimes.MarkRead(path)

	result, err := runTool(t, NewEditTool(nil), tctx, EditInput{
		FilePath:  path,
		OldString: "func old() {}",
		NewString: "func renamed() {}",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "Replaced 1")
	assert.Equal(t, 1, result.Metadata["additions"])
	assert.Equal(t, 1, result.Metadata["deletions"])

	data, _ := os.ReadFile(path)
	assert.Contains(t, string(data), "func renamed()")
	assert.Contains(t, string(data), "func keep()")
}

func TestEditToolRequiresRead(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "code.go")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	_, err := runTool(t, NewEditTool(nil), tctx, EditInput{FilePath: path, OldString: "x", NewString: "y"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has not been read")
}

func TestEditToolAmbiguousMatch(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "dup.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\na\n"), 0o644))
	tctx.FileTimes.MarkRead(path)

	_, err := runTool(t, NewEditTool(nil), tctx, EditInput{FilePath: path, OldString: "a", NewString: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "replaceAll")

	result, err := runTool(t, NewEditTool(nil), tctx, EditInput{
		FilePath: path, OldString: "a", NewString: "b", ReplaceAll: true,
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "Replaced 2")
}

func TestEditToolNotFound(t *testing.T) {
	tctx := testContext(t)
	path := filepath.Join(tctx.WorkDir, "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("completely different content"), 0o644))
	tctx.FileTimes.MarkRead(path)

	_, err := runTool(t, NewEditTool(nil), tctx, EditInput{
		FilePath: path, OldString: "no such text anywhere", NewString: "y",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListTool(t *testing.T) {
	tctx := testContext(t)
	require.NoError(t, os.WriteFile(filepath.Join(tctx.WorkDir, "a.txt"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(tctx.WorkDir, ".git"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(tctx.WorkDir, "src"), 0o755))

	result, err := runTool(t, NewListTool(), tctx, ListInput{})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "a.txt")
	assert.Contains(t, result.Output, "src")
	assert.NotContains(t, result.Output, ".git")
}

func TestGlobTool(t *testing.T) {
	tctx := testContext(t)
	require.NoError(t, os.MkdirAll(filepath.Join(tctx.WorkDir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(tctx.WorkDir, "main.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tctx.WorkDir, "pkg", "util.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tctx.WorkDir, "README.md"), []byte("x"), 0o644))

	result, err := runTool(t, NewGlobTool(), tctx, GlobInput{Pattern: "**/*.go"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "main.go")
	assert.Contains(t, result.Output, filepath.Join("pkg", "util.go"))
	assert.NotContains(t, result.Output, "README.md")

	result, err = runTool(t, NewGlobTool(), tctx, GlobInput{Pattern: "**/*.rs"})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "No files matched")
}
