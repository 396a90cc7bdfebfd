package tool

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBashToolRunsCommand(t *testing.T) {
	tctx := testContext(t)

	result, err := runTool(t, NewBashTool(tctx.WorkDir), tctx, BashInput{
		Command:     "echo hello",
		Description: "Print a greeting",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "hello")
	assert.Equal(t, "Print a greeting", result.Title)
	assert.Equal(t, 0, result.Metadata["exit"])
}

func TestBashToolExitCode(t *testing.T) {
	tctx := testContext(t)

	result, err := runTool(t, NewBashTool(tctx.WorkDir), tctx, BashInput{
		Command:     "exit 3",
		Description: "Fail",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Metadata["exit"])
}

func TestBashToolAsksPerCommand(t *testing.T) {
	tctx := testContext(t)
	var keys []string
	tctx.Ask = func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
		keys = append(keys, key)
		return nil
	}

	_, err := runTool(t, NewBashTool(tctx.WorkDir), tctx, BashInput{
		Command:     "git status | head -5",
		Description: "Show status",
	})
	require.NoError(t, err)
	assert.Contains(t, keys, "bash:git status")
	assert.Contains(t, keys, "bash:head")
}

func TestBashToolDenied(t *testing.T) {
	tctx := testContext(t)
	tctx.Ask = func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
		return fmt.Errorf("permission denied for %s", key)
	}

	_, err := runTool(t, NewBashTool(tctx.WorkDir), tctx, BashInput{
		Command:     "rm -rf /tmp/whatever",
		Description: "Remove files",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestBashToolExternalPathAsk(t *testing.T) {
	tctx := testContext(t)
	var keys []string
	tctx.Ask = func(ctx context.Context, key, title string, patterns []string, metadata map[string]any) error {
		keys = append(keys, key)
		return nil
	}

	_, err := runTool(t, NewBashTool(tctx.WorkDir), tctx, BashInput{
		Command:     "touch /etc/outside.txt",
		Description: "Touch outside",
	})
	require.NoError(t, err)
	// one ask for the external path, one for the command itself
	assert.Contains(t, keys, "/etc/outside.txt")
	assert.Contains(t, keys, "bash:touch /etc/outside.txt")
}

func TestBashToolTimeout(t *testing.T) {
	tctx := testContext(t)

	result, err := runTool(t, NewBashTool(tctx.WorkDir), tctx, BashInput{
		Command:     "sleep 5",
		Timeout:     50,
		Description: "Sleep",
	})
	require.NoError(t, err)
	assert.Contains(t, result.Output, "timed out")
}
