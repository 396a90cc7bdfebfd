package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/pkg/types"
)

// isolate points HOME and the XDG roots at a temp directory so host
// configuration cannot leak into the test.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(tmp, ".config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(tmp, ".local", "share"))
	return tmp
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestLoadProjectConfigWithOptions(t *testing.T) {
	tmp := isolate(t)

	writeFile(t, filepath.Join(tmp, "agentd.json"), `{
		"model": "anthropic/claude-sonnet-4",
		"smallModel": "anthropic/claude-haiku-3-5",
		"username": "testuser",
		"provider": {
			"anthropic": {
				"options": {"apiKey": "sk-ant-test123"}
			}
		},
		"agent": {
			"build": {
				"temperature": 0.7,
				"tools": {"bash": true, "edit": true}
			}
		}
	}`)

	cfg, err := Load(tmp)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Model)
	assert.Equal(t, "anthropic/claude-haiku-3-5", cfg.SmallModel)
	assert.Equal(t, "testuser", cfg.Username)
	// Options block folded into the direct field.
	assert.Equal(t, "sk-ant-test123", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, 0.7, cfg.Agent["build"].Temperature)
	assert.True(t, cfg.Agent["build"].Tools["bash"])
}

func TestLoadJSONCAndInterpolation(t *testing.T) {
	tmp := isolate(t)
	t.Setenv("TEST_API_KEY", "from-env")

	writeFile(t, filepath.Join(tmp, "key.txt"), "from-file\n")
	writeFile(t, filepath.Join(tmp, "agentd.jsonc"), `{
		// comment survives jsonc stripping
		"provider": {
			"anthropic": {"apiKey": "{env:TEST_API_KEY}"},
			"openai": {"apiKey": "{file:key.txt}"}
		}
	}`)

	cfg, err := Load(tmp)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Provider["anthropic"].APIKey)
	assert.Equal(t, "from-file", cfg.Provider["openai"].APIKey)
}

func TestProjectOverridesGlobal(t *testing.T) {
	tmp := isolate(t)

	writeFile(t, filepath.Join(tmp, ".config", "agentd", "agentd.json"),
		`{"model": "openai/gpt-4o", "username": "global"}`)

	project := filepath.Join(tmp, "work")
	writeFile(t, filepath.Join(project, ".agentd", "agentd.json"),
		`{"model": "anthropic/claude-sonnet-4"}`)

	cfg, err := Load(project)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Model)
	// Fields absent from the project file keep the global values.
	assert.Equal(t, "global", cfg.Username)
}

func TestEnvOverridesEverything(t *testing.T) {
	tmp := isolate(t)

	writeFile(t, filepath.Join(tmp, "agentd.json"),
		`{"model": "openai/gpt-4o"}`)

	t.Setenv("AGENTD_MODEL", "anthropic/claude-opus-4")
	t.Setenv("AGENTD_PERMISSION", `[{"pattern": "bash:*", "action": "ask"}]`)
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-env")

	cfg, err := Load(tmp)
	require.NoError(t, err)

	assert.Equal(t, "anthropic/claude-opus-4", cfg.Model)
	assert.Equal(t, "sk-ant-env", cfg.Provider["anthropic"].APIKey)
	require.Len(t, cfg.Permission, 1)
	assert.Equal(t, "bash:*", cfg.Permission[0].Pattern)
	assert.Equal(t, types.ActionAsk, cfg.Permission[0].Action)
}

func TestDotEnvFeedsInterpolation(t *testing.T) {
	tmp := isolate(t)

	writeFile(t, filepath.Join(tmp, ".env"), "DOTENV_KEY=sk-dotenv\n")
	writeFile(t, filepath.Join(tmp, "agentd.json"), `{
		"provider": {"anthropic": {"apiKey": "{env:DOTENV_KEY}"}}
	}`)

	cfg, err := Load(tmp)
	require.NoError(t, err)
	assert.Equal(t, "sk-dotenv", cfg.Provider["anthropic"].APIKey)
}

func TestInlineConfigContent(t *testing.T) {
	tmp := isolate(t)
	t.Setenv("AGENTD_CONFIG_CONTENT", `{"smallModel": "openai/gpt-4o-mini"}`)

	cfg, err := Load(tmp)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.SmallModel)
}

func TestSaveRoundTrip(t *testing.T) {
	tmp := isolate(t)
	path := filepath.Join(tmp, "nested", "agentd.json")

	in := &types.Config{Model: "anthropic/claude-sonnet-4"}
	require.NoError(t, Save(in, path))

	writeFileExists, err := os.Stat(path)
	require.NoError(t, err)
	assert.False(t, writeFileExists.IsDir())

	cfg, err := Load(filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-sonnet-4", cfg.Model)
}
