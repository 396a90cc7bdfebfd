package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommandsSimple(t *testing.T) {
	cmds, err := ParseCommands("git commit -m 'fix bug'")
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	assert.Equal(t, "git", cmds[0].Name)
	assert.Equal(t, "commit", cmds[0].Subcommand)
	assert.Equal(t, []string{"commit", "-m", "fix bug"}, cmds[0].Args)
}

func TestParseCommandsPipeline(t *testing.T) {
	cmds, err := ParseCommands("cat foo.txt | grep bar && rm baz")
	require.NoError(t, err)
	require.Len(t, cmds, 3)

	names := []string{cmds[0].Name, cmds[1].Name, cmds[2].Name}
	assert.Equal(t, []string{"cat", "grep", "rm"}, names)
}

func TestParseCommandsSubstitutionIsOpaque(t *testing.T) {
	cmds, err := ParseCommands(`echo "$(whoami)"`)
	require.NoError(t, err)

	// The substitution body appears as its own command; the outer echo
	// argument stays an opaque marker rather than its expansion.
	var echo *Command
	for i := range cmds {
		if cmds[i].Name == "echo" {
			echo = &cmds[i]
		}
	}
	require.NotNil(t, echo)
	assert.Contains(t, echo.Args[0], "$()")
}

func TestParseCommandsInvalid(t *testing.T) {
	_, err := ParseCommands("if [ ; then")
	require.Error(t, err)
}

func TestKeysAndPatterns(t *testing.T) {
	cmd := Command{Name: "git", Subcommand: "push", Args: []string{"push", "origin"}}
	assert.Equal(t, "bash:git push", cmd.Key())
	assert.Equal(t, "bash:git push*", cmd.Pattern())

	bare := Command{Name: "ls"}
	assert.Equal(t, "bash:ls", bare.Key())
	assert.Equal(t, "bash:ls*", bare.Pattern())
}

func TestPatternsDedupAndSkipCd(t *testing.T) {
	patterns := Patterns([]Command{
		{Name: "cd", Args: []string{"/tmp"}, Subcommand: "/tmp"},
		{Name: "git", Subcommand: "status"},
		{Name: "git", Subcommand: "status"},
		{Name: "rm"},
	})
	assert.Equal(t, []string{"bash:git status*", "bash:rm*"}, patterns)
}

func TestPathArgs(t *testing.T) {
	cmd := Command{Name: "rm", Args: []string{"-rf", "build", "dist"}}
	assert.Equal(t, []string{"build", "dist"}, PathArgs(cmd))

	chmod := Command{Name: "chmod", Args: []string{"u+x", "script.sh"}}
	assert.Equal(t, []string{"script.sh"}, PathArgs(chmod))
}

func TestWithinDir(t *testing.T) {
	assert.True(t, WithinDir("/work/demo/src/a.go", "/work/demo"))
	assert.True(t, WithinDir("/work/demo", "/work/demo"))
	assert.False(t, WithinDir("/work/other", "/work/demo"))
	assert.False(t, WithinDir("/work/demo/../escape", "/work/demo"))
}

func TestLoopDetector(t *testing.T) {
	d := NewLoopDetector()
	input := map[string]any{"command": "ls"}

	assert.False(t, d.Check("ses_1", "bash", input))
	assert.False(t, d.Check("ses_1", "bash", input))
	// Third identical call in a row trips the detector.
	assert.True(t, d.Check("ses_1", "bash", input))

	// A different call breaks the run.
	assert.False(t, d.Check("ses_1", "bash", map[string]any{"command": "pwd"}))
	assert.False(t, d.Check("ses_1", "bash", input))

	// Sessions are independent.
	assert.False(t, d.Check("ses_2", "bash", input))

	d.Clear("ses_1")
	assert.False(t, d.Check("ses_1", "bash", input))
}
