package collector

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hindsight-sh/hindsight/pkg/types"
)

func TestParseHistoryBashTimestamps(t *testing.T) {
	content := "#1767000000\ngit status\n#1767000060\nmake test\n"

	cmds := parseHistory("bash", content)
	require.Len(t, cmds, 2)
	assert.Equal(t, "git status", cmds[0].Command)
	assert.Equal(t, time.Unix(1767000000, 0), cmds[0].Timestamp)
	assert.Equal(t, "make test", cmds[1].Command)
	assert.Equal(t, time.Unix(1767000060, 0), cmds[1].Timestamp)
}

func TestParseHistoryBashWithoutTimestamps(t *testing.T) {
	cmds := parseHistory("bash", "git log --oneline\n")
	require.Len(t, cmds, 1)
	assert.True(t, cmds[0].Timestamp.IsZero())
}

func TestParseHistoryZshExtended(t *testing.T) {
	content := ": 1767000000:0;git push origin main\n: 1767000042:3;go vet ./...\n"

	cmds := parseHistory("zsh", content)
	require.Len(t, cmds, 2)
	assert.Equal(t, "git push origin main", cmds[0].Command)
	assert.Equal(t, time.Unix(1767000000, 0), cmds[0].Timestamp)
	assert.Equal(t, "go vet ./...", cmds[1].Command)
}

func TestParseHistoryZshPlain(t *testing.T) {
	cmds := parseHistory("zsh", "docker ps\n")
	require.Len(t, cmds, 1)
	assert.Equal(t, "docker ps", cmds[0].Command)
	assert.True(t, cmds[0].Timestamp.IsZero())
}

func TestTrivialCommandMatchesBasename(t *testing.T) {
	assert.True(t, trivialCommand("ls -la"))
	assert.True(t, trivialCommand("/bin/ls"))
	assert.True(t, trivialCommand("cd /tmp"))
	assert.False(t, trivialCommand("git status"))
	assert.False(t, trivialCommand("lsof -i :8080"))
}

func TestPathTokens(t *testing.T) {
	files := pathTokens("vim ~/notes.md /etc/hosts --noplugin -u /tmp/vimrc")
	assert.Equal(t, []string{"~/notes.md", "/etc/hosts"}, files)

	many := pathTokens("cat /a /b /c /d /e /f /g")
	assert.Len(t, many, maxReferencedFiles)
}

func newTestTerminal(t *testing.T, shell, content string) (*Terminal, string, *[]*types.Event) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "history")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	term := NewTerminal(map[string]string{shell: path}, time.Minute)
	var emitted []*types.Event
	term.SetSink(func(e *types.Event) { emitted = append(emitted, e) })
	require.NoError(t, term.Start(context.Background()))
	return term, path, &emitted
}

func appendFile(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestTerminalOnlyEmitsNewCommands(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "bash", "#1767000000\nold command here\n")

	require.NoError(t, term.poll(context.Background()))
	assert.Empty(t, *emitted, "history before startup must not replay")

	appendFile(t, path, "#1767000100\ngit commit -m wip\n")
	require.NoError(t, term.poll(context.Background()))
	require.Len(t, *emitted, 1)
	assert.Equal(t, types.ShellCommand, (*emitted)[0].Type)
	assert.Equal(t, "git commit -m wip", (*emitted)[0].Subject)
	assert.Equal(t, time.Unix(1767000100, 0), (*emitted)[0].Timestamp)
}

func TestTerminalRecoversFromTruncatedHistory(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "bash", "#1767000000\nsome very long old history\n")

	// Rewrite the file smaller than the seeded offset.
	require.NoError(t, os.WriteFile(path, []byte("#1767000200\nmake build\n"), 0o600))
	require.NoError(t, term.poll(context.Background()))

	require.Len(t, *emitted, 1)
	assert.Equal(t, "make build", (*emitted)[0].Subject)
}

func TestTerminalFiltersTrivialCommands(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "bash", "")

	appendFile(t, path, "ls -la\ncd /tmp\ngit diff\n")
	require.NoError(t, term.poll(context.Background()))

	require.Len(t, *emitted, 1)
	assert.Equal(t, "git diff", (*emitted)[0].Subject)
}

func TestTerminalDeduplicatesAcrossPolls(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "bash", "")

	appendFile(t, path, "#1767000300\ngit status --short\n")
	require.NoError(t, term.poll(context.Background()))

	// Truncation forces a full re-read of the same content.
	require.NoError(t, os.WriteFile(path, []byte("#1767000300\ngit status --short\n"), 0o600))
	term.offsets[path] = 1 << 30
	require.NoError(t, term.poll(context.Background()))

	assert.Len(t, *emitted, 1)
}

func TestTerminalMarksBestEffortTimestamps(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "bash", "")

	appendFile(t, path, "git stash\n")
	require.NoError(t, term.poll(context.Background()))

	require.Len(t, *emitted, 1)
	assert.Equal(t, true, (*emitted)[0].Metadata["best_effort_time"])
	assert.WithinDuration(t, time.Now(), (*emitted)[0].Timestamp, 5*time.Second)
}

func TestTerminalTruncatesLongCommands(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "bash", "")

	appendFile(t, path, "echo "+strings.Repeat("x", 400)+"\n")
	require.NoError(t, term.poll(context.Background()))

	require.Len(t, *emitted, 1)
	assert.Len(t, (*emitted)[0].Subject, maxCommandSubject)
}

func TestTerminalReferencedFilesMetadata(t *testing.T) {
	term, path, emitted := newTestTerminal(t, "zsh", "")

	appendFile(t, path, ": 1767000400:0;vim ~/project/main.go\n")
	require.NoError(t, term.poll(context.Background()))

	require.Len(t, *emitted, 1)
	assert.Equal(t, []string{"~/project/main.go"}, (*emitted)[0].Metadata["referenced_files"])
}
