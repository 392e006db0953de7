package collector

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

const (
	maxCommandSubject  = 200
	maxReferencedFiles = 5
	dedupKeyCommandLen = 100
)

// zshExtendedEntry matches zsh EXTENDED_HISTORY lines: ": <epoch>:<dur>;cmd".
var zshExtendedEntry = regexp.MustCompile(`^: (\d+):(\d+);(.*)$`)

// Terminal tails shell history files and emits shell.command events. Each
// file is read from the last seen byte offset; offsets are seeded to the end
// of the file at startup so old history is never replayed.
type Terminal struct {
	histories map[string]string
	interval  time.Duration
	sink      Sink
	logger    zerolog.Logger

	offsets map[string]int64
	dedup   *dedupCache
}

// NewTerminal creates a terminal collector over the given shell history
// files, keyed by shell name.
func NewTerminal(histories map[string]string, interval time.Duration) *Terminal {
	return &Terminal{
		histories: histories,
		interval:  interval,
		logger:    log.WithCollector("terminal"),
		offsets:   make(map[string]int64),
		dedup:     newDedupCache(10000),
	}
}

func (t *Terminal) Name() string { return "terminal" }

func (t *Terminal) SetSink(sink Sink) { t.sink = sink }

// Start seeds every history file's offset to its current end.
func (t *Terminal) Start(ctx context.Context) error {
	for shell, path := range t.histories {
		info, err := os.Stat(path)
		if err != nil {
			t.logger.Debug().Err(err).Str("shell", shell).Msg("History file unavailable")
			continue
		}
		t.offsets[path] = info.Size()
	}
	t.logger.Info().Int("histories", len(t.offsets)).Msg("Terminal collector started")
	return nil
}

func (t *Terminal) Run(ctx context.Context) {
	pollLoop(ctx, t.Name(), t.interval, t.poll)
}

func (t *Terminal) Stop() error { return nil }

func (t *Terminal) poll(ctx context.Context) error {
	var firstErr error
	for shell, path := range t.histories {
		if err := t.pollFile(shell, path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Terminal) pollFile(shell, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat history %s: %w", path, err)
	}

	offset := t.offsets[path]
	if info.Size() < offset {
		// History was trimmed or rewritten; start over from the top.
		offset = 0
	}
	if info.Size() == offset {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open history %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek history %s: %w", path, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("failed to read history %s: %w", path, err)
	}
	t.offsets[path] = offset + int64(len(data))

	for _, cmd := range parseHistory(shell, string(data)) {
		t.emit(shell, cmd)
	}
	return nil
}

// historyCommand is one parsed history entry. When the file carries no
// timestamps, Timestamp is zero.
type historyCommand struct {
	Command   string
	Timestamp time.Time
}

// parseHistory extracts commands from a chunk of history file content.
func parseHistory(shell, content string) []historyCommand {
	var out []historyCommand
	var pending time.Time

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}

		if shell == "zsh" {
			if m := zshExtendedEntry.FindStringSubmatch(line); m != nil {
				epoch, _ := strconv.ParseInt(m[1], 10, 64)
				cmd := strings.TrimSpace(m[3])
				if cmd != "" {
					out = append(out, historyCommand{Command: cmd, Timestamp: time.Unix(epoch, 0)})
				}
				continue
			}
			// Plain zsh history without EXTENDED_HISTORY.
			out = append(out, historyCommand{Command: line})
			continue
		}

		// bash: a "#<epoch>" line timestamps the following command.
		if strings.HasPrefix(line, "#") {
			if epoch, err := strconv.ParseInt(line[1:], 10, 64); err == nil {
				pending = time.Unix(epoch, 0)
				continue
			}
		}
		out = append(out, historyCommand{Command: line, Timestamp: pending})
		pending = time.Time{}
	}
	return out
}

func (t *Terminal) emit(shell string, cmd historyCommand) {
	command := strings.TrimSpace(cmd.Command)
	if command == "" || trivialCommand(command) {
		return
	}

	ts := cmd.Timestamp
	bestEffort := ts.IsZero()
	if bestEffort {
		ts = time.Now()
	}

	key := ts.Format(time.RFC3339) + ":" + truncateCommand(command, dedupKeyCommandLen)
	if t.dedup.Seen(key) {
		return
	}

	e := types.NewEvent(types.ShellCommand, "terminal", truncateCommand(command, maxCommandSubject))
	e.Timestamp = ts
	e.Metadata = types.Metadata{"shell": shell}
	if bestEffort {
		e.Metadata["best_effort_time"] = true
	}
	if files := pathTokens(command); len(files) > 0 {
		e.Metadata["referenced_files"] = files
	}
	t.sink(e)
}

// trivialCommand filters commands like ls and cd that carry no task signal.
// The first token's basename is what gets matched, so /bin/ls counts too.
func trivialCommand(command string) bool {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return true
	}
	_, ok := ignoreCommands[filepath.Base(fields[0])]
	return ok
}

// pathTokens returns up to a handful of path-looking arguments.
func pathTokens(command string) []string {
	var out []string
	for _, token := range strings.Fields(command)[1:] {
		if strings.HasPrefix(token, "-") {
			continue
		}
		if strings.Contains(token, "/") || strings.HasPrefix(token, "~") {
			out = append(out, token)
			if len(out) == maxReferencedFiles {
				break
			}
		}
	}
	return out
}

func truncateCommand(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
