package collector

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hindsight-sh/hindsight/pkg/log"
	"github.com/hindsight-sh/hindsight/pkg/types"
)

const (
	gitCommandTimeout = 10 * time.Second
	// repoDiscoveryDepth bounds how deep under a watch root repositories are
	// searched for.
	repoDiscoveryDepth = 3
	// maxCommitsPerPoll caps how many commits one poll emits per repository.
	maxCommitsPerPoll = 10
)

type repoState struct {
	branch   string
	head     string
	branches map[string]struct{}
}

// Git polls discovered repositories for branch switches, branch creation and
// new commits. It shells out to the git binary; a repository where git fails
// is skipped for that pass.
type Git struct {
	roots    []string
	interval time.Duration
	sink     Sink
	logger   zerolog.Logger
	repos    map[string]*repoState
}

// NewGit creates a git collector scanning for repositories under the given
// roots.
func NewGit(roots []string, interval time.Duration) *Git {
	return &Git{
		roots:    roots,
		interval: interval,
		logger:   log.WithCollector("git"),
		repos:    make(map[string]*repoState),
	}
}

func (g *Git) Name() string { return "git" }

func (g *Git) SetSink(sink Sink) { g.sink = sink }

// Start discovers repositories and seeds their state so pre-existing history
// is not replayed as fresh events.
func (g *Git) Start(ctx context.Context) error {
	for _, repo := range g.discover() {
		g.seed(ctx, repo)
	}
	g.logger.Info().Int("repositories", len(g.repos)).Msg("Git collector started")
	return nil
}

func (g *Git) Run(ctx context.Context) {
	pollLoop(ctx, g.Name(), g.interval, g.scan)
}

func (g *Git) Stop() error { return nil }

// discover finds git work trees up to a few levels below each root. Hidden
// directories are not descended into.
func (g *Git) discover() []string {
	var repos []string
	seen := make(map[string]struct{})
	for _, root := range g.roots {
		g.discoverUnder(root, 0, seen, &repos)
	}
	return repos
}

func (g *Git) discoverUnder(dir string, depth int, seen map[string]struct{}, repos *[]string) {
	if _, ok := seen[dir]; ok {
		return
	}
	seen[dir] = struct{}{}

	if info, err := os.Stat(filepath.Join(dir, ".git")); err == nil && info.IsDir() {
		*repos = append(*repos, dir)
		return
	}
	if depth >= repoDiscoveryDepth {
		return
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		g.discoverUnder(filepath.Join(dir, entry.Name()), depth+1, seen, repos)
	}
}

// seed records a repository's current branch and head without emitting
// events.
func (g *Git) seed(ctx context.Context, repo string) {
	branch, err := g.git(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return
	}
	head, err := g.git(ctx, repo, "rev-parse", "HEAD")
	if err != nil {
		return
	}
	g.repos[repo] = &repoState{
		branch:   branch,
		head:     head,
		branches: map[string]struct{}{branch: {}},
	}
}

func (g *Git) scan(ctx context.Context) error {
	for _, repo := range g.discover() {
		if _, known := g.repos[repo]; !known {
			g.seed(ctx, repo)
			continue
		}
		g.checkRepo(ctx, repo)
	}
	return nil
}

func (g *Git) checkRepo(ctx context.Context, repo string) {
	st := g.repos[repo]
	branch, err := g.git(ctx, repo, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return
	}
	head, err := g.git(ctx, repo, "rev-parse", "HEAD")
	if err != nil {
		return
	}

	if branch != st.branch {
		eventType := types.GitBranchSwitch
		if _, seen := st.branches[branch]; !seen {
			eventType = types.GitBranchCreate
			st.branches[branch] = struct{}{}
		}
		e := types.NewEvent(eventType, "git", branch)
		e.SubjectSecondary = st.branch
		e.Repository = repo
		e.Branch = branch
		e.Description = fmt.Sprintf("Switched from %s to %s", st.branch, branch)
		g.sink(e)
		st.branch = branch
	}

	if head != st.head {
		g.emitCommits(ctx, repo, st.head, branch)
		st.head = head
	}
}

// emitCommits emits git.commit events for oldHead..HEAD, oldest first.
func (g *Git) emitCommits(ctx context.Context, repo, oldHead, branch string) {
	out, err := g.git(ctx, repo, "log", oldHead+"..HEAD",
		"--format=%H|%s|%an|%ci", "-n", fmt.Sprint(maxCommitsPerPoll))
	if err != nil || out == "" {
		return
	}
	lines := strings.Split(out, "\n")
	// git log is newest first; emit in commit order.
	for i := len(lines) - 1; i >= 0; i-- {
		if e := commitEvent(repo, branch, lines[i]); e != nil {
			g.sink(e)
		}
	}
}

// commitEvent builds a git.commit event from one "hash|subject|author|time"
// log line, or nil for a malformed line. The hash is the commit's identity;
// the message is narrative.
func commitEvent(repo, branch, line string) *types.Event {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return nil
	}
	hash, message, author, committed := parts[0], parts[1], parts[2], parts[3]

	e := types.NewEvent(types.GitCommit, "git", shortHash(hash))
	e.Description = "Commit: " + truncateMessage(message, 50)
	if ts, err := time.Parse("2006-01-02 15:04:05 -0700", committed); err == nil {
		e.Timestamp = ts
	}
	e.Repository = repo
	e.Branch = branch
	e.Metadata = types.Metadata{
		"author":  author,
		"message": message,
	}
	return e
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}

func truncateMessage(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// git runs one git command against repo and returns its trimmed stdout.
func (g *Git) git(ctx context.Context, repo string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, gitCommandTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", repo, "--no-pager"}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s in %s: %w", args[0], repo, err)
	}
	return strings.TrimSpace(string(out)), nil
}
