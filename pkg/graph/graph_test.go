package graph

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hindsight-sh/hindsight/pkg/types"
)

func fileEvent(path, repo string, ts time.Time) *types.Event {
	e := types.NewEvent(types.FileModify, "filesystem", path)
	e.Repository = repo
	e.Timestamp = ts
	return e
}

func commitIn(repo string, ts time.Time) *types.Event {
	e := types.NewEvent(types.GitCommit, "git", "abc123def456")
	e.Repository = repo
	e.Timestamp = ts
	return e
}

func visitTo(rawURL, domain string, ts time.Time) *types.Event {
	e := types.NewEvent(types.BrowserVisit, "browser", rawURL)
	e.Metadata = types.Metadata{"domain": domain}
	e.Timestamp = ts
	return e
}

func commandEvent(command string, ts time.Time) *types.Event {
	e := types.NewEvent(types.ShellCommand, "terminal", command)
	e.Timestamp = ts
	return e
}

// windowOf builds an activity window over the given events.
func windowOf(events ...*types.Event) *types.ActivityWindow {
	w := types.NewWindow(events[0])
	for _, e := range events[1:] {
		w.AddEvent(e)
	}
	return w
}

func TestAddEventCreatesNodesButNeverEdges(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.AddEvent(fileEvent("/home/dev/api/main.go", "/home/dev/api", ts))
	g.AddEvent(commitIn("/home/dev/api", ts.Add(time.Minute)))

	file := g.Node("file:/home/dev/api/main.go")
	require.NotNil(t, file)
	assert.Equal(t, NodeFile, file.Type)
	assert.Equal(t, int64(1), file.EventCount)

	repo := g.Node("repo:/home/dev/api")
	require.NotNil(t, repo)
	assert.Equal(t, NodeRepository, repo.Type)

	// Only windows link entities.
	assert.Empty(t, g.Neighbors(file.ID))
	assert.Empty(t, g.Neighbors(repo.ID))
	assert.Equal(t, 0, g.Summary().Edges)
}

func TestAddEventBumpsCountAndLastSeen(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.AddEvent(fileEvent("/tmp/a.go", "", ts))
	g.AddEvent(fileEvent("/tmp/a.go", "", ts.Add(time.Hour)))

	n := g.Node("file:/tmp/a.go")
	require.NotNil(t, n)
	assert.Equal(t, int64(2), n.EventCount)
	assert.Equal(t, ts, n.FirstSeen)
	assert.Equal(t, ts.Add(time.Hour), n.LastSeen)
}

func TestAddEventBrowserCreatesURLAndDomainNodes(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.AddEvent(visitTo("https://pkg.go.dev/sync", "pkg.go.dev", ts))

	require.NotNil(t, g.Node("url:https://pkg.go.dev/sync"))
	require.NotNil(t, g.Node("domain:pkg.go.dev"))
}

func TestAddEventIgnoresUnmappedTypes(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	merge := types.NewEvent(types.GitMerge, "git", "main")
	merge.Repository = "/r"
	merge.Timestamp = ts
	g.AddEvent(merge)

	// Merges and branch creation do not stand for the repository.
	assert.Equal(t, 0, g.Summary().Nodes)
}

func TestAddEventTruncatesLongValues(t *testing.T) {
	g := New()
	long := make([]byte, 400)
	for i := range long {
		long[i] = 'x'
	}
	e := types.NewEvent(types.BrowserVisit, "browser", "https://example.com/"+string(long))

	g.AddEvent(e)

	found := g.Find("example.com")
	require.Len(t, found, 1)
	assert.Len(t, found[0].Value, maxNodeValue)
}

func TestAddWindowLinksEveryPairOnce(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	w := windowOf(
		fileEvent("/p/a.py", "", ts),
		commandEvent("pytest", ts.Add(time.Minute)),
		visitTo("https://docs.python.org/3/", "docs.python.org", ts.Add(2*time.Minute)),
	)

	g.AddWindow(w)

	stats := g.Summary()
	// url node plus the three co-occurring entities.
	assert.Equal(t, 4, stats.Nodes)
	assert.Equal(t, 3, stats.Edges)

	for _, id := range []string{"file:/p/a.py", "command:pytest", "domain:docs.python.org"} {
		neighbors := g.Neighbors(id)
		require.Len(t, neighbors, 2, id)
		for _, n := range neighbors {
			assert.Equal(t, 1.0, n.Weight)
		}
	}

	// The same window again raises every weight by one.
	g.AddWindow(w)
	for _, n := range g.Neighbors("file:/p/a.py") {
		assert.Equal(t, 2.0, n.Weight)
	}
}

func TestAddWindowUsesDomainNotURL(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	w := windowOf(
		fileEvent("/home/dev/api/main.go", "", ts),
		visitTo("https://pkg.go.dev/net/http", "pkg.go.dev", ts.Add(time.Minute)),
	)
	g.AddWindow(w)

	neighbors := g.Neighbors("file:/home/dev/api/main.go")
	require.Len(t, neighbors, 1)
	assert.Equal(t, "domain:pkg.go.dev", neighbors[0].Node.ID)
	assert.Empty(t, g.Neighbors("url:https://pkg.go.dev/net/http"))
}

func TestAddWindowDeduplicatesRepeatedEntities(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	w := windowOf(
		fileEvent("/tmp/a.go", "", ts),
		fileEvent("/tmp/a.go", "", ts.Add(time.Second)),
		commandEvent("go test ./...", ts.Add(time.Minute)),
	)
	g.AddWindow(w)

	neighbors := g.Neighbors("file:/tmp/a.go")
	require.Len(t, neighbors, 1)
	assert.Equal(t, 1.0, neighbors[0].Weight, "one window counts once per pair")
}

func TestEdgeWeightsOnlyGrow(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	w := windowOf(
		fileEvent("/tmp/a.go", "", ts),
		fileEvent("/tmp/b.go", "", ts.Add(time.Second)),
	)

	var last float64
	for i := 0; i < 3; i++ {
		g.AddWindow(w)
		neighbors := g.Neighbors("file:/tmp/a.go")
		require.Len(t, neighbors, 1)
		assert.Greater(t, neighbors[0].Weight, last)
		last = neighbors[0].Weight
	}
	assert.Equal(t, 3.0, last)
}

func TestRelatedWalksAcrossHops(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	// main.go -- pytest and pytest -- other.go: other.go is two hops out.
	g.AddWindow(windowOf(
		fileEvent("/r/main.go", "", ts),
		commandEvent("pytest", ts.Add(time.Second)),
	))
	g.AddWindow(windowOf(
		fileEvent("/r/main.go", "", ts.Add(time.Hour)),
		commandEvent("pytest", ts.Add(time.Hour+time.Second)),
	))
	g.AddWindow(windowOf(
		commandEvent("pytest", ts.Add(2*time.Hour)),
		fileEvent("/r/other.go", "", ts.Add(2*time.Hour+time.Second)),
	))

	related := g.Related("file:/r/main.go", 2, 0)
	require.Len(t, related, 2)
	assert.Equal(t, "command:pytest", related[0].Node.ID)
	assert.Equal(t, 2.0, related[0].Weight)
	assert.Equal(t, "file:/r/other.go", related[1].Node.ID)
	assert.Equal(t, 1.0, related[1].Weight)
}

func TestRelatedSkipsLightEdges(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	strong := windowOf(
		fileEvent("/r/main.go", "", ts),
		commandEvent("pytest", ts.Add(time.Second)),
	)
	g.AddWindow(strong)
	g.AddWindow(strong)
	g.AddWindow(windowOf(
		fileEvent("/r/main.go", "", ts.Add(time.Hour)),
		fileEvent("/r/once.go", "", ts.Add(time.Hour+time.Second)),
	))

	related := g.Related("file:/r/main.go", 2, 2)
	require.Len(t, related, 1, "edges below the minimum weight are not traversed")
	assert.Equal(t, "command:pytest", related[0].Node.ID)
}

func TestRelatedUnknownID(t *testing.T) {
	g := New()
	assert.Empty(t, g.Related("file:/nonexistent", 2, 0))
}

func TestMostConnectedRanksByDegree(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, path := range []string{"/r/a.go", "/r/b.go", "/r/c.go"} {
		g.AddWindow(windowOf(
			fileEvent(path, "", ts.Add(time.Duration(i)*time.Hour)),
			commandEvent("make", ts.Add(time.Duration(i)*time.Hour+time.Second)),
		))
	}

	top := g.MostConnected(1)
	require.Len(t, top, 1)
	assert.Equal(t, "command:make", top[0].Node.ID)
	assert.Equal(t, 3.0, top[0].Weight, "weight carries the degree, not edge totals")
}

func TestComponents(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.AddWindow(windowOf(
		fileEvent("/r/a.go", "", ts),
		fileEvent("/r/b.go", "", ts.Add(time.Second)),
	))
	g.AddEvent(fileEvent("/island.txt", "", ts))

	components := g.Components()
	require.Len(t, components, 2)
	assert.Equal(t, []string{"file:/r/a.go", "file:/r/b.go"}, components[0])
	assert.Equal(t, []string{"file:/island.txt"}, components[1])
}

func TestSummary(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.AddWindow(windowOf(
		fileEvent("/r/a.go", "", ts),
		commitIn("/r", ts.Add(time.Minute)),
	))

	stats := g.Summary()
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 1, stats.Edges)
	assert.Equal(t, 1, stats.Components)
	assert.Equal(t, 1, stats.NodesByType[NodeFile])
	assert.Equal(t, 1, stats.NodesByType[NodeRepository])
}

func TestSaveLoadRoundTrip(t *testing.T) {
	g := New()
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g.AddWindow(windowOf(
		fileEvent("/r/a.go", "", ts),
		fileEvent("/r/b.go", "", ts.Add(time.Second)),
		commitIn("/r", ts.Add(time.Minute)),
	))

	path := filepath.Join(t.TempDir(), "graph.db")
	require.NoError(t, g.Save(path))

	loaded := New()
	ok, err := loaded.Load(path)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, g.Summary(), loaded.Summary())
	n := loaded.Node("file:/r/a.go")
	require.NotNil(t, n)
	assert.Equal(t, int64(1), n.EventCount)

	neighbors := loaded.Neighbors("repo:/r")
	assert.Len(t, neighbors, 2)
}

func TestLoadMissingSnapshotLeavesGraphEmpty(t *testing.T) {
	g := New()
	ok, err := g.Load(filepath.Join(t.TempDir(), "missing.db"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, g.Summary().Nodes)
}

func TestSaveOverwritesPreviousSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graph.db")
	ts := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	g := New()
	g.AddEvent(fileEvent("/r/a.go", "/r", ts))
	require.NoError(t, g.Save(path))

	g.Clear()
	g.AddEvent(fileEvent("/other/b.go", "", ts))
	require.NoError(t, g.Save(path))

	loaded := New()
	_, err := loaded.Load(path)
	require.NoError(t, err)
	assert.Nil(t, loaded.Node("file:/r/a.go"))
	assert.NotNil(t, loaded.Node("file:/other/b.go"))
}
