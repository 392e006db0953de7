package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hindsight-sh/hindsight/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func eventAt(t *testing.T, typ types.EventType, subject string, ts time.Time) *types.Event {
	t.Helper()
	e := types.NewEvent(typ, "test", subject)
	e.Timestamp = ts
	return e
}

func TestInsertIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := types.NewEvent(types.FileModify, "filesystem", "/home/dev/main.go")
	require.NoError(t, store.Insert(ctx, e))
	require.NoError(t, store.Insert(ctx, e))

	count, err := store.Count(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInsertRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := types.NewEvent(types.GitCommit, "git", "add retry to fetcher")
	e.Repository = "/home/dev/projects/fetcher"
	e.Branch = "main"
	e.Metadata = types.Metadata{"hash": "abc123def456", "author": "dev"}
	require.NoError(t, store.Insert(ctx, e))

	got, err := store.RecentEvents(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, e.ID, got[0].ID)
	assert.Equal(t, types.GitCommit, got[0].Type)
	assert.Equal(t, e.Subject, got[0].Subject)
	assert.Equal(t, e.Repository, got[0].Repository)
	assert.Equal(t, e.Branch, got[0].Branch)
	assert.Equal(t, "abc123def456", got[0].Metadata["hash"])
	assert.Equal(t, e.Timestamp.UnixMicro(), got[0].Timestamp.UnixMicro())
}

func TestEventsInRangeBoundsAndOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var events []*types.Event
	for i := 0; i < 5; i++ {
		events = append(events, eventAt(t, types.FileModify, "/tmp/f", base.Add(time.Duration(i)*time.Minute)))
	}
	stored, err := store.InsertMany(ctx, events)
	require.NoError(t, err)
	assert.Equal(t, 5, stored)

	// Both bounds are inclusive.
	got, err := store.EventsInRange(ctx, base.Add(time.Minute), base.Add(3*time.Minute), QueryFilter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, events[3].ID, got[0].ID)
	assert.Equal(t, events[2].ID, got[1].ID)
	assert.Equal(t, events[1].ID, got[2].ID)
}

func TestEventsInRangeFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	commit := eventAt(t, types.GitCommit, "fix parser", base)
	commit.Source = "git"
	modify := eventAt(t, types.FileModify, "/tmp/parser.go", base.Add(time.Second))
	modify.Source = "filesystem"
	_, err := store.InsertMany(ctx, []*types.Event{commit, modify})
	require.NoError(t, err)

	got, err := store.EventsInRange(ctx, base, base.Add(time.Hour), QueryFilter{
		Types: []types.EventType{types.GitCommit},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, commit.ID, got[0].ID)

	got, err = store.EventsInRange(ctx, base, base.Add(time.Hour), QueryFilter{
		Sources: []string{"filesystem"},
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, modify.ID, got[0].ID)

	got, err = store.EventsInRange(ctx, base, base.Add(time.Hour), QueryFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, modify.ID, got[0].ID)
}

func TestEventsForSubjectMatchesBothColumns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	move := eventAt(t, types.FileMove, "/tmp/old/report.md", base)
	move.SubjectSecondary = "/tmp/new/report.md"
	other := eventAt(t, types.FileModify, "/tmp/unrelated.go", base.Add(time.Second))
	_, err := store.InsertMany(ctx, []*types.Event{move, other})
	require.NoError(t, err)

	got, err := store.EventsForSubject(ctx, "report.md", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, move.ID, got[0].ID)

	got, err = store.EventsForSubject(ctx, "new/report", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestEventsForRepositoryExactMatch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	in := eventAt(t, types.GitCommit, "wip", base)
	in.Repository = "/home/dev/projects/api"
	near := eventAt(t, types.GitCommit, "wip", base.Add(time.Second))
	near.Repository = "/home/dev/projects/api-client"
	_, err := store.InsertMany(ctx, []*types.Event{in, near})
	require.NoError(t, err)

	got, err := store.EventsForRepository(ctx, "/home/dev/projects/api", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, in.ID, got[0].ID)
}

func TestCountWithBounds(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Insert(ctx, eventAt(t, types.FileModify, "/tmp/f", base.Add(time.Duration(i)*time.Hour))))
	}

	count, err := store.Count(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)

	count, err = store.Count(ctx, base.Add(time.Hour), base.Add(3*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(3), count, "both bounds are inclusive")
}

func TestCountsByTypeOrderedDescending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	var events []*types.Event
	for i := 0; i < 3; i++ {
		events = append(events, eventAt(t, types.FileModify, "/tmp/f", base.Add(time.Duration(i)*time.Second)))
	}
	events = append(events, eventAt(t, types.GitCommit, "wip", base.Add(time.Minute)))
	_, err := store.InsertMany(ctx, events)
	require.NoError(t, err)

	counts, err := store.CountsByType(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, types.FileModify, counts[0].Type)
	assert.Equal(t, int64(3), counts[0].Count)
	assert.Equal(t, types.GitCommit, counts[1].Type)
}

func TestIterateAscendingAcrossBatches(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 25; i++ {
		require.NoError(t, store.Insert(ctx, eventAt(t, types.FileModify, "/tmp/f", base.Add(time.Duration(i)*time.Second))))
	}

	var seen []time.Time
	err := store.Iterate(ctx, time.Time{}, time.Time{}, 10, func(e *types.Event) error {
		seen = append(seen, e.Timestamp)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 25)
	for i := 1; i < len(seen); i++ {
		assert.False(t, seen[i].Before(seen[i-1]), "iteration must be ascending")
	}
}

func TestIterateRangeIsInclusive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		require.NoError(t, store.Insert(ctx, eventAt(t, types.FileModify, "/tmp/f", base.Add(time.Duration(i)*time.Second))))
	}

	var seen []time.Time
	err := store.Iterate(ctx, base.Add(2*time.Second), base.Add(7*time.Second), 3, func(e *types.Event) error {
		seen = append(seen, e.Timestamp)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 6)
	assert.Equal(t, base.Add(2*time.Second).UnixMicro(), seen[0].UnixMicro())
	assert.Equal(t, base.Add(7*time.Second).UnixMicro(), seen[len(seen)-1].UnixMicro())
}

func TestIterateStopsOnCallbackError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, eventAt(t, types.FileModify, "/tmp/f", base.Add(time.Duration(i)*time.Second))))
	}

	calls := 0
	err := store.Iterate(ctx, time.Time{}, time.Time{}, 2, func(e *types.Event) error {
		calls++
		if calls == 3 {
			return context.Canceled
		}
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestRecentEventsHonorsTimeBound(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old := types.NewEvent(types.FileModify, "filesystem", "/tmp/old")
	old.Timestamp = time.Now().Add(-2 * time.Hour)
	fresh := types.NewEvent(types.FileModify, "filesystem", "/tmp/fresh")
	_, err := store.InsertMany(ctx, []*types.Event{old, fresh})
	require.NoError(t, err)

	got, err := store.RecentEvents(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, fresh.ID, got[0].ID)
}

func TestOpenRejectsCorruptDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	require.NoError(t, os.WriteFile(path, []byte("this is not a sqlite file at all, padded to look like one ........................"), 0o644))

	_, err := Open(path)
	assert.Error(t, err)
}

func TestVacuum(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, types.NewEvent(types.FileModify, "filesystem", "/tmp/f")))
	assert.NoError(t, store.Vacuum(ctx))
}
