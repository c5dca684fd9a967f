package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

var base = time.Date(2026, 10, 21, 16, 0, 0, 0, time.UTC)

// --- Entries ---

func TestAppendAndListEntries(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	e, err := d.AppendEntry(ctx, category.Work, "deep work", base.Add(-time.Hour))
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, time.UTC, e.Timestamp.Location())

	entries, err := d.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, e.ID, entries[0].ID)
	assert.Equal(t, category.Work, entries[0].Category)
	assert.Equal(t, "deep work", entries[0].Text)
	assert.True(t, base.Add(-time.Hour).Equal(entries[0].Timestamp))
}

func TestAppendEntryNormalizesToUTC(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	local := time.Date(2026, 10, 21, 1, 0, 0, 0, ny)

	_, err = d.AppendEntry(ctx, category.Sleep, AutoSleepText, local)
	require.NoError(t, err)

	entries, err := d.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, local.Equal(entries[0].Timestamp))
	assert.Equal(t, 5, entries[0].Timestamp.Hour())
}

func TestEntryIDsAreMonotonic(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	var prev string
	for i := 0; i < 50; i++ {
		e, err := d.AppendEntry(ctx, category.Misc, "x", base)
		require.NoError(t, err)
		assert.Greater(t, e.ID, prev)
		prev = e.ID
	}
}

func TestAutoEntriesAreFlagged(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	auto, err := d.AppendAutoEntry(ctx, category.Sleep, AutoSleepText, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, auto.Auto)
	// same text, typed by the user
	_, err = d.AppendEntry(ctx, category.Sleep, AutoSleepText, base)
	require.NoError(t, err)

	entries, err := d.ListEntries(ctx, EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Auto)
	assert.False(t, entries[1].Auto)

	n, err := d.CountEntries(ctx, EntryFilter{Category: category.Sleep, AutoOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestOpenUpgradesEntriesWithoutAutoColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = conn.Exec(`CREATE TABLE entries (
		id TEXT PRIMARY KEY, timestamp TEXT NOT NULL, category TEXT NOT NULL, text TEXT NOT NULL)`)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO entries VALUES
		('01A', '2026-10-21 05:00:00', 'Sleep', ?),
		('01B', '2026-10-21 06:00:00', 'Work', 'deep work')`, AutoSleepText)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	d, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	entries, err := d.ListEntries(context.Background(), EntryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].Auto)
	assert.False(t, entries[1].Auto)

	// a second open finds the column and leaves the rows alone
	require.NoError(t, d.Close())
	d, err = Open(path)
	require.NoError(t, err)
	n, err := d.CountEntries(context.Background(), EntryFilter{AutoOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCountEntriesFilters(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	d.AppendAutoEntry(ctx, category.Sleep, AutoSleepText, base.Add(-2*time.Hour))
	d.AppendEntry(ctx, category.Sleep, QuickCheckInText, base.Add(-3*time.Hour))
	d.AppendEntry(ctx, category.Work, QuickCheckInText, base.Add(-4*24*time.Hour))
	d.AppendEntry(ctx, category.Leisure, "tv", base)

	tests := []struct {
		name   string
		filter EntryFilter
		want   int
	}{
		{"no filter", EntryFilter{}, 4},
		{"by category", EntryFilter{Category: category.Sleep}, 2},
		{"by text", EntryFilter{Text: AutoSleepText}, 1},
		{"category and text", EntryFilter{Category: category.Sleep, Text: QuickCheckInText}, 1},
		{"auto only", EntryFilter{AutoOnly: true}, 1},
		{"since", EntryFilter{Since: base.Add(-3 * 24 * time.Hour)}, 3},
		{"since inclusive", EntryFilter{Since: base}, 1},
		{"until exclusive", EntryFilter{Until: base}, 3},
		{"window", EntryFilter{Since: base.Add(-5 * 24 * time.Hour), Until: base.Add(-24 * time.Hour)}, 1},
		{"unknown category", EntryFilter{Category: "Gardening"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := d.CountEntries(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestCategoryCounts(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	d.AppendEntry(ctx, category.Work, "a", base)
	d.AppendEntry(ctx, category.Work, "b", base.Add(-time.Hour))
	d.AppendEntry(ctx, category.Leisure, "c", base)
	d.AppendEntry(ctx, category.Leisure, "old", base.Add(-10*24*time.Hour))

	counts, err := d.CategoryCounts(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[category.Category]int{category.Work: 2, category.Leisure: 1}, counts)
}

func TestCategoryCountsEmpty(t *testing.T) {
	d := openTestDB(t)
	counts, err := d.CategoryCounts(context.Background(), base)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

// --- Priorities ---

func TestSeedPrioritiesDoesNotOverride(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	n, err := d.SeedPriorities(ctx, category.DefaultPriorities)
	require.NoError(t, err)
	assert.Equal(t, len(category.All), n)

	require.NoError(t, d.UpsertPriority(ctx, category.Work, 2))

	n, err = d.SeedPriorities(ctx, category.DefaultPriorities)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	w, err := d.Priority(ctx, category.Work)
	require.NoError(t, err)
	assert.Equal(t, 2, w, "seeding must not revert a user-set weight")
}

func TestSeedPrioritiesFillsOnlyMissing(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertPriority(ctx, category.Leisure, 5))
	n, err := d.SeedPriorities(ctx, category.DefaultPriorities)
	require.NoError(t, err)
	assert.Equal(t, len(category.All)-1, n)

	all, err := d.AllPriorities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, all[category.Leisure])
	assert.Equal(t, 5, all[category.Sleep])
	assert.Equal(t, 1, all[category.Misc])
}

func TestPriorityDefaultsToOne(t *testing.T) {
	d := openTestDB(t)
	w, err := d.Priority(context.Background(), category.Travel)
	require.NoError(t, err)
	assert.Equal(t, DefaultWeight, w)
}

func TestUpsertPriorityReplaces(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.UpsertPriority(ctx, category.Hobbies, 3))
	require.NoError(t, d.UpsertPriority(ctx, category.Hobbies, 4))

	all, err := d.AllPriorities(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[category.Category]int{category.Hobbies: 4}, all)
}

func TestConcurrentPriorityUpserts(t *testing.T) {
	d, err := Open(filepath.Join(t.TempDir(), "concurrent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cat := category.All[i%len(category.All)]
			if err := d.UpsertPriority(ctx, cat, i%5+1); err != nil {
				errs <- fmt.Errorf("upsert %s: %w", cat, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	all, err := d.AllPriorities(ctx)
	require.NoError(t, err)
	assert.Len(t, all, len(category.All))
	for cat, w := range all {
		assert.True(t, category.ValidWeight(w), "%s has weight %d", cat, w)
	}
}

// --- Anchors ---

func TestSaveAndListAnchors(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SaveAnchor(ctx, Anchor{ChatID: "c1", Kind: AnchorHourly, NextFireAt: base, IntervalSeconds: 3600}))
	require.NoError(t, d.SaveAnchor(ctx, Anchor{ChatID: "c1", Kind: AnchorWeekly, NextFireAt: base.Add(72 * time.Hour), IntervalSeconds: 604800}))
	require.NoError(t, d.SaveAnchor(ctx, Anchor{ChatID: "c2", Kind: AnchorHourly, NextFireAt: base, IntervalSeconds: 3600}))

	// replacing keeps one row per (chat, kind)
	require.NoError(t, d.SaveAnchor(ctx, Anchor{ChatID: "c1", Kind: AnchorHourly, NextFireAt: base.Add(time.Hour), IntervalSeconds: 3600}))

	anchors, err := d.ListAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, anchors, 3)
	assert.Equal(t, "c1", anchors[0].ChatID)
	assert.Equal(t, AnchorHourly, anchors[0].Kind)
	assert.True(t, base.Add(time.Hour).Equal(anchors[0].NextFireAt))
	assert.Equal(t, AnchorWeekly, anchors[1].Kind)
	assert.Equal(t, "c2", anchors[2].ChatID)
}

func TestDeleteAnchors(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, d.SaveAnchor(ctx, Anchor{ChatID: "c1", Kind: AnchorHourly, NextFireAt: base, IntervalSeconds: 3600}))
	require.NoError(t, d.SaveAnchor(ctx, Anchor{ChatID: "c2", Kind: AnchorHourly, NextFireAt: base, IntervalSeconds: 3600}))
	require.NoError(t, d.DeleteAnchors(ctx, "c1"))

	anchors, err := d.ListAnchors(ctx)
	require.NoError(t, err)
	require.Len(t, anchors, 1)
	assert.Equal(t, "c2", anchors[0].ChatID)
}
