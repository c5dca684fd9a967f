// Package insight computes the weekly behavioral signals from the entry log.
// Every detector is a read-only query anchored at a caller-supplied "now";
// none of them depends on another.
package insight

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chris/shadow/internal/category"
	"github.com/chris/shadow/internal/db"
	"github.com/chris/shadow/internal/localtime"
)

const (
	NeglectWindow    = 3 * 24 * time.Hour
	NeglectMinWeight = 4

	AvoidanceWindow    = 7 * 24 * time.Hour
	AvoidanceThreshold = 5

	WorktimeLeisureWindow    = 3 * 24 * time.Hour
	WorktimeLeisureThreshold = 4
)

// Store is the read side of the entry and priority tables.
type Store interface {
	AllPriorities(ctx context.Context) (map[category.Category]int, error)
	CountEntries(ctx context.Context, f db.EntryFilter) (int, error)
	ListEntries(ctx context.Context, f db.EntryFilter) ([]db.Entry, error)
}

// Neglect lists high-priority categories with no entries in the window.
type Neglect struct {
	Categories []category.Category
	Weights    map[category.Category]int
	// TopPriorityAbsent is set when a neglected category has the maximum weight.
	TopPriorityAbsent bool
}

func (n Neglect) Found() bool { return len(n.Categories) > 0 }

type Avoidance struct {
	MissedCheckIns int
	Flagged        bool
}

type WorktimeLeisure struct {
	Count   int
	Flagged bool
}

// DetectNeglect checks every category weighted NeglectMinWeight or higher for
// entries in the last NeglectWindow.
func DetectNeglect(ctx context.Context, s Store, now time.Time) (Neglect, error) {
	priorities, err := s.AllPriorities(ctx)
	if err != nil {
		return Neglect{}, fmt.Errorf("loading priorities: %w", err)
	}

	var candidates []category.Category
	for cat, w := range priorities {
		if w >= NeglectMinWeight {
			candidates = append(candidates, cat)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return category.Index(candidates[i]) < category.Index(candidates[j])
	})

	out := Neglect{Weights: make(map[category.Category]int)}
	since := now.Add(-NeglectWindow)
	for _, cat := range candidates {
		n, err := s.CountEntries(ctx, db.EntryFilter{Category: cat, Since: since})
		if err != nil {
			return Neglect{}, fmt.Errorf("counting %s entries: %w", cat, err)
		}
		if n > 0 {
			continue
		}
		w := priorities[cat]
		out.Categories = append(out.Categories, cat)
		out.Weights[cat] = w
		if w == category.MaxWeight {
			out.TopPriorityAbsent = true
		}
	}
	return out, nil
}

// DetectAvoidance counts automatic sleep entries, which only exist when a
// prompt went unanswered at night.
func DetectAvoidance(ctx context.Context, s Store, now time.Time) (Avoidance, error) {
	n, err := s.CountEntries(ctx, db.EntryFilter{
		Category: category.Sleep,
		AutoOnly: true,
		Since:    now.Add(-AvoidanceWindow),
	})
	if err != nil {
		return Avoidance{}, fmt.Errorf("counting missed check-ins: %w", err)
	}
	return Avoidance{MissedCheckIns: n, Flagged: n >= AvoidanceThreshold}, nil
}

// DetectWorktimeLeisure counts Leisure entries whose local time falls inside
// core work hours.
func DetectWorktimeLeisure(ctx context.Context, s Store, zone localtime.Zone, now time.Time) (WorktimeLeisure, error) {
	entries, err := s.ListEntries(ctx, db.EntryFilter{
		Category: category.Leisure,
		Since:    now.Add(-WorktimeLeisureWindow),
	})
	if err != nil {
		return WorktimeLeisure{}, fmt.Errorf("listing leisure entries: %w", err)
	}
	var out WorktimeLeisure
	for _, e := range entries {
		if zone.IsCoreWorkHours(e.Timestamp) {
			out.Count++
		}
	}
	out.Flagged = out.Count >= WorktimeLeisureThreshold
	return out, nil
}
