package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/chris/shadow/internal/category"
)

// DefaultWeight is reported for categories without a stored weight.
const DefaultWeight = 1

func (d *DB) lockPriority(cat category.Category) func() {
	v, _ := d.priorityLocks.LoadOrStore(cat, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// SeedPriorities inserts weights for categories that have none yet. Existing
// rows are never overwritten. Returns the number of rows inserted.
func (d *DB) SeedPriorities(ctx context.Context, defaults map[category.Category]int) (int, error) {
	inserted := 0
	for _, cat := range category.All {
		w, ok := defaults[cat]
		if !ok {
			continue
		}
		unlock := d.lockPriority(cat)
		res, err := d.conn.ExecContext(ctx,
			"INSERT OR IGNORE INTO priorities (category, weight) VALUES (?, ?)",
			string(cat), w,
		)
		unlock()
		if err != nil {
			return inserted, fmt.Errorf("seeding priority %s: %w", cat, err)
		}
		n, _ := res.RowsAffected()
		inserted += int(n)
	}
	return inserted, nil
}

// UpsertPriority sets the weight for a category. Range checks are the
// caller's job.
func (d *DB) UpsertPriority(ctx context.Context, cat category.Category, weight int) error {
	defer d.lockPriority(cat)()
	_, err := d.conn.ExecContext(ctx,
		"INSERT INTO priorities (category, weight) VALUES (?, ?) ON CONFLICT(category) DO UPDATE SET weight = excluded.weight",
		string(cat), weight,
	)
	if err != nil {
		return fmt.Errorf("setting priority %s: %w", cat, err)
	}
	return nil
}

// Priority returns the weight for a category, DefaultWeight when unset.
func (d *DB) Priority(ctx context.Context, cat category.Category) (int, error) {
	defer d.lockPriority(cat)()
	var w int
	err := d.conn.QueryRowContext(ctx, "SELECT weight FROM priorities WHERE category = ?", string(cat)).Scan(&w)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultWeight, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting priority %s: %w", cat, err)
	}
	return w, nil
}

// AllPriorities returns every stored weight keyed by category.
func (d *DB) AllPriorities(ctx context.Context) (map[category.Category]int, error) {
	rows, err := d.conn.QueryContext(ctx, "SELECT category, weight FROM priorities")
	if err != nil {
		return nil, fmt.Errorf("listing priorities: %w", err)
	}
	defer rows.Close()

	out := make(map[category.Category]int)
	for rows.Next() {
		var cat string
		var w int
		if err := rows.Scan(&cat, &w); err != nil {
			return nil, fmt.Errorf("scanning priority: %w", err)
		}
		out[category.Category(cat)] = w
	}
	return out, rows.Err()
}
