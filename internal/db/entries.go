package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chris/shadow/internal/category"
)

// Sentinel entry texts. Automatic entries are told apart by Entry.Auto, not
// by their text.
const (
	QuickCheckInText = "Quick Check-in"
	AutoSleepText    = "Auto-logged sleep"
)

type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Category  category.Category `json:"category"`
	Text      string            `json:"text"`
	// Auto marks entries the tracker wrote itself for an unanswered prompt.
	Auto bool `json:"auto"`
}

// EntryFilter narrows entry queries. Zero-valued fields are ignored; Since is
// inclusive and Until exclusive.
type EntryFilter struct {
	Category category.Category
	Text     string
	AutoOnly bool
	Since    time.Time
	Until    time.Time
}

func (f EntryFilter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.Category != "" {
		clauses = append(clauses, "category = ?")
		args = append(args, string(f.Category))
	}
	if f.Text != "" {
		clauses = append(clauses, "text = ?")
		args = append(args, f.Text)
	}
	if f.AutoOnly {
		clauses = append(clauses, "auto = 1")
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "timestamp < ?")
		args = append(args, formatTime(f.Until))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// AppendEntry records an activity. The category is stored as given; callers
// validate it against the enumeration.
func (d *DB) AppendEntry(ctx context.Context, cat category.Category, text string, at time.Time) (Entry, error) {
	return d.appendEntry(ctx, cat, text, at, false)
}

// AppendAutoEntry records an entry the tracker wrote on the user's behalf.
func (d *DB) AppendAutoEntry(ctx context.Context, cat category.Category, text string, at time.Time) (Entry, error) {
	return d.appendEntry(ctx, cat, text, at, true)
}

func (d *DB) appendEntry(ctx context.Context, cat category.Category, text string, at time.Time, auto bool) (Entry, error) {
	e := Entry{
		ID:        d.newID(time.Now()),
		Timestamp: at.UTC().Truncate(time.Second),
		Category:  cat,
		Text:      text,
		Auto:      auto,
	}
	_, err := d.conn.ExecContext(ctx,
		"INSERT INTO entries (id, timestamp, category, text, auto) VALUES (?, ?, ?, ?, ?)",
		e.ID, formatTime(e.Timestamp), string(e.Category), e.Text, e.Auto,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("appending entry: %w", err)
	}
	return e, nil
}

// CountEntries counts entries matching f.
func (d *DB) CountEntries(ctx context.Context, f EntryFilter) (int, error) {
	where, args := f.where()
	var n int
	if err := d.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries"+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting entries: %w", err)
	}
	return n, nil
}

// ListEntries returns entries matching f, oldest first.
func (d *DB) ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error) {
	where, args := f.where()
	rows, err := d.conn.QueryContext(ctx,
		"SELECT id, timestamp, category, text, auto FROM entries"+where+" ORDER BY timestamp ASC, id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("listing entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, cat string
		if err := rows.Scan(&e.ID, &ts, &cat, &e.Text, &e.Auto); err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		e.Category = category.Category(cat)
		out = append(out, e)
	}
	return out, rows.Err()
}

// CategoryCounts returns how many entries each category has at or after since.
// Categories without entries are absent from the map.
func (d *DB) CategoryCounts(ctx context.Context, since time.Time) (map[category.Category]int, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT category, COUNT(*) FROM entries WHERE timestamp >= ? GROUP BY category",
		formatTime(since),
	)
	if err != nil {
		return nil, fmt.Errorf("counting categories: %w", err)
	}
	defer rows.Close()

	out := make(map[category.Category]int)
	for rows.Next() {
		var cat string
		var n int
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, fmt.Errorf("scanning category count: %w", err)
		}
		out[category.Category(cat)] = n
	}
	return out, rows.Err()
}
