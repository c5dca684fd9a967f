package db

import (
	"context"
	"fmt"
	"time"
)

type AnchorKind string

const (
	AnchorHourly AnchorKind = "hourly"
	AnchorWeekly AnchorKind = "weekly"
)

// Anchor is the persisted view of one recurring per-chat fire time. NextFireAt
// is informational; on restart anchors are recomputed from the wall clock.
type Anchor struct {
	ChatID          string     `json:"chat_id"`
	Kind            AnchorKind `json:"kind"`
	NextFireAt      time.Time  `json:"next_fire_at"`
	IntervalSeconds int64      `json:"interval_seconds"`
}

// SaveAnchor inserts or replaces the anchor for (chat, kind).
func (d *DB) SaveAnchor(ctx context.Context, a Anchor) error {
	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO anchors (chat_id, kind, next_fire_at, interval_seconds) VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id, kind) DO UPDATE SET
		   next_fire_at = excluded.next_fire_at,
		   interval_seconds = excluded.interval_seconds,
		   updated_at = datetime('now')`,
		a.ChatID, string(a.Kind), formatTime(a.NextFireAt), a.IntervalSeconds,
	)
	if err != nil {
		return fmt.Errorf("saving %s anchor for %s: %w", a.Kind, a.ChatID, err)
	}
	return nil
}

// ListAnchors returns all persisted anchors ordered by chat.
func (d *DB) ListAnchors(ctx context.Context) ([]Anchor, error) {
	rows, err := d.conn.QueryContext(ctx,
		"SELECT chat_id, kind, next_fire_at, interval_seconds FROM anchors ORDER BY chat_id ASC, kind ASC")
	if err != nil {
		return nil, fmt.Errorf("listing anchors: %w", err)
	}
	defer rows.Close()

	var out []Anchor
	for rows.Next() {
		var a Anchor
		var kind, next string
		if err := rows.Scan(&a.ChatID, &kind, &next, &a.IntervalSeconds); err != nil {
			return nil, fmt.Errorf("scanning anchor: %w", err)
		}
		a.Kind = AnchorKind(kind)
		if a.NextFireAt, err = parseTime(next); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAnchors removes every anchor for a chat.
func (d *DB) DeleteAnchors(ctx context.Context, chatID string) error {
	if _, err := d.conn.ExecContext(ctx, "DELETE FROM anchors WHERE chat_id = ?", chatID); err != nil {
		return fmt.Errorf("deleting anchors for %s: %w", chatID, err)
	}
	return nil
}
