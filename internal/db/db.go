package db

import (
	"crypto/rand"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// timeLayout is how instants are stored: UTC, second precision, sortable as text.
const timeLayout = "2006-01-02 15:04:05"

type DB struct {
	conn *sql.DB

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	// priority reads and writes are serialized per category key
	priorityLocks sync.Map
}

func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}
	dsn := path
	if path != ":memory:" {
		// pragmas in the DSN apply to every pooled connection, not just the first
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)"
	}
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	if err := addAutoColumn(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &DB{
		conn:    conn,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

// addAutoColumn upgrades an entries table that predates the auto flag. Rows
// that already carry the automatic sleep text are marked as automatic, since
// nothing else could have written them back then.
func addAutoColumn(conn *sql.DB) error {
	var n int
	err := conn.QueryRow("SELECT COUNT(*) FROM pragma_table_info('entries') WHERE name = 'auto'").Scan(&n)
	if err != nil {
		return fmt.Errorf("inspecting entries table: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := conn.Exec("ALTER TABLE entries ADD COLUMN auto INTEGER NOT NULL DEFAULT 0"); err != nil {
		return fmt.Errorf("adding auto column: %w", err)
	}
	if _, err := conn.Exec("UPDATE entries SET auto = 1 WHERE category = 'Sleep' AND text = ?", AutoSleepText); err != nil {
		return fmt.Errorf("marking automatic entries: %w", err)
	}
	return nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

// newID returns a ULID that sorts after every id this process handed out before.
func (d *DB) newID(now time.Time) string {
	d.entropyMu.Lock()
	defer d.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), d.entropy).String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing stored time %q: %w", s, err)
	}
	return t, nil
}
