// Package storage opens the per-capability SQLite databases and holds the
// time helpers shared by the capability stores.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned by stores when a row id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalid wraps input validation failures.
	ErrInvalid = errors.New("invalid input")
)

// Layouts used for persisted and model-facing timestamps.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04:05"
	ClockLayout    = "15:04"
)

var pragmas = []string{
	`PRAGMA journal_mode=WAL;`,
	`PRAGMA synchronous=NORMAL;`,
	`PRAGMA temp_store=MEMORY;`,
	`PRAGMA busy_timeout=5000;`,
}

// OpenSQLite creates/opens the database at path and applies schema.
func OpenSQLite(path string, schema ...string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One process owns each database; a single connection avoids writer
	// lock contention between the turn loop and the scheduler.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	stmts := append(append([]string(nil), pragmas...), schema...)
	for _, stmt := range stmts {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init %s: %w", filepath.Base(path), err)
		}
	}
	return db, nil
}

// Clock returns the current time. Stores take one so tests can pin "now".
type Clock func() time.Time

func SystemClock() time.Time { return time.Now() }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// ParseLocal parses a date or date-time string in the local zone. Accepted
// forms: 2006-01-02, 2006-01-02T15:04, 2006-01-02T15:04:05 and the same with
// a space separator.
func ParseLocal(value string) (time.Time, error) {
	layouts := []string{
		DateTimeLayout,
		"2006-01-02T15:04",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		DateLayout,
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t.In(time.Local), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date/time %q", value)
}

// NullString maps "" to NULL.
func NullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
