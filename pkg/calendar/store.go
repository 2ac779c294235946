// Package calendar stores dated events.
package calendar

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/google/uuid"
)

const defaultDurationMinutes = 60

type Event struct {
	ID              string
	Title           string
	Date            string
	Time            string
	DurationMinutes int
	Notes           string
	Participants    []string
}

// Start returns the event start in local time; all-day events start at
// midnight.
func (e Event) Start() time.Time {
	value := e.Date
	if e.Time != "" {
		value += " " + e.Time
	}
	t, err := storage.ParseLocal(value)
	if err != nil {
		return time.Time{}
	}
	return t
}

type Store struct {
	db  *sql.DB
	now storage.Clock
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		date TEXT NOT NULL,
		time TEXT NOT NULL DEFAULT '',
		duration_minutes INTEGER NOT NULL DEFAULT 60,
		notes TEXT NOT NULL DEFAULT '',
		participants_json TEXT NOT NULL DEFAULT '[]'
	);`,
	`CREATE INDEX IF NOT EXISTS events_date_time_idx ON events(date, time);`,
}

func NewStore(path string, clock storage.Clock) (*Store, error) {
	db, err := storage.OpenSQLite(path, schema...)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = storage.SystemClock
	}
	return &Store{db: db, now: clock}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, e Event) (Event, error) {
	e.Title = strings.TrimSpace(e.Title)
	if e.Title == "" {
		return Event{}, fmt.Errorf("%w: title is required", storage.ErrInvalid)
	}
	if strings.TrimSpace(e.Date) == "" {
		return Event{}, fmt.Errorf("%w: date is required", storage.ErrInvalid)
	}
	d, err := time.ParseInLocation(storage.DateLayout, strings.TrimSpace(e.Date), time.Local)
	if err != nil {
		return Event{}, fmt.Errorf("%w: date must be YYYY-MM-DD", storage.ErrInvalid)
	}
	e.Date = d.Format(storage.DateLayout)
	if e.Time != "" {
		t, err := time.Parse(storage.ClockLayout, strings.TrimSpace(e.Time))
		if err != nil {
			return Event{}, fmt.Errorf("%w: time must be HH:MM", storage.ErrInvalid)
		}
		e.Time = t.Format(storage.ClockLayout)
	}
	if e.DurationMinutes <= 0 {
		e.DurationMinutes = defaultDurationMinutes
	}
	if e.Participants == nil {
		e.Participants = []string{}
	}
	participants, err := json.Marshal(e.Participants)
	if err != nil {
		return Event{}, fmt.Errorf("encode participants: %w", err)
	}

	e.ID = "evt-" + uuid.NewString()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (id, title, date, time, duration_minutes, notes, participants_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Title, e.Date, e.Time, e.DurationMinutes, e.Notes, string(participants))
	if err != nil {
		return Event{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// Upcoming returns timed events starting within the next hoursAhead hours.
func (s *Store) Upcoming(ctx context.Context, hoursAhead int) ([]Event, error) {
	if hoursAhead <= 0 {
		hoursAhead = 24
	}
	now := s.now()
	from := now.Format("2006-01-02 15:04")
	to := now.Add(time.Duration(hoursAhead) * time.Hour).Format("2006-01-02 15:04")
	return s.query(ctx, `SELECT `+columns+` FROM events
		WHERE time != '' AND (date || ' ' || time) >= ? AND (date || ' ' || time) <= ?
		ORDER BY date, time`, from, to)
}

func (s *Store) Today(ctx context.Context) ([]Event, error) {
	return s.Range(ctx, s.now().Format(storage.DateLayout), s.now().Format(storage.DateLayout))
}

// Range returns events dated between start and end inclusive.
func (s *Store) Range(ctx context.Context, start, end string) ([]Event, error) {
	if _, err := time.Parse(storage.DateLayout, start); err != nil {
		return nil, fmt.Errorf("%w: start_date must be YYYY-MM-DD", storage.ErrInvalid)
	}
	if _, err := time.Parse(storage.DateLayout, end); err != nil {
		return nil, fmt.Errorf("%w: end_date must be YYYY-MM-DD", storage.ErrInvalid)
	}
	return s.query(ctx, `SELECT `+columns+` FROM events
		WHERE date >= ? AND date <= ?
		ORDER BY date, time`, start, end)
}

const columns = `id, title, date, time, duration_minutes, notes, participants_json`

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	out := []Event{}
	for rows.Next() {
		var e Event
		var participants string
		if err := rows.Scan(&e.ID, &e.Title, &e.Date, &e.Time, &e.DurationMinutes, &e.Notes, &participants); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(participants), &e.Participants); err != nil || e.Participants == nil {
			e.Participants = []string{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
