// Package reminders stores time-triggered reminders. A reminder with a cron
// repeat expression is rescheduled instead of dismissed.
package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusDismissed = "dismissed"
)

type Reminder struct {
	ID        string
	Text      string
	TriggerAt string
	Repeat    string
	Status    string
	ContactID string
}

type Store struct {
	db  *sql.DB
	now storage.Clock
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS reminders (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		trigger_at TEXT NOT NULL,
		repeat TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		contact_id TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS reminders_status_trigger_idx ON reminders(status, trigger_at);`,
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

func (s *Store) Create(ctx context.Context, r Reminder) (Reminder, error) {
	r.Text = strings.TrimSpace(r.Text)
	if r.Text == "" {
		return Reminder{}, fmt.Errorf("%w: text is required", storage.ErrInvalid)
	}
	if strings.TrimSpace(r.TriggerAt) == "" {
		return Reminder{}, fmt.Errorf("%w: trigger_at is required", storage.ErrInvalid)
	}
	at, err := storage.ParseLocal(strings.TrimSpace(r.TriggerAt))
	if err != nil {
		return Reminder{}, fmt.Errorf("%w: trigger_at: %v", storage.ErrInvalid, err)
	}
	r.TriggerAt = at.Format(storage.DateTimeLayout)
	r.Repeat = strings.TrimSpace(r.Repeat)
	if r.Repeat != "" && !validCron(r.Repeat) {
		return Reminder{}, fmt.Errorf("%w: repeat %q is not a valid cron expression", storage.ErrInvalid, r.Repeat)
	}
	r.ID = "rem-" + uuid.NewString()
	r.Status = StatusPending

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reminders (id, text, trigger_at, repeat, status, contact_id)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Text, r.TriggerAt, r.Repeat, r.Status, r.ContactID)
	if err != nil {
		return Reminder{}, fmt.Errorf("insert reminder: %w", err)
	}
	return r, nil
}

func (s *Store) Get(ctx context.Context, id string) (Reminder, error) {
	rows, err := s.query(ctx, `SELECT `+columns+` FROM reminders WHERE id = ?`, id)
	if err != nil {
		return Reminder{}, err
	}
	if len(rows) == 0 {
		return Reminder{}, fmt.Errorf("%w: reminder %s", storage.ErrNotFound, id)
	}
	return rows[0], nil
}

// Fired returns pending reminders whose trigger time has passed.
func (s *Store) Fired(ctx context.Context) ([]Reminder, error) {
	now := s.now().Format(storage.DateTimeLayout)
	return s.query(ctx, `SELECT `+columns+` FROM reminders
		WHERE status = 'pending' AND trigger_at <= ?
		ORDER BY trigger_at ASC`, now)
}

// Upcoming returns pending reminders due within the next hoursAhead hours.
func (s *Store) Upcoming(ctx context.Context, hoursAhead int) ([]Reminder, error) {
	if hoursAhead <= 0 {
		hoursAhead = 24
	}
	now := s.now()
	return s.query(ctx, `SELECT `+columns+` FROM reminders
		WHERE status = 'pending' AND trigger_at > ? AND trigger_at <= ?
		ORDER BY trigger_at ASC`,
		now.Format(storage.DateTimeLayout),
		now.Add(time.Duration(hoursAhead)*time.Hour).Format(storage.DateTimeLayout))
}

// Dismiss acknowledges a reminder. Repeating reminders move to their next
// cron tick after now and stay pending.
func (s *Store) Dismiss(ctx context.Context, id string) (Reminder, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return Reminder{}, err
	}

	if r.Repeat != "" {
		next, err := gronx.NextTickAfter(r.Repeat, s.now(), false)
		if err != nil {
			return Reminder{}, fmt.Errorf("next tick for %q: %w", r.Repeat, err)
		}
		r.TriggerAt = next.In(time.Local).Format(storage.DateTimeLayout)
		r.Status = StatusPending
	} else {
		r.Status = StatusDismissed
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET status = ?, trigger_at = ? WHERE id = ?`,
		r.Status, r.TriggerAt, r.ID); err != nil {
		return Reminder{}, fmt.Errorf("dismiss reminder: %w", err)
	}
	return r, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: reminder %s", storage.ErrNotFound, id)
	}
	return nil
}

func validCron(expr string) bool {
	g := gronx.New()
	return g.IsValid(expr)
}

const columns = `id, text, trigger_at, repeat, status, contact_id`

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Reminder, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	out := []Reminder{}
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.Text, &r.TriggerAt, &r.Repeat, &r.Status, &r.ContactID); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
