// Package tasks stores the user's to-do items.
package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/google/uuid"
)

const (
	StatusPending = "pending"
	StatusDone    = "done"
)

var validPriorities = map[string]bool{"high": true, "normal": true, "low": true}

type Task struct {
	ID          string
	Title       string
	Notes       string
	DueDate     string
	Status      string
	Priority    string
	CreatedAt   string
	CompletedAt string
}

type Store struct {
	db  *sql.DB
	now storage.Clock
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		due_date TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		priority TEXT NOT NULL DEFAULT 'normal',
		created_at TEXT NOT NULL,
		completed_at TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS tasks_status_due_idx ON tasks(status, due_date);`,
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

type CreateInput struct {
	Title    string
	Notes    string
	DueDate  string
	Priority string
}

func (s *Store) Create(ctx context.Context, in CreateInput) (Task, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Task{}, fmt.Errorf("%w: title is required", storage.ErrInvalid)
	}
	priority := strings.ToLower(strings.TrimSpace(in.Priority))
	if priority == "" {
		priority = "normal"
	}
	if !validPriorities[priority] {
		return Task{}, fmt.Errorf("%w: Invalid priority %q (use high, normal or low)", storage.ErrInvalid, in.Priority)
	}
	due := strings.TrimSpace(in.DueDate)
	if due != "" {
		d, err := storage.ParseLocal(due)
		if err != nil {
			return Task{}, fmt.Errorf("%w: due_date: %v", storage.ErrInvalid, err)
		}
		due = d.Format(storage.DateLayout)
	}

	t := Task{
		ID:        "task-" + uuid.NewString(),
		Title:     title,
		Notes:     strings.TrimSpace(in.Notes),
		DueDate:   due,
		Status:    StatusPending,
		Priority:  priority,
		CreatedAt: s.now().Format(storage.DateTimeLayout),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, notes, due_date, status, priority, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Notes, t.DueDate, t.Status, t.Priority, t.CreatedAt)
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

// List returns tasks by status ("all", "pending" or "done"); any other
// status yields an empty list.
func (s *Store) List(ctx context.Context, status string) ([]Task, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "", "all":
		return s.query(ctx, `SELECT `+columns+` FROM tasks ORDER BY `+ordering)
	case StatusPending, StatusDone:
		return s.query(ctx, `SELECT `+columns+` FROM tasks WHERE status = ? ORDER BY `+ordering, status)
	default:
		return []Task{}, nil
	}
}

func (s *Store) Get(ctx context.Context, id string) (Task, error) {
	rows, err := s.query(ctx, `SELECT `+columns+` FROM tasks WHERE id = ?`, id)
	if err != nil {
		return Task{}, err
	}
	if len(rows) == 0 {
		return Task{}, fmt.Errorf("%w: task %s", storage.ErrNotFound, id)
	}
	return rows[0], nil
}

func (s *Store) Complete(ctx context.Context, id string) (Task, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ?`,
		StatusDone, s.now().Format(storage.DateTimeLayout), id)
	if err != nil {
		return Task{}, fmt.Errorf("complete task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Task{}, fmt.Errorf("%w: task %s", storage.ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

// Overdue returns pending tasks whose due date is before today.
func (s *Store) Overdue(ctx context.Context) ([]Task, error) {
	today := s.now().Format(storage.DateLayout)
	return s.query(ctx, `SELECT `+columns+` FROM tasks
		WHERE status = 'pending' AND due_date != '' AND due_date < ?
		ORDER BY due_date ASC, `+ordering, today)
}

func (s *Store) DueToday(ctx context.Context) ([]Task, error) {
	today := s.now().Format(storage.DateLayout)
	return s.query(ctx, `SELECT `+columns+` FROM tasks
		WHERE status = 'pending' AND due_date = ?
		ORDER BY `+ordering, today)
}

const columns = `id, title, notes, due_date, status, priority, created_at, completed_at`

const ordering = `CASE priority WHEN 'high' THEN 0 WHEN 'normal' THEN 1 ELSE 2 END, created_at ASC, id ASC`

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	out := []Task{}
	for rows.Next() {
		var t Task
		if err := rows.Scan(&t.ID, &t.Title, &t.Notes, &t.DueDate, &t.Status, &t.Priority, &t.CreatedAt, &t.CompletedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return out, nil
}
