package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/google/uuid"
)

// SQLiteStore is the persistent memory storage.
type SQLiteStore struct {
	db     *sql.DB
	now    storage.Clock
	policy DigestPolicy
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		category TEXT NOT NULL,
		subject TEXT NOT NULL,
		content TEXT NOT NULL,
		confidence REAL NOT NULL DEFAULT 1,
		source TEXT NOT NULL DEFAULT 'stated',
		contact_id TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		last_referenced_ms INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);`,
	`CREATE INDEX IF NOT EXISTS memories_active_category_idx ON memories(active, category, created_at_ms);`,
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string, clock storage.Clock) (*SQLiteStore, error) {
	db, err := storage.OpenSQLite(path, schema...)
	if err != nil {
		return nil, err
	}
	if clock == nil {
		clock = storage.SystemClock
	}
	return &SQLiteStore{db: db, now: clock, policy: DefaultDigestPolicy()}, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Store validates and persists a candidate. An active entry with the same
// category, subject and content is refreshed instead of duplicated.
func (s *SQLiteStore) Store(ctx context.Context, c Candidate) (Entry, error) {
	e, err := normalize(c)
	if err != nil {
		return Entry{}, err
	}
	now := s.now()
	nowMS := now.UnixMilli()

	var existingID string
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM memories
		WHERE active = 1 AND category = ? AND lower(subject) = lower(?) AND lower(content) = lower(?)
		LIMIT 1`, string(e.Category), e.Subject, e.Content).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := s.db.ExecContext(ctx, `
			UPDATE memories SET confidence = MAX(confidence, ?), last_referenced_ms = ? WHERE id = ?`,
			e.Confidence, nowMS, existingID); err != nil {
			return Entry{}, fmt.Errorf("refresh memory: %w", err)
		}
		return s.Get(ctx, existingID)
	case !errors.Is(err, sql.ErrNoRows):
		return Entry{}, fmt.Errorf("lookup memory: %w", err)
	}

	e.ID = "mem-" + uuid.NewString()
	e.CreatedAt = time.UnixMilli(nowMS)
	e.LastReferenced = e.CreatedAt
	e.Active = true
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memories (id, category, subject, content, confidence, source, contact_id, created_at_ms, last_referenced_ms, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		e.ID, string(e.Category), e.Subject, e.Content, e.Confidence, string(e.Source), e.ContactID, nowMS, nowMS)
	if err != nil {
		return Entry{}, fmt.Errorf("insert memory: %w", err)
	}
	return e, nil
}

func normalize(c Candidate) (Entry, error) {
	e := Entry{
		Category:   Category(strings.ToLower(strings.TrimSpace(string(c.Category)))),
		Subject:    strings.TrimSpace(c.Subject),
		Content:    strings.TrimSpace(c.Content),
		Confidence: 1.0,
		Source:     Source(strings.ToLower(strings.TrimSpace(string(c.Source)))),
		ContactID:  strings.TrimSpace(c.ContactID),
	}
	if !e.Category.Valid() {
		return Entry{}, fmt.Errorf("%w: %w %q", storage.ErrInvalid, ErrInvalidCategory, c.Category)
	}
	if e.Source == "" {
		e.Source = SourceStated
	}
	if !e.Source.Valid() {
		return Entry{}, fmt.Errorf("%w: %w %q", storage.ErrInvalid, ErrInvalidSource, c.Source)
	}
	if c.Confidence != nil {
		e.Confidence = *c.Confidence
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return Entry{}, fmt.Errorf("%w: %w, got %v", storage.ErrInvalid, ErrInvalidConfidence, e.Confidence)
	}
	if e.Subject == "" || e.Content == "" {
		return Entry{}, fmt.Errorf("%w: subject and content are required", storage.ErrInvalid)
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Entry, error) {
	rows, err := s.query(ctx, `SELECT `+columns+` FROM memories WHERE id = ?`, id)
	if err != nil {
		return Entry{}, err
	}
	if len(rows) == 0 {
		return Entry{}, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return rows[0], nil
}

// Context builds the digest at the store clock's now and advances
// last_referenced on every included entry.
func (s *SQLiteStore) Context(ctx context.Context, hints []string) (Digest, error) {
	return s.ContextAt(ctx, hints, s.now())
}

// ContextAt is Context evaluated at now instead of the store clock.
func (s *SQLiteStore) ContextAt(ctx context.Context, hints []string, now time.Time) (Digest, error) {
	active, err := s.query(ctx, `SELECT `+columns+` FROM memories WHERE active = 1`)
	if err != nil {
		return Digest{}, err
	}

	included := s.policy.Select(active, now, hints)
	if len(included) == 0 {
		return Digest{}, nil
	}

	ids := make([]string, 0, len(included))
	args := make([]interface{}, 0, len(included)+1)
	args = append(args, now.UnixMilli())
	for i := range included {
		ids = append(ids, "?")
		args = append(args, included[i].ID)
		included[i].LastReferenced = time.UnixMilli(now.UnixMilli())
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE memories SET last_referenced_ms = ? WHERE id IN (`+strings.Join(ids, ",")+`)`, args...); err != nil {
		return Digest{}, fmt.Errorf("touch memories: %w", err)
	}

	return Digest{Text: Render(included), Entries: included}, nil
}

// Search matches active entries by subject or content.
func (s *SQLiteStore) Search(ctx context.Context, query string, limit int) ([]Entry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []Entry{}, nil
	}
	if limit <= 0 {
		limit = 20
	}
	like := "%" + query + "%"
	return s.query(ctx, `SELECT `+columns+` FROM memories
		WHERE active = 1 AND (subject LIKE ? COLLATE NOCASE OR content LIKE ? COLLATE NOCASE)
		ORDER BY last_referenced_ms DESC, id ASC
		LIMIT ?`, like, like, limit)
}

// Update replaces content and marks the entry referenced now.
func (s *SQLiteStore) Update(ctx context.Context, id, content string) (Entry, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Entry{}, fmt.Errorf("%w: content is required", storage.ErrInvalid)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET content = ?, last_referenced_ms = ? WHERE id = ? AND active = 1`,
		content, s.now().UnixMilli(), id)
	if err != nil {
		return Entry{}, fmt.Errorf("update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Entry{}, fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return s.Get(ctx, id)
}

func (s *SQLiteStore) Deactivate(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE memories SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deactivate memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: memory %s", storage.ErrNotFound, id)
	}
	return nil
}

const columns = `id, category, subject, content, confidence, source, contact_id, created_at_ms, last_referenced_ms, active`

func (s *SQLiteStore) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e                 Entry
			category, source  string
			createdMS, lastMS int64
			active            int
		)
		if err := rows.Scan(&e.ID, &category, &e.Subject, &e.Content, &e.Confidence, &source, &e.ContactID, &createdMS, &lastMS, &active); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		e.Category = Category(category)
		e.Source = Source(source)
		e.CreatedAt = time.UnixMilli(createdMS)
		e.LastReferenced = time.UnixMilli(lastMS)
		e.Active = active == 1
		out = append(out, e)
	}
	return out, rows.Err()
}
