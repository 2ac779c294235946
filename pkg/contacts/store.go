// Package contacts keeps the people the user talks about and when they
// last interacted.
package contacts

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/google/uuid"
)

type Contact struct {
	ID                      string
	Name                    string
	Relationship            string
	Phone                   string
	Email                   string
	Notes                   string
	LastInteraction         string
	CommunicationPreference string
}

// updatableFields lists the columns update may touch.
var updatableFields = map[string]bool{
	"name":                     true,
	"relationship":             true,
	"phone":                    true,
	"email":                    true,
	"notes":                    true,
	"last_interaction":         true,
	"communication_preference": true,
}

type Store struct {
	db  *sql.DB
	now storage.Clock
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS contacts (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		relationship TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		last_interaction TEXT NOT NULL DEFAULT '',
		communication_preference TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS contacts_name_idx ON contacts(name COLLATE NOCASE);`,
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

func (s *Store) today() string {
	return s.now().Format(storage.DateLayout)
}

// Create inserts a contact. last_interaction starts at today.
func (s *Store) Create(ctx context.Context, c Contact) (Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return Contact{}, fmt.Errorf("%w: name is required", storage.ErrInvalid)
	}
	c.ID = "contact-" + uuid.NewString()
	if c.LastInteraction == "" {
		c.LastInteraction = s.today()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts (id, name, relationship, phone, email, notes, last_interaction, communication_preference)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Relationship, c.Phone, c.Email, c.Notes, c.LastInteraction, c.CommunicationPreference)
	if err != nil {
		return Contact{}, fmt.Errorf("insert contact: %w", err)
	}
	return c, nil
}

func (s *Store) GetByID(ctx context.Context, id string) (Contact, error) {
	rows, err := s.query(ctx, `SELECT `+columns+` FROM contacts WHERE id = ?`, id)
	if err != nil {
		return Contact{}, err
	}
	if len(rows) == 0 {
		return Contact{}, fmt.Errorf("%w: contact %s", storage.ErrNotFound, id)
	}
	return rows[0], nil
}

// FindByName matches case-insensitively, preferring an exact name over a
// partial one. ok is false when nothing matches.
func (s *Store) FindByName(ctx context.Context, name string) (Contact, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Contact{}, false, nil
	}
	rows, err := s.query(ctx, `
		SELECT `+columns+` FROM contacts
		WHERE name LIKE ? COLLATE NOCASE
		ORDER BY CASE WHEN lower(name) = lower(?) THEN 0 ELSE 1 END, name COLLATE NOCASE
		LIMIT 1`, "%"+name+"%", name)
	if err != nil {
		return Contact{}, false, err
	}
	if len(rows) == 0 {
		return Contact{}, false, nil
	}
	return rows[0], true, nil
}

func (s *Store) List(ctx context.Context) ([]Contact, error) {
	return s.query(ctx, `SELECT `+columns+` FROM contacts ORDER BY name COLLATE NOCASE`)
}

// Update applies the whitelisted fields and returns the updated contact.
func (s *Store) Update(ctx context.Context, id string, fields map[string]string) (Contact, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if updatableFields[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return Contact{}, fmt.Errorf("%w: No valid fields to update", storage.ErrInvalid)
	}
	sort.Strings(keys)

	sets := make([]string, 0, len(keys))
	args := make([]interface{}, 0, len(keys)+1)
	for _, k := range keys {
		if k == "name" && strings.TrimSpace(fields[k]) == "" {
			return Contact{}, fmt.Errorf("%w: name cannot be empty", storage.ErrInvalid)
		}
		sets = append(sets, k+" = ?")
		args = append(args, strings.TrimSpace(fields[k]))
	}
	args = append(args, id)

	res, err := s.db.ExecContext(ctx, `UPDATE contacts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return Contact{}, fmt.Errorf("update contact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Contact{}, fmt.Errorf("%w: contact %s", storage.ErrNotFound, id)
	}
	return s.GetByID(ctx, id)
}

// NoteInteraction sets last_interaction to today.
func (s *Store) NoteInteraction(ctx context.Context, id string) (Contact, error) {
	return s.Update(ctx, id, map[string]string{"last_interaction": s.today()})
}

// Neglected returns contacts whose last interaction is more than
// daysThreshold days ago, oldest first.
func (s *Store) Neglected(ctx context.Context, daysThreshold int) ([]Contact, error) {
	if daysThreshold <= 0 {
		daysThreshold = 7
	}
	cutoff := s.now().AddDate(0, 0, -daysThreshold).Format(storage.DateLayout)
	return s.query(ctx, `
		SELECT `+columns+` FROM contacts
		WHERE last_interaction != '' AND last_interaction < ?
		ORDER BY last_interaction ASC, name COLLATE NOCASE`, cutoff)
}

// DaysSince reports whole days since the contact's last interaction, or -1.
func (c Contact) DaysSince(now time.Time) int {
	last, err := storage.ParseLocal(c.LastInteraction)
	if err != nil {
		return -1
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return int(math.Round(today.Sub(last).Hours() / 24))
}

const columns = `id, name, relationship, phone, email, notes, last_interaction, communication_preference`

func (s *Store) query(ctx context.Context, q string, args ...interface{}) ([]Contact, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	out := []Contact{}
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.Name, &c.Relationship, &c.Phone, &c.Email, &c.Notes, &c.LastInteraction, &c.CommunicationPreference); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
