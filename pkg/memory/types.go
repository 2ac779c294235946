package memory

import "time"

type Category string

const (
	CategoryPreference   Category = "preference"
	CategoryFact         Category = "fact"
	CategoryObservation  Category = "observation"
	CategoryRelationship Category = "relationship"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryPreference, CategoryFact, CategoryObservation, CategoryRelationship:
		return true
	}
	return false
}

type Source string

const (
	SourceStated   Source = "stated"
	SourceInferred Source = "inferred"
)

func (s Source) Valid() bool {
	return s == SourceStated || s == SourceInferred
}

// Entry is one persisted memory.
type Entry struct {
	ID             string
	Category       Category
	Subject        string
	Content        string
	Confidence     float64
	Source         Source
	ContactID      string
	CreatedAt      time.Time
	LastReferenced time.Time
	Active         bool
}

// Candidate is a memory proposed for storage.
type Candidate struct {
	Category   Category
	Subject    string
	Content    string
	Confidence *float64
	Source     Source
	ContactID  string
}

// Digest is the rendered memory context plus the entries it includes.
type Digest struct {
	Text    string
	Entries []Entry
}
