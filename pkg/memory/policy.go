package memory

import (
	"sort"
	"strings"
	"time"
	"unicode"
)

// DigestPolicy decides which memories enter the prompt context.
type DigestPolicy struct {
	FactMinConfidence        float64
	RelationshipWindow       time.Duration
	ObservationMinConfidence float64
	ObservationMaxAge        time.Duration
	MinHintLength            int
}

func DefaultDigestPolicy() DigestPolicy {
	return DigestPolicy{
		FactMinConfidence:        0.8,
		RelationshipWindow:       30 * 24 * time.Hour,
		ObservationMinConfidence: 0.5,
		ObservationMaxAge:        60 * 24 * time.Hour,
		MinHintLength:            4,
	}
}

// Include reports whether e belongs in the digest at now. terms are
// relevance terms for observations; with no terms every recent,
// confident observation counts as relevant.
func (p DigestPolicy) Include(e Entry, now time.Time, terms []string) bool {
	if !e.Active {
		return false
	}
	switch e.Category {
	case CategoryPreference:
		return true
	case CategoryFact:
		return e.Confidence >= p.FactMinConfidence
	case CategoryRelationship:
		return now.Sub(e.LastReferenced) <= p.RelationshipWindow
	case CategoryObservation:
		age := now.Sub(e.CreatedAt)
		if e.Confidence < p.ObservationMinConfidence || age > p.ObservationMaxAge {
			return false
		}
		return relevant(e, terms)
	default:
		return false
	}
}

// Select filters entries and orders them by category, then creation time.
func (p DigestPolicy) Select(entries []Entry, now time.Time, hints []string) []Entry {
	terms := p.Terms(hints)
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if p.Include(e, now, terms) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ci, cj := categoryRank(out[i].Category), categoryRank(out[j].Category)
		if ci != cj {
			return ci < cj
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Terms splits hints into lower-cased words of at least MinHintLength
// letters, de-duplicated and sorted.
func (p DigestPolicy) Terms(hints []string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, h := range hints {
		for _, w := range strings.FieldsFunc(strings.ToLower(h), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			if len([]rune(w)) < p.MinHintLength || seen[w] {
				continue
			}
			seen[w] = true
			terms = append(terms, w)
		}
	}
	sort.Strings(terms)
	return terms
}

func relevant(e Entry, terms []string) bool {
	if len(terms) == 0 {
		return true
	}
	text := strings.ToLower(e.Subject + " " + e.Content)
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

func categoryRank(c Category) int {
	switch c {
	case CategoryFact:
		return 0
	case CategoryPreference:
		return 1
	case CategoryRelationship:
		return 2
	default:
		return 3
	}
}

// Render writes the digest as natural-language sections.
func Render(entries []Entry) string {
	var about, people, patterns []string
	for _, e := range entries {
		line := "- " + e.Subject + ": " + e.Content
		switch e.Category {
		case CategoryFact, CategoryPreference:
			about = append(about, line)
		case CategoryRelationship:
			people = append(people, line)
		case CategoryObservation:
			patterns = append(patterns, line)
		}
	}

	var sections []string
	if len(about) > 0 {
		sections = append(sections, "About the user:\n"+strings.Join(about, "\n"))
	}
	if len(people) > 0 {
		sections = append(sections, "People:\n"+strings.Join(people, "\n"))
	}
	if len(patterns) > 0 {
		sections = append(sections, "Current patterns:\n"+strings.Join(patterns, "\n"))
	}
	return strings.Join(sections, "\n\n")
}
