package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func newTestStore(t *testing.T) (*SQLiteStore, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 2, 22, 10, 0, 0, 0, time.UTC)}
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memory.db"), clock.Now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func conf(v float64) *float64 { return &v }

func backdate(t *testing.T, s *SQLiteStore, id string, created, referenced time.Time) {
	t.Helper()
	_, err := s.db.Exec(`UPDATE memories SET created_at_ms = ?, last_referenced_ms = ? WHERE id = ?`,
		created.UnixMilli(), referenced.UnixMilli(), id)
	require.NoError(t, err)
}

func TestStore_DefaultsAndValidation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	e, err := s.Store(ctx, Candidate{Category: CategoryFact, Subject: "name", Content: "Bala"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, e.Confidence)
	assert.Equal(t, SourceStated, e.Source)
	assert.True(t, e.Active)

	_, err = s.Store(ctx, Candidate{Category: "gossip", Subject: "x", Content: "y"})
	assert.True(t, errors.Is(err, ErrInvalidCategory))
	assert.True(t, errors.Is(err, storage.ErrInvalid))

	_, err = s.Store(ctx, Candidate{Category: CategoryFact, Subject: "x", Content: "y", Source: "rumour"})
	assert.True(t, errors.Is(err, ErrInvalidSource))

	_, err = s.Store(ctx, Candidate{Category: CategoryFact, Subject: "x", Content: "y", Confidence: conf(1.5)})
	assert.True(t, errors.Is(err, ErrInvalidConfidence))
}

func TestStore_DeduplicatesActiveEntries(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first, err := s.Store(ctx, Candidate{Category: CategoryPreference, Subject: "coffee", Content: "filter coffee", Confidence: conf(0.6)})
	require.NoError(t, err)
	second, err := s.Store(ctx, Candidate{Category: CategoryPreference, Subject: "Coffee", Content: "Filter coffee", Confidence: conf(0.9)})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 0.9, second.Confidence)
}

func TestContext_ExcludesOldLowConfidenceObservations(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	obs, err := s.Store(ctx, Candidate{Category: CategoryObservation, Subject: "sleep", Content: "sleeps late", Confidence: conf(0.3), Source: SourceInferred})
	require.NoError(t, err)
	old := clock.now.AddDate(0, 0, -90)
	backdate(t, s, obs.ID, old, old)

	d, err := s.Context(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Entries)
	assert.NotContains(t, d.Text, "sleeps late")
}

func TestContext_RelationshipStaysIncluded(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	rel, err := s.Store(ctx, Candidate{Category: CategoryRelationship, Subject: "Amma", Content: "mother, lives in Chennai"})
	require.NoError(t, err)
	backdate(t, s, rel.ID, clock.now.AddDate(0, 0, -40), clock.now.AddDate(0, 0, -29))

	d, err := s.Context(ctx, nil)
	require.NoError(t, err)
	require.Len(t, d.Entries, 1)
	assert.Contains(t, d.Text, "People:\n- Amma: mother, lives in Chennai")

	clock.now = clock.now.Add(time.Minute)
	d, err = s.Context(ctx, nil)
	require.NoError(t, err)
	require.Len(t, d.Entries, 1, "relationship included once must stay included on the next assembly")

	got, err := s.Get(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, clock.now.UnixMilli(), got.LastReferenced.UnixMilli())
}

func TestContext_StaleRelationshipExcluded(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	rel, err := s.Store(ctx, Candidate{Category: CategoryRelationship, Subject: "Ravi", Content: "college friend"})
	require.NoError(t, err)
	stale := clock.now.AddDate(0, 0, -31)
	backdate(t, s, rel.ID, stale, stale)

	d, err := s.Context(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Entries)

	got, err := s.Get(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, stale.UnixMilli(), got.LastReferenced.UnixMilli(), "excluded entries are not touched")
}

func TestContext_SkipsInactive(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	e, err := s.Store(ctx, Candidate{Category: CategoryPreference, Subject: "tea", Content: "no sugar"})
	require.NoError(t, err)
	require.NoError(t, s.Deactivate(ctx, e.ID))

	d, err := s.Context(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, d.Text)
	assert.True(t, errors.Is(s.Deactivate(ctx, "mem-missing"), storage.ErrNotFound))
}

func TestSearchAndUpdate(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	e, err := s.Store(ctx, Candidate{Category: CategoryFact, Subject: "work", Content: "works at a bank"})
	require.NoError(t, err)
	_, err = s.Store(ctx, Candidate{Category: CategoryFact, Subject: "city", Content: "lives in Pune"})
	require.NoError(t, err)

	found, err := s.Search(ctx, "BANK", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, e.ID, found[0].ID)

	clock.now = clock.now.Add(time.Hour)
	updated, err := s.Update(ctx, e.ID, "works at a school")
	require.NoError(t, err)
	assert.Equal(t, "works at a school", updated.Content)
	assert.Equal(t, clock.now.UnixMilli(), updated.LastReferenced.UnixMilli())

	_, err = s.Update(ctx, "mem-missing", "x")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestCapability_StoreAndContext(t *testing.T) {
	s, _ := newTestStore(t)
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(s)))
	ctx := context.Background()

	res := reg.Dispatch(ctx, capability.ActionRequest{
		Capability: "memory",
		Action:     "store",
		Params: capability.Record{
			"category":   "preference",
			"subject":    "music",
			"content":    "likes Carnatic music",
			"confidence": 0.9,
		},
	})
	require.True(t, res.OK(), "error: %v", res.Err)

	res = reg.Dispatch(ctx, capability.ActionRequest{Capability: "memory", Action: "get_context", Params: capability.Record{"topic": "play something"}})
	require.True(t, res.OK())
	out := res.Value.(capability.Record)
	assert.Contains(t, out["context"], "likes Carnatic music")
	assert.Len(t, out["entry_ids"], 1)

	res = reg.Dispatch(ctx, capability.ActionRequest{Capability: "memory", Action: "store", Params: capability.Record{"category": "vibe", "subject": "x", "content": "y"}})
	require.NotNil(t, res.Err)
	assert.Equal(t, capability.KindValidation, res.Err.Kind)
}

func TestCapability_StoreCoercesConfidence(t *testing.T) {
	s, _ := newTestStore(t)
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(s)))
	ctx := context.Background()

	store := func(subject string, confidence interface{}) capability.ActionResult {
		return reg.Dispatch(ctx, capability.ActionRequest{
			Capability: "memory",
			Action:     "store",
			Params: capability.Record{
				"category":   "fact",
				"subject":    subject,
				"content":    "content for " + subject,
				"confidence": confidence,
			},
		})
	}

	res := store("quoted", "0.5")
	require.True(t, res.OK(), "error: %v", res.Err)
	assert.Equal(t, 0.5, res.Value.(capability.Record)["confidence"])

	for _, bad := range []interface{}{"high", "NaN", true} {
		res = store("bad", bad)
		require.NotNil(t, res.Err, "confidence %v", bad)
		assert.Equal(t, capability.KindValidation, res.Err.Kind)
	}

	// A quoted low-confidence fact stays below the digest threshold.
	d, err := s.Context(ctx, nil)
	require.NoError(t, err)
	assert.NotContains(t, d.Text, "content for quoted")
}

func TestCandidateFromRecord(t *testing.T) {
	c, err := CandidateFromRecord(capability.Record{"category": "fact", "subject": "s", "content": "c", "confidence": 1})
	require.NoError(t, err)
	require.NotNil(t, c.Confidence)
	assert.Equal(t, 1.0, *c.Confidence)

	c, err = CandidateFromRecord(capability.Record{"category": "fact", "subject": "s", "content": "c", "confidence": nil})
	require.NoError(t, err)
	assert.Nil(t, c.Confidence)

	_, err = CandidateFromRecord(capability.Record{"confidence": "very"})
	assert.True(t, errors.Is(err, ErrInvalidConfidence))
	assert.True(t, errors.Is(err, storage.ErrInvalid))
}

func TestContextAt_UsesGivenTime(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	e, err := s.Store(ctx, Candidate{Category: CategoryRelationship, Subject: "Ravi", Content: "Ravi is my brother"})
	require.NoError(t, err)
	backdate(t, s, e.ID, clock.now.Add(-40*24*time.Hour), clock.now.Add(-20*24*time.Hour))

	later := clock.now.Add(15 * 24 * time.Hour)
	d, err := s.ContextAt(ctx, nil, later)
	require.NoError(t, err)
	assert.Empty(t, d.Entries)

	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(s)))
	res := reg.Dispatch(ctx, capability.ActionRequest{
		Capability: "memory",
		Action:     "get_context",
		Params:     capability.Record{"at": clock.now.Format(time.RFC3339)},
	})
	require.True(t, res.OK(), "error: %v", res.Err)
	assert.Contains(t, res.Value.(capability.Record)["context"], "Ravi is my brother")

	res = reg.Dispatch(ctx, capability.ActionRequest{
		Capability: "memory",
		Action:     "get_context",
		Params:     capability.Record{"at": "someday"},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, capability.KindValidation, res.Err.Kind)
}
