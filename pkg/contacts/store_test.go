package contacts

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

var fixedNow = time.Date(2026, 2, 22, 10, 0, 0, 0, time.Local)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(filepath.Join(t.TempDir(), "contacts.db"), storage.FixedClock(fixedNow))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func daysAgo(n int) string {
	return fixedNow.AddDate(0, 0, -n).Format(storage.DateLayout)
}

func TestCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c, err := s.Create(ctx, Contact{Name: "Amma", Relationship: "mother"})
	require.NoError(t, err)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "2026-02-22", c.LastInteraction)

	_, err = s.Create(ctx, Contact{Relationship: "friend"})
	assert.True(t, errors.Is(err, storage.ErrInvalid))
}

func TestFindByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Contact{Name: "Rajesh Kumar"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Contact{Name: "Amma"})
	require.NoError(t, err)

	c, ok, err := s.FindByName(ctx, "raj")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Rajesh Kumar", c.Name)

	c, ok, err = s.FindByName(ctx, "amma")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Amma", c.Name)

	_, ok, err = s.FindByName(ctx, "Nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestList_OrderedByName(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, _ = s.Create(ctx, Contact{Name: "Zara"})
	_, _ = s.Create(ctx, Contact{Name: "Amma"})

	cs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "Amma", cs[0].Name)
	assert.Equal(t, "Zara", cs[1].Name)
}

func TestUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created, err := s.Create(ctx, Contact{Name: "Ravi", Relationship: "friend"})
	require.NoError(t, err)

	updated, err := s.Update(ctx, created.ID, map[string]string{"phone": "1234567890"})
	require.NoError(t, err)
	assert.Equal(t, "1234567890", updated.Phone)
	assert.Equal(t, "Ravi", updated.Name)

	_, err = s.Update(ctx, created.ID, map[string]string{"invalid_field": "value"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No valid fields")

	_, err = s.Update(ctx, "nonexistent-id", map[string]string{"name": "New"})
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestNeglected_OldestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, Contact{Name: "Recent"})
	require.NoError(t, err)
	_, err = s.Create(ctx, Contact{Name: "Old", LastInteraction: daysAgo(10)})
	require.NoError(t, err)
	_, err = s.Create(ctx, Contact{Name: "Older", LastInteraction: daysAgo(20)})
	require.NoError(t, err)

	cs, err := s.Neglected(ctx, 7)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "Older", cs[0].Name)
	assert.Equal(t, "Old", cs[1].Name)
	assert.Equal(t, 20, cs[0].DaysSince(fixedNow))
}

func TestCapability_NoteInteractionAndNeglected(t *testing.T) {
	s := newTestStore(t)
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(s)))
	ctx := context.Background()

	old, err := s.Create(ctx, Contact{Name: "Old Friend", LastInteraction: daysAgo(10)})
	require.NoError(t, err)

	res := reg.Dispatch(ctx, capability.ActionRequest{Capability: "contacts", Action: "get_neglected", Params: capability.Record{"days_threshold": float64(7)}})
	require.True(t, res.OK())
	neglected := res.Value.([]capability.Record)
	require.Len(t, neglected, 1)
	assert.Equal(t, 10, neglected[0]["days_since_interaction"])

	res = reg.Dispatch(ctx, capability.ActionRequest{Capability: "contacts", Action: "note_interaction", Params: capability.Record{"id": old.ID}})
	require.True(t, res.OK())
	assert.Equal(t, "2026-02-22", res.Value.(capability.Record)["last_interaction"])

	res = reg.Dispatch(ctx, capability.ActionRequest{Capability: "contacts", Action: "note_interaction", Params: capability.Record{"id": "nonexistent-id"}})
	require.NotNil(t, res.Err)
	assert.Equal(t, capability.KindNotFound, res.Err.Kind)
}

func TestCapability_UpdateAcceptsNumbers(t *testing.T) {
	s := newTestStore(t)
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(s)))
	ctx := context.Background()

	c, err := s.Create(ctx, Contact{Name: "Bala"})
	require.NoError(t, err)

	res := reg.Dispatch(ctx, capability.ActionRequest{
		Capability: "contacts",
		Action:     "update",
		Params:     capability.Record{"id": c.ID, "fields": map[string]interface{}{"phone": float64(9876543210)}},
	})
	require.True(t, res.OK(), "error: %v", res.Err)
	assert.Equal(t, "9876543210", res.Value.(capability.Record)["phone"])
}
