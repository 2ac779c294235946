package tasks

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
	s, err := NewStore(filepath.Join(t.TempDir(), "tasks.db"), storage.FixedClock(fixedNow))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreate_Defaults(t *testing.T) {
	s := newTestStore(t)
	task, err := s.Create(context.Background(), CreateInput{Title: "Review project notes"})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, "normal", task.Priority)
}

func TestCreate_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{Notes: "Some notes"})
	assert.True(t, errors.Is(err, storage.ErrInvalid))

	_, err = s.Create(ctx, CreateInput{Title: "Bad priority", Priority: "urgent"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid priority")

	for _, p := range []string{"high", "normal", "low"} {
		task, err := s.Create(ctx, CreateInput{Title: "Task " + p, Priority: p})
		require.NoError(t, err)
		assert.Equal(t, p, task.Priority)
	}
}

func TestList_ByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{Title: "Pending"})
	require.NoError(t, err)
	done, err := s.Create(ctx, CreateInput{Title: "Done"})
	require.NoError(t, err)
	_, err = s.Complete(ctx, done.ID)
	require.NoError(t, err)

	all, err := s.List(ctx, "all")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := s.List(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "Pending", pending[0].Title)

	finished, err := s.List(ctx, "done")
	require.NoError(t, err)
	require.Len(t, finished, 1)
	assert.Equal(t, "Done", finished[0].Title)

	invalid, err := s.List(ctx, "invalid")
	require.NoError(t, err)
	assert.Empty(t, invalid)
}

func TestComplete_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Complete(context.Background(), "missing-id")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestOverdueAndDueToday(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, CreateInput{Title: "Late", DueDate: "2026-02-20"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateInput{Title: "Today", DueDate: "2026-02-22"})
	require.NoError(t, err)
	_, err = s.Create(ctx, CreateInput{Title: "Someday"})
	require.NoError(t, err)
	doneLate, err := s.Create(ctx, CreateInput{Title: "Late but done", DueDate: "2026-02-01"})
	require.NoError(t, err)
	_, err = s.Complete(ctx, doneLate.ID)
	require.NoError(t, err)

	overdue, err := s.Overdue(ctx)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "Late", overdue[0].Title)

	today, err := s.DueToday(ctx)
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "Today", today[0].Title)
}

func TestCapability_CompleteMissingIsNotFound(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(newTestStore(t))))

	res := reg.Dispatch(context.Background(), capability.ActionRequest{
		Capability: "tasks",
		Action:     "complete",
		Params:     capability.Record{"id": "missing-id"},
	})
	require.NotNil(t, res.Err)
	assert.Equal(t, capability.KindNotFound, res.Err.Kind)
	assert.Contains(t, res.Err.Message, "missing-id")
}

func TestCapability_CreateThroughRegistry(t *testing.T) {
	reg := capability.NewRegistry()
	require.NoError(t, reg.Register(NewCapability(newTestStore(t))))

	res := reg.Dispatch(context.Background(), capability.ActionRequest{
		Capability: "tasks",
		Action:     "create",
		Params:     capability.Record{"title": "Deploy v2", "priority": "high", "due_date": "2026-02-25"},
	})
	require.True(t, res.OK(), "error: %v", res.Err)
	rec := res.Value.(capability.Record)
	assert.Equal(t, "Deploy v2", rec["title"])
	assert.Equal(t, "2026-02-25", rec["due_date"])
	assert.Nil(t, rec["notes"])

	res = reg.Dispatch(context.Background(), capability.ActionRequest{Capability: "tasks", Action: "create", Params: capability.Record{}})
	require.NotNil(t, res.Err)
	assert.Equal(t, capability.KindValidation, res.Err.Kind)
}
