package tasks

import (
	"context"

	"github.com/dotsetgreg/chitra/pkg/capability"
)

// Capability exposes the store through the registry as "tasks".
type Capability struct {
	store *Store
}

func NewCapability(store *Store) *Capability {
	return &Capability{store: store}
}

func (c *Capability) Name() string        { return "tasks" }
func (c *Capability) Description() string { return "to-do items with optional due dates and priority" }
func (c *Capability) Close() error        { return c.store.Close() }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.RecordAction("create", "add a task",
			[]capability.Param{
				capability.Required("title", capability.KindString),
				capability.Optional("notes", capability.KindString),
				capability.Optional("due_date", capability.KindString),
				capability.Optional("priority", capability.KindString),
			},
			c.create),
		capability.KeywordAction("list", "list tasks by status: all, pending or done",
			[]capability.Param{capability.Optional("status", capability.KindString)},
			c.list),
		capability.KeywordAction("complete", "mark a task done",
			[]capability.Param{capability.Required("id", capability.KindString)},
			c.complete),
		capability.KeywordAction("get_overdue", "pending tasks past their due date", nil, c.overdue),
		capability.KeywordAction("get_due_today", "pending tasks due today", nil, c.dueToday),
	}
}

func (t Task) Record() capability.Record {
	return capability.Record{
		"id":           t.ID,
		"title":        t.Title,
		"notes":        capability.Nullable(t.Notes),
		"due_date":     capability.Nullable(t.DueDate),
		"status":       t.Status,
		"priority":     t.Priority,
		"created_at":   t.CreatedAt,
		"completed_at": capability.Nullable(t.CompletedAt),
	}
}

func records(ts []Task) []capability.Record {
	out := make([]capability.Record, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.Record())
	}
	return out
}

func (c *Capability) create(ctx context.Context, rec capability.Record) (interface{}, error) {
	t, err := c.store.Create(ctx, CreateInput{
		Title:    capability.RecordString(rec, "title"),
		Notes:    capability.RecordString(rec, "notes"),
		DueDate:  capability.RecordString(rec, "due_date"),
		Priority: capability.RecordString(rec, "priority"),
	})
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return t.Record(), nil
}

func (c *Capability) list(ctx context.Context, args capability.Args) (interface{}, error) {
	ts, err := c.store.List(ctx, args.StringOr("status", "all"))
	if err != nil {
		return nil, err
	}
	return records(ts), nil
}

func (c *Capability) complete(ctx context.Context, args capability.Args) (interface{}, error) {
	t, err := c.store.Complete(ctx, args.String("id"))
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return t.Record(), nil
}

func (c *Capability) overdue(ctx context.Context, _ capability.Args) (interface{}, error) {
	ts, err := c.store.Overdue(ctx)
	if err != nil {
		return nil, err
	}
	return records(ts), nil
}

func (c *Capability) dueToday(ctx context.Context, _ capability.Args) (interface{}, error) {
	ts, err := c.store.DueToday(ctx)
	if err != nil {
		return nil, err
	}
	return records(ts), nil
}
