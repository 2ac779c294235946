package reminders

import (
	"context"

	"github.com/dotsetgreg/chitra/pkg/capability"
)

type Capability struct {
	store *Store
}

func NewCapability(store *Store) *Capability {
	return &Capability{store: store}
}

func (c *Capability) Name() string        { return "reminders" }
func (c *Capability) Description() string { return "time-triggered reminders; repeat takes a cron expression" }
func (c *Capability) Close() error        { return c.store.Close() }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.RecordAction("create", "add a reminder (trigger_at YYYY-MM-DDTHH:MM:SS)",
			[]capability.Param{
				capability.Required("text", capability.KindString),
				capability.Required("trigger_at", capability.KindString),
				capability.Optional("repeat", capability.KindString),
				capability.Optional("contact_id", capability.KindString),
			},
			c.create),
		capability.KeywordAction("get_fired", "pending reminders whose time has come", nil, c.fired),
		capability.KeywordAction("dismiss", "acknowledge a reminder",
			[]capability.Param{capability.Required("id", capability.KindString)},
			c.dismiss),
		capability.KeywordAction("list_upcoming", "pending reminders due within hours_ahead hours",
			[]capability.Param{capability.Optional("hours_ahead", capability.KindInt)},
			c.upcoming),
		capability.KeywordAction("delete", "remove a reminder permanently",
			[]capability.Param{capability.Required("id", capability.KindString)},
			c.delete),
	}
}

func (r Reminder) Record() capability.Record {
	return capability.Record{
		"id":         r.ID,
		"text":       r.Text,
		"trigger_at": r.TriggerAt,
		"repeat":     capability.Nullable(r.Repeat),
		"status":     r.Status,
		"contact_id": capability.Nullable(r.ContactID),
	}
}

func records(rs []Reminder) []capability.Record {
	out := make([]capability.Record, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Record())
	}
	return out
}

func (c *Capability) create(ctx context.Context, rec capability.Record) (interface{}, error) {
	r, err := c.store.Create(ctx, Reminder{
		Text:      capability.RecordString(rec, "text"),
		TriggerAt: capability.RecordString(rec, "trigger_at"),
		Repeat:    capability.RecordString(rec, "repeat"),
		ContactID: capability.RecordString(rec, "contact_id"),
	})
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return r.Record(), nil
}

func (c *Capability) fired(ctx context.Context, _ capability.Args) (interface{}, error) {
	rs, err := c.store.Fired(ctx)
	if err != nil {
		return nil, err
	}
	return records(rs), nil
}

func (c *Capability) dismiss(ctx context.Context, args capability.Args) (interface{}, error) {
	r, err := c.store.Dismiss(ctx, args.String("id"))
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return r.Record(), nil
}

func (c *Capability) upcoming(ctx context.Context, args capability.Args) (interface{}, error) {
	rs, err := c.store.Upcoming(ctx, args.Int("hours_ahead", 24))
	if err != nil {
		return nil, err
	}
	return records(rs), nil
}

func (c *Capability) delete(ctx context.Context, args capability.Args) (interface{}, error) {
	id := args.String("id")
	if err := c.store.Delete(ctx, id); err != nil {
		return nil, capability.FromStoreError(err)
	}
	return capability.Record{"id": id, "status": "deleted"}, nil
}
