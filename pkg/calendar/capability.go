package calendar

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/chitra/pkg/capability"
)

type Capability struct {
	store *Store
}

func NewCapability(store *Store) *Capability {
	return &Capability{store: store}
}

func (c *Capability) Name() string        { return "calendar" }
func (c *Capability) Description() string { return "dated events and appointments" }
func (c *Capability) Close() error        { return c.store.Close() }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.KeywordAction("get_upcoming", "events starting within hours_ahead hours",
			[]capability.Param{capability.Optional("hours_ahead", capability.KindInt)},
			c.upcoming),
		capability.KeywordAction("get_today", "all events today", nil, c.today),
		capability.RecordAction("create", "add an event (date YYYY-MM-DD, time HH:MM)",
			[]capability.Param{
				capability.Required("title", capability.KindString),
				capability.Required("date", capability.KindString),
				capability.Optional("time", capability.KindString),
				capability.Optional("duration_minutes", capability.KindInt),
				capability.Optional("notes", capability.KindString),
				capability.Optional("participants", capability.KindList),
			},
			c.create),
		capability.KeywordAction("get_range", "events between two dates inclusive",
			[]capability.Param{
				capability.Required("start_date", capability.KindString),
				capability.Required("end_date", capability.KindString),
			},
			c.rangeEvents),
	}
}

func (e Event) Record() capability.Record {
	participants := make([]interface{}, 0, len(e.Participants))
	for _, p := range e.Participants {
		participants = append(participants, p)
	}
	return capability.Record{
		"id":               e.ID,
		"title":            e.Title,
		"date":             e.Date,
		"time":             capability.Nullable(e.Time),
		"duration_minutes": e.DurationMinutes,
		"notes":            capability.Nullable(e.Notes),
		"participants":     participants,
	}
}

func records(es []Event) []capability.Record {
	out := make([]capability.Record, 0, len(es))
	for _, e := range es {
		out = append(out, e.Record())
	}
	return out
}

func (c *Capability) upcoming(ctx context.Context, args capability.Args) (interface{}, error) {
	es, err := c.store.Upcoming(ctx, args.Int("hours_ahead", 24))
	if err != nil {
		return nil, err
	}
	return records(es), nil
}

func (c *Capability) today(ctx context.Context, _ capability.Args) (interface{}, error) {
	es, err := c.store.Today(ctx)
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return records(es), nil
}

func (c *Capability) create(ctx context.Context, rec capability.Record) (interface{}, error) {
	e := Event{
		Title: capability.RecordString(rec, "title"),
		Date:  capability.RecordString(rec, "date"),
		Time:  capability.RecordString(rec, "time"),
		Notes: capability.RecordString(rec, "notes"),
	}
	if d, ok := rec["duration_minutes"].(float64); ok {
		e.DurationMinutes = int(d)
	}
	switch ps := rec["participants"].(type) {
	case []interface{}:
		for _, p := range ps {
			e.Participants = append(e.Participants, fmt.Sprint(p))
		}
	case string:
		if ps != "" {
			e.Participants = []string{ps}
		}
	}
	created, err := c.store.Create(ctx, e)
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return created.Record(), nil
}

func (c *Capability) rangeEvents(ctx context.Context, args capability.Args) (interface{}, error) {
	es, err := c.store.Range(ctx, args.String("start_date"), args.String("end_date"))
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return records(es), nil
}
