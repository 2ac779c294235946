package memory

import (
	"context"
	"fmt"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/storage"
)

// Capability exposes the store through the registry as "memory".
type Capability struct {
	store *SQLiteStore
}

func NewCapability(store *SQLiteStore) *Capability {
	return &Capability{store: store}
}

func (c *Capability) Name() string { return "memory" }
func (c *Capability) Description() string {
	return "long-term knowledge about the user: preference, fact, observation, relationship"
}
func (c *Capability) Close() error { return c.store.Close() }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.RecordAction("store", "remember something about the user",
			[]capability.Param{
				capability.Required("category", capability.KindString),
				capability.Required("subject", capability.KindString),
				capability.Required("content", capability.KindString),
				capability.Optional("confidence", capability.KindFloat),
				capability.Optional("source", capability.KindString),
				capability.Optional("contact_id", capability.KindString),
			},
			c.storeEntry),
		capability.KeywordAction("get_context", "memory digest for the prompt",
			[]capability.Param{
				capability.Optional("topic", capability.KindString),
				capability.Optional("time_of_day", capability.KindString),
				capability.Optional("at", capability.KindString),
			},
			c.context),
		capability.KeywordAction("search", "find memories mentioning a word",
			[]capability.Param{capability.Required("query", capability.KindString)},
			c.search),
		capability.KeywordAction("update", "replace the content of a memory",
			[]capability.Param{
				capability.Required("id", capability.KindString),
				capability.Required("content", capability.KindString),
			},
			c.update),
		capability.KeywordAction("deactivate", "forget a memory",
			[]capability.Param{capability.Required("id", capability.KindString)},
			c.deactivate),
	}
}

func (e Entry) Record() capability.Record {
	return capability.Record{
		"id":              e.ID,
		"category":        string(e.Category),
		"subject":         e.Subject,
		"content":         e.Content,
		"confidence":      e.Confidence,
		"source":          string(e.Source),
		"contact_id":      capability.Nullable(e.ContactID),
		"created_at":      e.CreatedAt.Format(storage.DateTimeLayout),
		"last_referenced": e.LastReferenced.Format(storage.DateTimeLayout),
		"active":          e.Active,
	}
}

// CandidateFromRecord reads a memory candidate from a params record. A
// confidence that is present must be a number or a numeric string.
func CandidateFromRecord(rec capability.Record) (Candidate, error) {
	c := Candidate{
		Category:  Category(capability.RecordString(rec, "category")),
		Subject:   capability.RecordString(rec, "subject"),
		Content:   capability.RecordString(rec, "content"),
		Source:    Source(capability.RecordString(rec, "source")),
		ContactID: capability.RecordString(rec, "contact_id"),
	}
	if raw, ok := rec["confidence"]; ok && raw != nil {
		v, err := capability.Coerce(capability.KindFloat, raw)
		if err != nil {
			return Candidate{}, fmt.Errorf("%w: %w, got %v", storage.ErrInvalid, ErrInvalidConfidence, raw)
		}
		f := v.(float64)
		c.Confidence = &f
	}
	return c, nil
}

func (c *Capability) storeEntry(ctx context.Context, rec capability.Record) (interface{}, error) {
	candidate, err := CandidateFromRecord(rec)
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	e, err := c.store.Store(ctx, candidate)
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return e.Record(), nil
}

func (c *Capability) context(ctx context.Context, args capability.Args) (interface{}, error) {
	var hints []string
	if topic := args.String("topic"); topic != "" {
		hints = append(hints, topic)
	}
	if tod := args.String("time_of_day"); tod != "" {
		hints = append(hints, tod)
	}
	now := c.store.now()
	if at := args.String("at"); at != "" {
		t, err := storage.ParseLocal(at)
		if err != nil {
			return nil, capability.Invalid("at: %v", err)
		}
		now = t
	}
	d, err := c.store.ContextAt(ctx, hints, now)
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(d.Entries))
	for _, e := range d.Entries {
		ids = append(ids, e.ID)
	}
	return capability.Record{"context": d.Text, "entry_ids": ids}, nil
}

func (c *Capability) search(ctx context.Context, args capability.Args) (interface{}, error) {
	es, err := c.store.Search(ctx, args.String("query"), 20)
	if err != nil {
		return nil, err
	}
	out := make([]capability.Record, 0, len(es))
	for _, e := range es {
		out = append(out, e.Record())
	}
	return out, nil
}

func (c *Capability) update(ctx context.Context, args capability.Args) (interface{}, error) {
	e, err := c.store.Update(ctx, args.String("id"), args.String("content"))
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return e.Record(), nil
}

func (c *Capability) deactivate(ctx context.Context, args capability.Args) (interface{}, error) {
	id := args.String("id")
	if err := c.store.Deactivate(ctx, id); err != nil {
		return nil, capability.FromStoreError(err)
	}
	return capability.Record{"id": id, "active": false}, nil
}
