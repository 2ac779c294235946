package contacts

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

func (c *Capability) Name() string        { return "contacts" }
func (c *Capability) Description() string { return "people in the user's life and when they last talked" }
func (c *Capability) Close() error        { return c.store.Close() }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.KeywordAction("get", "find a contact by (partial) name",
			[]capability.Param{capability.Required("name", capability.KindString)},
			c.get),
		capability.KeywordAction("list", "all contacts ordered by name", nil, c.list),
		capability.RecordAction("create", "add a contact",
			[]capability.Param{
				capability.Required("name", capability.KindString),
				capability.Optional("relationship", capability.KindString),
				capability.Optional("phone", capability.KindString),
				capability.Optional("email", capability.KindString),
				capability.Optional("notes", capability.KindString),
				capability.Optional("communication_preference", capability.KindString),
			},
			c.create),
		capability.KeywordAction("update", "change fields of a contact",
			[]capability.Param{
				capability.Required("id", capability.KindString),
				capability.Required("fields", capability.KindObject),
			},
			c.update),
		capability.KeywordAction("note_interaction", "record that the user talked to a contact today",
			[]capability.Param{capability.Required("id", capability.KindString)},
			c.noteInteraction),
		capability.KeywordAction("get_neglected", "contacts not talked to for more than days_threshold days",
			[]capability.Param{capability.Optional("days_threshold", capability.KindInt)},
			c.neglected),
	}
}

func (ct Contact) Record() capability.Record {
	return capability.Record{
		"id":                       ct.ID,
		"name":                     ct.Name,
		"relationship":             capability.Nullable(ct.Relationship),
		"phone":                    capability.Nullable(ct.Phone),
		"email":                    capability.Nullable(ct.Email),
		"notes":                    capability.Nullable(ct.Notes),
		"last_interaction":         capability.Nullable(ct.LastInteraction),
		"communication_preference": capability.Nullable(ct.CommunicationPreference),
	}
}

func (c *Capability) get(ctx context.Context, args capability.Args) (interface{}, error) {
	ct, ok, err := c.store.FindByName(ctx, args.String("name"))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return ct.Record(), nil
}

func (c *Capability) list(ctx context.Context, _ capability.Args) (interface{}, error) {
	cs, err := c.store.List(ctx)
	if err != nil {
		return nil, err
	}
	return records(cs), nil
}

func (c *Capability) create(ctx context.Context, rec capability.Record) (interface{}, error) {
	ct, err := c.store.Create(ctx, Contact{
		Name:                    capability.RecordString(rec, "name"),
		Relationship:            capability.RecordString(rec, "relationship"),
		Phone:                   capability.RecordString(rec, "phone"),
		Email:                   capability.RecordString(rec, "email"),
		Notes:                   capability.RecordString(rec, "notes"),
		CommunicationPreference: capability.RecordString(rec, "communication_preference"),
	})
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return ct.Record(), nil
}

func (c *Capability) update(ctx context.Context, args capability.Args) (interface{}, error) {
	raw := args.Record("fields")
	fields := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			fields[k] = ""
			continue
		}
		fields[k] = capability.RecordString(raw, k)
		if fields[k] == "" {
			fields[k] = fmt.Sprint(v)
		}
	}
	ct, err := c.store.Update(ctx, args.String("id"), fields)
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return ct.Record(), nil
}

func (c *Capability) noteInteraction(ctx context.Context, args capability.Args) (interface{}, error) {
	ct, err := c.store.NoteInteraction(ctx, args.String("id"))
	if err != nil {
		return nil, capability.FromStoreError(err)
	}
	return ct.Record(), nil
}

func (c *Capability) neglected(ctx context.Context, args capability.Args) (interface{}, error) {
	cs, err := c.store.Neglected(ctx, args.Int("days_threshold", 7))
	if err != nil {
		return nil, err
	}
	now := c.store.now()
	out := make([]capability.Record, 0, len(cs))
	for _, ct := range cs {
		rec := ct.Record()
		rec["days_since_interaction"] = ct.DaysSince(now)
		out = append(out, rec)
	}
	return out, nil
}

func records(cs []Contact) []capability.Record {
	out := make([]capability.Record, 0, len(cs))
	for _, ct := range cs {
		out = append(out, ct.Record())
	}
	return out
}
