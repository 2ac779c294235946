package proactive

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/chitra/pkg/capability"
)

// Snapshot is what the scheduler found pending on one tick.
type Snapshot struct {
	FiredReminders    []capability.Record
	ImminentEvents    []capability.Record
	NeglectedContacts []capability.Record
	OverdueTasks      []capability.Record
}

func (s Snapshot) Empty() bool {
	return len(s.FiredReminders) == 0 && len(s.ImminentEvents) == 0 &&
		len(s.NeglectedContacts) == 0 && len(s.OverdueTasks) == 0
}

// ReminderIDs lists the fired reminders captured in this snapshot.
func (s Snapshot) ReminderIDs() []string {
	ids := make([]string, 0, len(s.FiredReminders))
	for _, r := range s.FiredReminders {
		if id := capability.RecordString(r, "id"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// surfaceKeys names the events, tasks and contacts in the snapshot.
// Fired reminders are left out; dismissal acknowledges them.
func (s Snapshot) surfaceKeys() []string {
	var keys []string
	add := func(kind string, records []capability.Record) {
		for _, r := range records {
			if id := capability.RecordString(r, "id"); id != "" {
				keys = append(keys, kind+":"+id)
			}
		}
	}
	add("event", s.ImminentEvents)
	add("task", s.OverdueTasks)
	add("contact", s.NeglectedContacts)
	return keys
}

// without drops the events, tasks and contacts for which seen reports true.
func (s Snapshot) without(seen func(key string) bool) (Snapshot, int) {
	dropped := 0
	filter := func(kind string, records []capability.Record) []capability.Record {
		out := make([]capability.Record, 0, len(records))
		for _, r := range records {
			if id := capability.RecordString(r, "id"); id != "" && seen(kind+":"+id) {
				dropped++
				continue
			}
			out = append(out, r)
		}
		return out
	}
	return Snapshot{
		FiredReminders:    s.FiredReminders,
		ImminentEvents:    filter("event", s.ImminentEvents),
		NeglectedContacts: filter("contact", s.NeglectedContacts),
		OverdueTasks:      filter("task", s.OverdueTasks),
	}, dropped
}

// Render describes the snapshot in priority order: fired reminders,
// imminent events, overdue tasks, neglected relationships.
func (s Snapshot) Render(lookaheadHours int) string {
	var parts []string

	if len(s.FiredReminders) > 0 {
		lines := []string{"Triggered reminders:"}
		for _, r := range s.FiredReminders {
			lines = append(lines, fmt.Sprintf("- %s (was due at %s)",
				capability.RecordString(r, "text"), shortTime(capability.RecordString(r, "trigger_at"))))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(s.ImminentEvents) > 0 {
		lines := []string{fmt.Sprintf("Upcoming events (next %s):", hoursLabel(lookaheadHours))}
		for _, e := range s.ImminentEvents {
			line := fmt.Sprintf("- %s at %s", valueOr(capability.RecordString(e, "title"), "untitled"), eventTime(e))
			if d := capability.RecordString(e, "duration_minutes"); d != "" {
				line += fmt.Sprintf(" (%s min)", d)
			}
			if people := participants(e); len(people) > 0 {
				line += " with " + strings.Join(people, ", ")
			}
			lines = append(lines, line)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(s.OverdueTasks) > 0 {
		lines := []string{"Overdue tasks:"}
		for _, t := range s.OverdueTasks {
			lines = append(lines, fmt.Sprintf("- %s (due: %s, priority: %s)",
				valueOr(capability.RecordString(t, "title"), "untitled"),
				valueOr(capability.RecordString(t, "due_date"), "unknown"),
				valueOr(capability.RecordString(t, "priority"), "normal")))
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	if len(s.NeglectedContacts) > 0 {
		lines := []string{"People the user hasn't been in touch with recently:"}
		for _, c := range s.NeglectedContacts {
			line := "- " + valueOr(capability.RecordString(c, "name"), "unknown")
			if rel := capability.RecordString(c, "relationship"); rel != "" {
				line += " (" + rel + ")"
			}
			line += ", last interaction: " + valueOr(capability.RecordString(c, "last_interaction"), "unknown")
			lines = append(lines, line)
		}
		parts = append(parts, strings.Join(lines, "\n"))
	}

	return strings.Join(parts, "\n\n")
}

func eventTime(e capability.Record) string {
	date := capability.RecordString(e, "date")
	if t := capability.RecordString(e, "time"); t != "" {
		return strings.TrimSpace(date + " " + t)
	}
	return valueOr(date, "an unknown time")
}

func participants(e capability.Record) []string {
	var out []string
	switch list := e["participants"].(type) {
	case []interface{}:
		for _, p := range list {
			if s, ok := p.(string); ok && s != "" {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	return out
}

// shortTime trims seconds from a stored date-time.
func shortTime(s string) string {
	s = strings.Replace(s, "T", " ", 1)
	if len(s) > 16 {
		return s[:16]
	}
	return s
}

func hoursLabel(h int) string {
	if h == 1 {
		return "hour"
	}
	return fmt.Sprintf("%d hours", h)
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
