package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/inference"
	"github.com/dotsetgreg/chitra/pkg/logger"
	"github.com/dotsetgreg/chitra/pkg/sysstate"
)

// Capabilities is the part of the registry the agent needs.
type Capabilities interface {
	Dispatch(ctx context.Context, req capability.ActionRequest) capability.ActionResult
	Catalog() string
	Has(name string) bool
}

const sectionSeparator = "\n\n---\n\n"

// upcomingWindowHours bounds the obligations shown with every turn.
const upcomingWindowHours = 1

// ContextAssembler builds the prompt context for one inference call.
type ContextAssembler struct {
	caps         Capabilities
	dataDir      string
	historyTurns int
}

func NewContextAssembler(caps Capabilities, dataDir string, historyTurns int) *ContextAssembler {
	if historyTurns <= 0 {
		historyTurns = DefaultHistoryTurns
	}
	return &ContextAssembler{caps: caps, dataDir: dataDir, historyTurns: historyTurns}
}

func (ca *ContextAssembler) getIdentity() string {
	identity := `# Chitra

You are Chitra, a personal assistant that runs entirely on the user's own device. You know the user's contacts, calendar, reminders, tasks and what they have told you before.

## Rules

1. **Act through capabilities** - When the user asks you to remember, schedule, look up or change something, propose exactly one action from the capability catalog. Never claim to have done something you did not request.

2. **Be brief and warm** - Replies are read aloud or shown in a terminal. Keep them short and conversational.

3. **Memory** - Add memory_writes only for durable facts, preferences, relationships or patterns the user revealed. Mark guesses as inferred with a lower confidence.`

	if persona := ca.LoadPersona(); persona != "" {
		identity += "\n\n" + persona
	}
	return identity
}

// LoadPersona reads an optional user-authored persona file from the data
// directory.
func (ca *ContextAssembler) LoadPersona() string {
	if ca.dataDir == "" {
		return ""
	}
	for _, filename := range []string{"PERSONA.md", "AGENT.md"} {
		data, err := os.ReadFile(filepath.Join(ca.dataDir, filename))
		if err != nil {
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			return fmt.Sprintf("## %s\n\n%s", filename, s)
		}
	}
	return ""
}

// Assemble never fails: a collaborator that cannot answer only costs its
// section.
func (ca *ContextAssembler) Assemble(ctx context.Context, session *Session, userMessage string, now time.Time) inference.PromptContext {
	upcoming, titles := ca.upcomingSection(ctx)
	hints := append([]string{userMessage}, titles...)

	pc := inference.PromptContext{
		System:  ca.buildSystem(ctx, strings.Join(hints, " "), now, upcoming, inference.ResponseFormat),
		Message: userMessage,
	}
	if session != nil {
		pc.History = session.History(ca.historyTurns)
	}
	return pc
}

// AssembleProactive builds the context for a background check. There is no
// history, and the situation summary takes the place of the user message.
func (ca *ContextAssembler) AssembleProactive(ctx context.Context, situation string, now time.Time) inference.PromptContext {
	return inference.PromptContext{
		System:  ca.buildSystem(ctx, situation, now, "", inference.DecisionFormat),
		Message: situation,
	}
}

func (ca *ContextAssembler) buildSystem(ctx context.Context, hints string, now time.Time, upcoming, format string) string {
	parts := []string{ca.getIdentity()}
	if digest := ca.memorySection(ctx, hints, now); digest != "" {
		parts = append(parts, digest)
	}
	if state := ca.systemStateSection(ctx); state != "" {
		parts = append(parts, state)
	}
	if upcoming != "" {
		parts = append(parts, upcoming)
	}
	if catalog := ca.catalogSection(); catalog != "" {
		parts = append(parts, catalog)
	}
	parts = append(parts, "# Response format\n\n"+format)

	system := strings.Join(parts, sectionSeparator)
	logger.DebugCF("agent", "System context built",
		map[string]interface{}{
			"total_chars":   len(system),
			"section_count": len(parts),
		})
	return system
}

// query dispatches a read-only action; ok is false when the section built
// from it should be omitted.
func (ca *ContextAssembler) query(ctx context.Context, name, action string, params capability.Record) (interface{}, bool) {
	if ca.caps == nil || !ca.caps.Has(name) {
		return nil, false
	}
	result := ca.caps.Dispatch(ctx, capability.ActionRequest{Capability: name, Action: action, Params: params})
	if !result.OK() {
		logger.WarnCF("agent", "Context query failed, omitting section",
			map[string]interface{}{
				"action":     name + "." + action,
				"error_kind": result.Err.Kind,
				"error":      result.Err.Message,
			})
		return nil, false
	}
	return result.Value, true
}

// memorySection asks for the digest as of now, so the age rules follow the
// assembly time rather than the memory store's clock.
func (ca *ContextAssembler) memorySection(ctx context.Context, topic string, now time.Time) string {
	value, ok := ca.query(ctx, "memory", "get_context", capability.Record{
		"topic":       topic,
		"time_of_day": sysstate.TimeOfDay(now),
		"at":          now.Format(time.RFC3339),
	})
	if !ok {
		return ""
	}
	rec, _ := value.(capability.Record)
	text := strings.TrimSpace(capability.RecordString(rec, "context"))
	if text == "" {
		return ""
	}
	return "# What you know\n\n" + text
}

func (ca *ContextAssembler) systemStateSection(ctx context.Context) string {
	value, ok := ca.query(ctx, "system_state", "get", nil)
	if !ok {
		return ""
	}
	rec, _ := value.(capability.Record)
	if rec == nil {
		return ""
	}
	battery := "unknown"
	if pct, ok := rec["battery_percent"].(int); ok && pct >= 0 {
		battery = fmt.Sprintf("%d%%", pct)
	}
	return fmt.Sprintf("# Right now\n\nDate and time: %s (%s, %s)\nBattery: %s",
		capability.RecordString(rec, "datetime"),
		capability.RecordString(rec, "day_of_week"),
		capability.RecordString(rec, "time_of_day"),
		battery)
}

// upcomingSection also returns the titles it mentions, used as memory
// relevance hints.
func (ca *ContextAssembler) upcomingSection(ctx context.Context) (string, []string) {
	events, evOK := ca.query(ctx, "calendar", "get_upcoming", capability.Record{"hours_ahead": upcomingWindowHours})
	reminders, remOK := ca.query(ctx, "reminders", "list_upcoming", capability.Record{"hours_ahead": upcomingWindowHours})
	if !evOK && !remOK {
		return "", nil
	}

	var lines, titles []string
	for _, e := range recordList(events) {
		title := capability.RecordString(e, "title")
		when := capability.RecordString(e, "date")
		if t := capability.RecordString(e, "time"); t != "" {
			when += " " + t
		}
		lines = append(lines, fmt.Sprintf("- Event: %s at %s", title, when))
		titles = append(titles, title)
	}
	for _, r := range recordList(reminders) {
		text := capability.RecordString(r, "text")
		lines = append(lines, fmt.Sprintf("- Reminder: %s at %s", text, capability.RecordString(r, "trigger_at")))
		titles = append(titles, text)
	}

	if len(lines) == 0 {
		return "# Coming up in the next hour\n\nNothing scheduled.", nil
	}
	return "# Coming up in the next hour\n\n" + strings.Join(lines, "\n"), titles
}

func (ca *ContextAssembler) catalogSection() string {
	if ca.caps == nil {
		return ""
	}
	catalog := ca.caps.Catalog()
	if catalog == "" {
		return ""
	}
	return "# Capabilities\n\nYou can request one of these actions per turn. Fields marked * are required; ? marks optional params.\n\n" + catalog
}

func recordList(v interface{}) []capability.Record {
	switch list := v.(type) {
	case []capability.Record:
		return list
	case []interface{}:
		out := make([]capability.Record, 0, len(list))
		for _, item := range list {
			if rec, ok := item.(capability.Record); ok {
				out = append(out, rec)
			}
		}
		return out
	}
	return nil
}
