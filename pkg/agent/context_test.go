package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/inference"
)

// fakeCaps answers context queries from a fixed table and records requests.
type fakeCaps struct {
	answers  map[string]capability.ActionResult
	requests []capability.ActionRequest
}

func (f *fakeCaps) Dispatch(_ context.Context, req capability.ActionRequest) capability.ActionResult {
	f.requests = append(f.requests, req)
	if r, ok := f.answers[req.String()]; ok {
		return r
	}
	return capability.Failure(capability.KindUnknownCapability, "no such capability: "+req.Capability)
}

func (f *fakeCaps) Catalog() string { return "tasks: to-do items\n  - list(status: string?)" }

func (f *fakeCaps) Has(name string) bool {
	for key := range f.answers {
		if strings.HasPrefix(key, name+".") {
			return true
		}
	}
	return false
}

func fullAnswers() map[string]capability.ActionResult {
	return map[string]capability.ActionResult{
		"memory.get_context": capability.Success(capability.Record{
			"context":   "About the user:\n- name: Asha",
			"entry_ids": []interface{}{"mem-1"},
		}),
		"system_state.get": capability.Success(capability.Record{
			"datetime":        "2026-03-10T09:30:00",
			"day_of_week":     "Tuesday",
			"time_of_day":     "morning",
			"battery_percent": 80,
		}),
		"calendar.get_upcoming": capability.Success([]capability.Record{
			{"title": "Standup", "date": "2026-03-10", "time": "10:00"},
		}),
		"reminders.list_upcoming": capability.Success([]capability.Record{
			{"text": "Call Amma", "trigger_at": "2026-03-10T10:15:00"},
		}),
	}
}

func TestAssemble_SectionOrder(t *testing.T) {
	caps := &fakeCaps{answers: fullAnswers()}
	ca := NewContextAssembler(caps, "", 10)

	pc := ca.Assemble(context.Background(), NewSession(10), "what's my day like?", testNow)

	sections := strings.Split(pc.System, sectionSeparator)
	require.Len(t, sections, 6)
	assert.True(t, strings.HasPrefix(sections[0], "# Chitra"))
	assert.Equal(t, "# What you know\n\nAbout the user:\n- name: Asha", sections[1])
	assert.Equal(t, "# Right now\n\nDate and time: 2026-03-10T09:30:00 (Tuesday, morning)\nBattery: 80%", sections[2])
	assert.Equal(t, "# Coming up in the next hour\n\n- Event: Standup at 2026-03-10 10:00\n- Reminder: Call Amma at 2026-03-10T10:15:00", sections[3])
	assert.Contains(t, sections[4], "tasks: to-do items")
	assert.Contains(t, sections[5], `"memory_writes"`)
	assert.Equal(t, "what's my day like?", pc.Message)
}

func TestAssemble_PassesRelevanceHints(t *testing.T) {
	caps := &fakeCaps{answers: fullAnswers()}
	ca := NewContextAssembler(caps, "", 10)

	ca.Assemble(context.Background(), nil, "how is Amma?", testNow)

	var memReq *capability.ActionRequest
	for i := range caps.requests {
		if caps.requests[i].String() == "memory.get_context" {
			memReq = &caps.requests[i]
		}
	}
	require.NotNil(t, memReq)
	topic, _ := memReq.Params["topic"].(string)
	assert.Contains(t, topic, "how is Amma?")
	assert.Contains(t, topic, "Standup")
	assert.Contains(t, topic, "Call Amma")
	assert.Equal(t, "morning", memReq.Params["time_of_day"])
	assert.Equal(t, testNow.Format(time.RFC3339), memReq.Params["at"])
}

func TestAssemble_OmitsFailedSections(t *testing.T) {
	answers := fullAnswers()
	answers["memory.get_context"] = capability.Failure(capability.KindCapabilityError, "database is locked")
	delete(answers, "system_state.get")
	caps := &fakeCaps{answers: answers}
	ca := NewContextAssembler(caps, "", 10)

	pc := ca.Assemble(context.Background(), nil, "hi", testNow)

	assert.NotContains(t, pc.System, "# What you know")
	assert.NotContains(t, pc.System, "# Right now")
	assert.Contains(t, pc.System, "# Coming up in the next hour")
	assert.Len(t, strings.Split(pc.System, sectionSeparator), 4)
}

func TestAssemble_NothingUpcoming(t *testing.T) {
	answers := fullAnswers()
	answers["calendar.get_upcoming"] = capability.Success([]capability.Record{})
	answers["reminders.list_upcoming"] = capability.Success([]capability.Record{})
	ca := NewContextAssembler(&fakeCaps{answers: answers}, "", 10)

	pc := ca.Assemble(context.Background(), nil, "hi", testNow)

	assert.Contains(t, pc.System, "# Coming up in the next hour\n\nNothing scheduled.")
}

func TestAssemble_IsDeterministic(t *testing.T) {
	session := NewSession(4)
	for _, text := range []string{"a", "b", "c", "d", "e"} {
		session.Append(inference.Turn{Speaker: inference.SpeakerUser, Text: text, Timestamp: testNow})
	}

	first := NewContextAssembler(&fakeCaps{answers: fullAnswers()}, "", 3).
		Assemble(context.Background(), session, "again", testNow)
	second := NewContextAssembler(&fakeCaps{answers: fullAnswers()}, "", 3).
		Assemble(context.Background(), session, "again", testNow)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("assembly differs between identical runs (-first +second):\n%s", diff)
	}

	want := []inference.Turn{
		{Speaker: inference.SpeakerUser, Text: "c", Timestamp: testNow},
		{Speaker: inference.SpeakerUser, Text: "d", Timestamp: testNow},
		{Speaker: inference.SpeakerUser, Text: "e", Timestamp: testNow},
	}
	if diff := cmp.Diff(want, first.History); diff != "" {
		t.Fatalf("unexpected history window (-want +got):\n%s", diff)
	}
}

func TestAssemble_UnknownBatteryAndMissingCapabilities(t *testing.T) {
	answers := map[string]capability.ActionResult{
		"system_state.get": capability.Success(capability.Record{
			"datetime":        "2026-03-10T23:00:00",
			"day_of_week":     "Tuesday",
			"time_of_day":     "night",
			"battery_percent": -1,
		}),
	}
	ca := NewContextAssembler(&fakeCaps{answers: answers}, "", 10)

	pc := ca.Assemble(context.Background(), nil, "hi", time.Date(2026, 3, 10, 23, 0, 0, 0, time.UTC))

	assert.Contains(t, pc.System, "Battery: unknown")
	assert.NotContains(t, pc.System, "# Coming up")
}

func TestLoadPersona_PrefersPersonaMD(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	write("PERSONA.md", "persona-current")
	write("AGENT.md", "agent-legacy")

	ca := NewContextAssembler(nil, dir, 10)
	out := ca.LoadPersona()

	if !strings.Contains(out, "persona-current") {
		t.Fatalf("expected PERSONA.md content to be loaded")
	}
	if strings.Contains(out, "agent-legacy") {
		t.Fatalf("expected AGENT.md content to be ignored when PERSONA.md exists")
	}
	if !strings.Contains(ca.getIdentity(), "persona-current") {
		t.Fatalf("expected persona to be appended to the identity section")
	}
}

func TestLoadPersona_FallsBackToAgentMD(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENT.md"), []byte("legacy-agent"), 0o644); err != nil {
		t.Fatalf("write AGENT.md: %v", err)
	}
	ca := NewContextAssembler(nil, dir, 10)
	if out := ca.LoadPersona(); !strings.Contains(out, "legacy-agent") {
		t.Fatalf("expected AGENT.md fallback content to load")
	}
}

func TestAssembleProactive(t *testing.T) {
	caps := &fakeCaps{answers: fullAnswers()}
	ca := NewContextAssembler(caps, "", 10)

	pc := ca.AssembleProactive(context.Background(), "Overdue tasks:\n- file taxes", testNow)

	assert.Empty(t, pc.History)
	assert.Equal(t, "Overdue tasks:\n- file taxes", pc.Message)
	assert.Contains(t, pc.System, `"should_speak"`)
	assert.NotContains(t, pc.System, "# Coming up in the next hour")
	assert.Contains(t, pc.System, "# What you know")
	for _, req := range caps.requests {
		assert.NotEqual(t, "calendar.get_upcoming", req.String())
	}
}
