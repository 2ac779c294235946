package proactive

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/inference"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeCaps struct {
	mu       sync.Mutex
	answers  map[string]capability.ActionResult
	requests []capability.ActionRequest
}

func (f *fakeCaps) Dispatch(_ context.Context, req capability.ActionRequest) capability.ActionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if r, ok := f.answers[req.String()]; ok {
		return r
	}
	return capability.Success(nil)
}

func (f *fakeCaps) Catalog() string { return "" }

func (f *fakeCaps) Has(name string) bool {
	switch name {
	case "reminders", "calendar", "contacts", "tasks", "memory":
		return true
	}
	return false
}

func (f *fakeCaps) requested(action string) []capability.ActionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []capability.ActionRequest
	for _, r := range f.requests {
		if r.String() == action {
			out = append(out, r)
		}
	}
	return out
}

type fakeDecider struct {
	mu       sync.Mutex
	decision inference.Decision
	prompts  []inference.PromptContext
	hook     func()
}

func (d *fakeDecider) Decide(_ context.Context, pc inference.PromptContext) inference.Decision {
	d.mu.Lock()
	d.prompts = append(d.prompts, pc)
	hook := d.hook
	decision := d.decision
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return decision
}

func (d *fakeDecider) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.prompts)
}

type fakeEmitter struct {
	mu         sync.Mutex
	events     []string
	displayErr error
}

func (e *fakeEmitter) Display(_ context.Context, user, agent string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.displayErr != nil {
		return e.displayErr
	}
	e.events = append(e.events, "display:"+agent)
	return nil
}

func (e *fakeEmitter) Speak(_ context.Context, text string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, "speak:"+text)
	return nil
}

type flag struct {
	mu     sync.Mutex
	active bool
}

func (f *flag) UserActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *flag) set(v bool) {
	f.mu.Lock()
	f.active = v
	f.mu.Unlock()
}

func emptyAnswers() map[string]capability.ActionResult {
	return map[string]capability.ActionResult{
		"reminders.get_fired":    capability.Success([]capability.Record{}),
		"calendar.get_upcoming":  capability.Success([]capability.Record{}),
		"contacts.get_neglected": capability.Success([]capability.Record{}),
		"tasks.get_overdue":      capability.Success([]capability.Record{}),
	}
}

func pendingAnswers() map[string]capability.ActionResult {
	a := emptyAnswers()
	a["reminders.get_fired"] = capability.Success([]capability.Record{
		{"id": "rem-1", "text": "Take medicine", "trigger_at": "2026-03-10T09:00:00"},
		{"id": "rem-2", "text": "Water plants", "trigger_at": "2026-03-10T09:15:00"},
	})
	a["calendar.get_upcoming"] = capability.Success([]capability.Record{
		{"id": "evt-1", "title": "Dentist", "date": "2026-03-10", "time": "10:00", "duration_minutes": 30, "participants": []interface{}{"Dr. Rao"}},
	})
	return a
}

type harness struct {
	caps     *fakeCaps
	decider  *fakeDecider
	emitter  *fakeEmitter
	activity *flag
	sched    *Scheduler
}

func newHarness(answers map[string]capability.ActionResult, decision inference.Decision) *harness {
	h := &harness{
		caps:     &fakeCaps{answers: answers},
		decider:  &fakeDecider{decision: decision},
		emitter:  &fakeEmitter{},
		activity: &flag{},
	}
	h.sched = NewScheduler(h.caps, h.decider, nil, h.activity, h.emitter, Config{Interval: time.Hour})
	return h
}

func TestTick_NothingPendingMakesNoInferenceCall(t *testing.T) {
	h := newHarness(emptyAnswers(), inference.Decision{ShouldSpeak: true, Message: "hi"})

	res := h.sched.Tick(context.Background())

	assert.Equal(t, OutcomeNothingPending, res.Outcome)
	assert.Equal(t, 0, h.decider.calls())
	assert.Equal(t, StateIdle, h.sched.State())
}

func TestTick_SkipsWhileUserActive(t *testing.T) {
	h := newHarness(pendingAnswers(), inference.Decision{ShouldSpeak: true, Message: "hi"})
	h.activity.set(true)

	res := h.sched.Tick(context.Background())

	assert.Equal(t, OutcomeUserActive, res.Outcome)
	assert.Equal(t, 0, h.decider.calls())
	assert.Empty(t, h.emitter.events)
}

func TestTick_SpeaksAndDismissesSnapshotReminders(t *testing.T) {
	decision := inference.Decision{
		ShouldSpeak: true,
		Message:     "Time for your medicine, and the dentist is at 10.",
		MemoryWrites: []inference.MemoryCandidate{
			{Category: "observation", Subject: "mornings", Content: "often busy", Confidence: 0.6, Source: "inferred"},
		},
	}
	h := newHarness(pendingAnswers(), decision)

	res := h.sched.Tick(context.Background())

	require.Equal(t, OutcomeSpoke, res.Outcome)
	assert.Equal(t, []string{
		"display:" + decision.Message,
		"speak:" + decision.Message,
	}, h.emitter.events)
	assert.Equal(t, []string{"rem-1", "rem-2"}, res.Dismissed)
	assert.Len(t, h.caps.requested("reminders.dismiss"), 2)
	assert.Equal(t, 1, res.MemoryWrites)
	assert.Len(t, h.caps.requested("memory.store"), 1)

	require.Equal(t, 1, h.decider.calls())
	msg := h.decider.prompts[0].Message
	assert.Contains(t, msg, "- Take medicine (was due at 2026-03-10 09:00)")
	assert.Contains(t, msg, "- Dentist at 2026-03-10 10:00 (30 min) with Dr. Rao")
}

func TestTick_FailedEmissionLeavesRemindersPending(t *testing.T) {
	h := newHarness(pendingAnswers(), inference.Decision{ShouldSpeak: true, Message: "hello"})
	h.emitter.displayErr = errors.New("terminal closed")

	res := h.sched.Tick(context.Background())

	assert.Equal(t, OutcomeEmitFailed, res.Outcome)
	assert.Error(t, res.Err)
	assert.Empty(t, res.Dismissed)
	assert.Empty(t, h.caps.requested("reminders.dismiss"))
}

func TestTick_SilentDecision(t *testing.T) {
	h := newHarness(pendingAnswers(), inference.Decision{ShouldSpeak: false})

	res := h.sched.Tick(context.Background())

	assert.Equal(t, OutcomeSilent, res.Outcome)
	assert.Empty(t, h.emitter.events)
	assert.Empty(t, h.caps.requested("reminders.dismiss"))
}

func TestTick_UserBecameActiveDuringInference(t *testing.T) {
	h := newHarness(pendingAnswers(), inference.Decision{ShouldSpeak: true, Message: "hello"})
	h.decider.hook = func() { h.activity.set(true) }

	res := h.sched.Tick(context.Background())

	assert.Equal(t, OutcomePreempted, res.Outcome)
	assert.Empty(t, h.emitter.events)
	assert.Empty(t, h.caps.requested("reminders.dismiss"))
}

func TestTick_DispatchesDecisionAction(t *testing.T) {
	answers := pendingAnswers()
	answers["tasks.create"] = capability.Success(capability.Record{"id": "task-1"})
	h := newHarness(answers, inference.Decision{
		ShouldSpeak: true,
		Message:     "I've added a follow-up task.",
		Action:      &capability.ActionRequest{Capability: "tasks", Action: "create", Params: capability.Record{"title": "book dentist"}},
	})

	res := h.sched.Tick(context.Background())

	require.NotNil(t, res.ActionResult)
	assert.True(t, res.ActionResult.OK())
	assert.Len(t, h.caps.requested("tasks.create"), 1)
}

func TestTick_FailedQueryContributesNothing(t *testing.T) {
	answers := emptyAnswers()
	answers["reminders.get_fired"] = capability.Failure(capability.KindCapabilityError, "database is locked")
	answers["tasks.get_overdue"] = capability.Success([]capability.Record{
		{"id": "task-1", "title": "File taxes", "due_date": "2026-03-01", "priority": "high"},
	})
	h := newHarness(answers, inference.Decision{ShouldSpeak: false})

	res := h.sched.Tick(context.Background())

	assert.Empty(t, res.Snapshot.FiredReminders)
	assert.Len(t, res.Snapshot.OverdueTasks, 1)
	assert.Equal(t, 1, h.decider.calls())
}

func TestTick_LimitsNeglectedContacts(t *testing.T) {
	answers := emptyAnswers()
	var contacts []capability.Record
	for _, name := range []string{"Amma", "Ravi", "Meena", "Kumar", "Lata"} {
		contacts = append(contacts, capability.Record{"name": name, "last_interaction": "2026-01-01"})
	}
	answers["contacts.get_neglected"] = capability.Success(contacts)
	h := newHarness(answers, inference.Decision{ShouldSpeak: false})

	res := h.sched.Tick(context.Background())

	require.Len(t, res.Snapshot.NeglectedContacts, 3)
	assert.Equal(t, "Amma", res.Snapshot.NeglectedContacts[0]["name"])
	req := h.caps.requested("contacts.get_neglected")
	require.Len(t, req, 1)
	assert.Equal(t, 7, req[0].Params["days_threshold"])
}

func TestTick_BusyWhileEvaluating(t *testing.T) {
	h := newHarness(pendingAnswers(), inference.Decision{ShouldSpeak: false})
	release := make(chan struct{})
	entered := make(chan struct{})
	h.decider.hook = func() {
		close(entered)
		<-release
	}

	done := make(chan TickResult, 1)
	go func() { done <- h.sched.Tick(context.Background()) }()
	<-entered

	assert.Equal(t, StateEvaluating, h.sched.State())
	assert.Equal(t, OutcomeBusy, h.sched.Tick(context.Background()).Outcome)

	close(release)
	assert.Equal(t, OutcomeSilent, (<-done).Outcome)
	assert.Equal(t, StateIdle, h.sched.State())
}

func TestSnapshotRenderPriorityOrder(t *testing.T) {
	snap := Snapshot{
		FiredReminders:    []capability.Record{{"text": "Take medicine", "trigger_at": "2026-03-10T09:00:00"}},
		ImminentEvents:    []capability.Record{{"title": "Dentist", "date": "2026-03-10", "time": "10:00"}},
		NeglectedContacts: []capability.Record{{"name": "Ravi", "relationship": "brother", "last_interaction": "2026-02-01"}},
		OverdueTasks:      []capability.Record{{"title": "File taxes", "due_date": "2026-03-01", "priority": "high"}},
	}

	out := snap.Render(1)

	reminders := strings.Index(out, "Triggered reminders:")
	events := strings.Index(out, "Upcoming events (next hour):")
	tasks := strings.Index(out, "Overdue tasks:")
	people := strings.Index(out, "People the user hasn't been in touch with recently:")
	require.True(t, reminders >= 0 && events >= 0 && tasks >= 0 && people >= 0, out)
	assert.True(t, reminders < events && events < tasks && tasks < people, out)
	assert.Contains(t, out, "- Ravi (brother), last interaction: 2026-02-01")
	assert.Contains(t, out, "- File taxes (due: 2026-03-01, priority: high)")
}

func TestRun_StopEndsWaitWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(emptyAnswers(), inference.Decision{})
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(context.Background()) }()

	h.sched.Stop()
	h.sched.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRun_ContextCancelEndsWait(t *testing.T) {
	defer goleak.VerifyNone(t)

	h := newHarness(emptyAnswers(), inference.Decision{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.sched.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_TicksOnInterval(t *testing.T) {
	caps := &fakeCaps{answers: pendingAnswers()}
	decider := &fakeDecider{decision: inference.Decision{ShouldSpeak: false}}
	sched := NewScheduler(caps, decider, nil, &flag{}, &fakeEmitter{}, Config{Interval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	require.Eventually(t, func() bool { return decider.calls() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func eventOnlyAnswers(ids ...string) map[string]capability.ActionResult {
	a := emptyAnswers()
	events := make([]capability.Record, 0, len(ids))
	for _, id := range ids {
		events = append(events, capability.Record{"id": id, "title": "Dentist " + id, "date": "2026-03-10", "time": "10:00"})
	}
	a["calendar.get_upcoming"] = capability.Success(events)
	return a
}

func TestTick_DoesNotRepeatMentionedObligations(t *testing.T) {
	clock := &stepClock{now: time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)}
	caps := &fakeCaps{answers: eventOnlyAnswers("evt-1")}
	decider := &fakeDecider{decision: inference.Decision{ShouldSpeak: true, Message: "Dentist at ten"}}
	emitter := &fakeEmitter{}
	sched := NewScheduler(caps, decider, nil, &flag{}, emitter, Config{Interval: time.Hour, Clock: clock.Now})

	first := sched.Tick(context.Background())
	assert.Equal(t, OutcomeSpoke, first.Outcome)

	clock.advance(time.Minute)
	second := sched.Tick(context.Background())
	assert.Equal(t, OutcomeNothingPending, second.Outcome)
	assert.Equal(t, 1, second.Suppressed)
	assert.Equal(t, 1, decider.calls())

	caps.mu.Lock()
	caps.answers = eventOnlyAnswers("evt-1", "evt-2")
	caps.mu.Unlock()
	third := sched.Tick(context.Background())
	assert.Equal(t, OutcomeSpoke, third.Outcome)
	require.Len(t, third.Snapshot.ImminentEvents, 1)
	assert.Equal(t, "evt-2", third.Snapshot.ImminentEvents[0]["id"])

	clock.advance(time.Hour)
	caps.mu.Lock()
	caps.answers = eventOnlyAnswers("evt-1")
	caps.mu.Unlock()
	fourth := sched.Tick(context.Background())
	assert.Equal(t, OutcomeSpoke, fourth.Outcome, "mention window elapsed")
	assert.Equal(t, 3, decider.calls())

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	assert.Len(t, emitter.events, 6)
}

func TestTick_SilentDecisionKeepsObligationsEligible(t *testing.T) {
	h := newHarness(eventOnlyAnswers("evt-1"), inference.Decision{ShouldSpeak: false})

	assert.Equal(t, OutcomeSilent, h.sched.Tick(context.Background()).Outcome)
	res := h.sched.Tick(context.Background())
	assert.Equal(t, OutcomeSilent, res.Outcome)
	assert.Zero(t, res.Suppressed)
	assert.Equal(t, 2, h.decider.calls())
}
