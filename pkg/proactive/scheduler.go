// Package proactive runs the background check that decides whether the
// assistant should speak without being asked.
package proactive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/chitra/pkg/agent"
	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/inference"
	"github.com/dotsetgreg/chitra/pkg/logger"
	"github.com/dotsetgreg/chitra/pkg/storage"
)

type State int32

const (
	StateIdle State = iota
	StateEvaluating
)

func (s State) String() string {
	if s == StateEvaluating {
		return "evaluating"
	}
	return "idle"
}

// Outcome names how a tick ended.
type Outcome string

const (
	OutcomeNothingPending Outcome = "nothing_pending"
	OutcomeUserActive     Outcome = "user_active"
	OutcomeSilent         Outcome = "silent"
	OutcomePreempted      Outcome = "preempted"
	OutcomeEmitFailed     Outcome = "emit_failed"
	OutcomeSpoke          Outcome = "spoke"
	OutcomeBusy           Outcome = "busy"
)

// TickResult describes one evaluation.
type TickResult struct {
	Outcome      Outcome
	Snapshot     Snapshot
	Message      string
	Action       *capability.ActionRequest
	ActionResult *capability.ActionResult
	Dismissed    []string
	MemoryWrites int
	// Suppressed counts items left out because they were already mentioned.
	Suppressed   int
	Err          error
}

type Decider interface {
	Decide(ctx context.Context, pc inference.PromptContext) inference.Decision
}

// Emitter shows and speaks a proactive message.
type Emitter interface {
	Display(ctx context.Context, user, agent string) error
	Speak(ctx context.Context, text string) error
}

type ActivityMonitor interface {
	UserActive() bool
}

type ContextSource interface {
	AssembleProactive(ctx context.Context, situation string, now time.Time) inference.PromptContext
}

type Config struct {
	Interval       time.Duration
	LookaheadHours int
	NeglectDays    int
	NeglectLimit   int
	// Resurface is how long a mentioned event, task or contact stays out of
	// later snapshots. Defaults to the lookahead window.
	Resurface      time.Duration
	Clock          storage.Clock
}

var errNoEmitter = errors.New("proactive: no emitter configured")

const (
	defaultInterval     = 60 * time.Second
	defaultNeglectLimit = 3
)

const situationPreamble = "You are running a background check. The following things have come up:"

const situationInstructions = `Based on this and what you know about the user, decide whether anything is worth telling the user right now. Only surface what is timely or genuinely helpful.
If there is something worth saying, set "should_speak" to true and put a brief, warm message in "reply". Don't list everything.
If there is nothing worth surfacing, set "should_speak" to false.`

type Scheduler struct {
	caps     agent.Capabilities
	model    Decider
	source   ContextSource
	activity ActivityMonitor
	emitter  Emitter
	cfg      Config

	state    atomic.Int32
	stop     chan struct{}
	stopOnce sync.Once

	surfacedMu sync.Mutex
	surfaced   map[string]time.Time
}

func NewScheduler(caps agent.Capabilities, model Decider, source ContextSource, activity ActivityMonitor, emitter Emitter, cfg Config) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.LookaheadHours <= 0 {
		cfg.LookaheadHours = 1
	}
	if cfg.NeglectDays <= 0 {
		cfg.NeglectDays = 7
	}
	if cfg.NeglectLimit <= 0 {
		cfg.NeglectLimit = defaultNeglectLimit
	}
	if cfg.Resurface <= 0 {
		cfg.Resurface = time.Duration(cfg.LookaheadHours) * time.Hour
	}
	if cfg.Clock == nil {
		cfg.Clock = storage.SystemClock
	}
	return &Scheduler{
		caps:     caps,
		model:    model,
		source:   source,
		activity: activity,
		emitter:  emitter,
		cfg:      cfg,
		stop:     make(chan struct{}),
		surfaced: make(map[string]time.Time),
	}
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

// Run ticks until the context is cancelled or Stop is called. Either one
// ends the pending wait immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	logger.InfoCF("proactive", "Proactive scheduler started",
		map[string]interface{}{"interval_seconds": s.cfg.Interval.Seconds()})

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("proactive", "Proactive scheduler stopped")
			return nil
		case <-s.stop:
			logger.InfoC("proactive", "Proactive scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Tick runs one evaluation. A tick that starts while another is still
// evaluating returns OutcomeBusy.
func (s *Scheduler) Tick(ctx context.Context) TickResult {
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateEvaluating)) {
		return TickResult{Outcome: OutcomeBusy}
	}
	defer s.state.Store(int32(StateIdle))

	start := time.Now()
	result := s.evaluate(ctx)

	fields := map[string]interface{}{
		"outcome":     string(result.Outcome),
		"reminders":   len(result.Snapshot.FiredReminders),
		"events":      len(result.Snapshot.ImminentEvents),
		"tasks":       len(result.Snapshot.OverdueTasks),
		"contacts":    len(result.Snapshot.NeglectedContacts),
		"suppressed":  result.Suppressed,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if result.Err != nil {
		fields["error"] = result.Err.Error()
		logger.WarnCF("proactive", "Proactive tick finished with error", fields)
	} else {
		logger.DebugCF("proactive", "Proactive tick finished", fields)
	}
	return result
}

func (s *Scheduler) evaluate(ctx context.Context) TickResult {
	now := s.cfg.Clock()
	snap, suppressed := s.gather(ctx).without(s.surfacedBefore(now))
	result := TickResult{Snapshot: snap, Suppressed: suppressed}
	if snap.Empty() {
		result.Outcome = OutcomeNothingPending
		return result
	}
	if s.userActive() {
		result.Outcome = OutcomeUserActive
		return result
	}

	situation := situationPreamble + "\n\n" + snap.Render(s.cfg.LookaheadHours) + "\n\n" + situationInstructions
	var pc inference.PromptContext
	if s.source != nil {
		pc = s.source.AssembleProactive(ctx, situation, now)
	} else {
		pc = inference.PromptContext{System: inference.DecisionFormat, Message: situation}
	}

	decision := s.model.Decide(ctx, pc)
	if !decision.ShouldSpeak || decision.Message == "" {
		result.Outcome = OutcomeSilent
		return result
	}
	if s.userActive() {
		result.Outcome = OutcomePreempted
		return result
	}

	// Once the message is out, finish the follow-up work even if a stop
	// arrives meanwhile.
	finishCtx := context.WithoutCancel(ctx)
	result.Message = decision.Message
	if err := s.emit(finishCtx, decision.Message); err != nil {
		result.Outcome = OutcomeEmitFailed
		result.Err = err
		return result
	}
	result.Outcome = OutcomeSpoke
	s.markSurfaced(snap.surfaceKeys(), now)

	if decision.Action != nil {
		res := s.caps.Dispatch(finishCtx, *decision.Action)
		result.Action = decision.Action
		result.ActionResult = &res
	}
	result.MemoryWrites = agent.WriteMemories(finishCtx, s.caps, decision.MemoryWrites)
	result.Dismissed = s.dismiss(finishCtx, snap.ReminderIDs())
	return result
}

// surfacedBefore reports whether a key was mentioned within the resurface
// window of now. Expired keys are forgotten.
func (s *Scheduler) surfacedBefore(now time.Time) func(string) bool {
	s.surfacedMu.Lock()
	defer s.surfacedMu.Unlock()
	active := make(map[string]bool, len(s.surfaced))
	for key, at := range s.surfaced {
		if now.Sub(at) >= s.cfg.Resurface {
			delete(s.surfaced, key)
			continue
		}
		active[key] = true
	}
	return func(key string) bool { return active[key] }
}

func (s *Scheduler) markSurfaced(keys []string, now time.Time) {
	s.surfacedMu.Lock()
	defer s.surfacedMu.Unlock()
	for _, key := range keys {
		s.surfaced[key] = now
	}
}

func (s *Scheduler) userActive() bool {
	return s.activity != nil && s.activity.UserActive()
}

func (s *Scheduler) emit(ctx context.Context, message string) error {
	if s.emitter == nil {
		return errNoEmitter
	}
	if err := s.emitter.Display(ctx, "", message); err != nil {
		return err
	}
	return s.emitter.Speak(ctx, message)
}

func (s *Scheduler) dismiss(ctx context.Context, ids []string) []string {
	dismissed := make([]string, 0, len(ids))
	for _, id := range ids {
		res := s.caps.Dispatch(ctx, capability.ActionRequest{
			Capability: "reminders",
			Action:     "dismiss",
			Params:     capability.Record{"id": id},
		})
		if !res.OK() {
			logger.WarnCF("proactive", "Failed to dismiss reminder",
				map[string]interface{}{"id": id, "error": res.Err.Message})
			continue
		}
		dismissed = append(dismissed, id)
	}
	return dismissed
}

// gather queries the four obligation sources concurrently. A failed query
// contributes nothing.
func (s *Scheduler) gather(ctx context.Context) Snapshot {
	var snap Snapshot
	var g errgroup.Group

	g.Go(func() error {
		snap.FiredReminders = s.query(ctx, "reminders", "get_fired", nil)
		return nil
	})
	g.Go(func() error {
		snap.ImminentEvents = s.query(ctx, "calendar", "get_upcoming", capability.Record{"hours_ahead": s.cfg.LookaheadHours})
		return nil
	})
	g.Go(func() error {
		contacts := s.query(ctx, "contacts", "get_neglected", capability.Record{"days_threshold": s.cfg.NeglectDays})
		if len(contacts) > s.cfg.NeglectLimit {
			contacts = contacts[:s.cfg.NeglectLimit]
		}
		snap.NeglectedContacts = contacts
		return nil
	})
	g.Go(func() error {
		snap.OverdueTasks = s.query(ctx, "tasks", "get_overdue", nil)
		return nil
	})
	_ = g.Wait()
	return snap
}

func (s *Scheduler) query(ctx context.Context, name, action string, params capability.Record) []capability.Record {
	if s.caps == nil || !s.caps.Has(name) {
		return nil
	}
	res := s.caps.Dispatch(ctx, capability.ActionRequest{Capability: name, Action: action, Params: params})
	if !res.OK() {
		logger.WarnCF("proactive", "Obligation query failed",
			map[string]interface{}{
				"action":     name + "." + action,
				"error_kind": res.Err.Kind,
				"error":      res.Err.Message,
			})
		return nil
	}
	list, _ := res.Value.([]capability.Record)
	return list
}
