package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/chitra/pkg/agent"
	"github.com/dotsetgreg/chitra/pkg/bus"
	"github.com/dotsetgreg/chitra/pkg/calendar"
	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/config"
	"github.com/dotsetgreg/chitra/pkg/contacts"
	"github.com/dotsetgreg/chitra/pkg/inference"
	"github.com/dotsetgreg/chitra/pkg/logger"
	"github.com/dotsetgreg/chitra/pkg/memory"
	"github.com/dotsetgreg/chitra/pkg/onboarding"
	"github.com/dotsetgreg/chitra/pkg/proactive"
	"github.com/dotsetgreg/chitra/pkg/providers"
	"github.com/dotsetgreg/chitra/pkg/reminders"
	"github.com/dotsetgreg/chitra/pkg/storage"
	"github.com/dotsetgreg/chitra/pkg/sysstate"
	"github.com/dotsetgreg/chitra/pkg/tasks"
	"github.com/dotsetgreg/chitra/pkg/voice"
)

// storeNames are the SQLite files kept under the data dir.
var storeNames = []string{"contacts", "calendar", "reminders", "tasks", "memory"}

const historyFile = ".history"

// openRegistry opens every store and registers its capability. On failure
// the capabilities registered so far are closed.
func openRegistry(cfg *config.Config, console *voice.Console, clock storage.Clock) (*capability.Registry, error) {
	reg := capability.NewRegistry()
	opened := false
	defer func() {
		if !opened {
			_ = reg.Close()
		}
	}()

	contactStore, err := contacts.NewStore(cfg.DBPath("contacts"), clock)
	if err != nil {
		return nil, fmt.Errorf("open contacts: %w", err)
	}
	if err := reg.Register(contacts.NewCapability(contactStore)); err != nil {
		_ = contactStore.Close()
		return nil, err
	}

	calendarStore, err := calendar.NewStore(cfg.DBPath("calendar"), clock)
	if err != nil {
		return nil, fmt.Errorf("open calendar: %w", err)
	}
	if err := reg.Register(calendar.NewCapability(calendarStore)); err != nil {
		_ = calendarStore.Close()
		return nil, err
	}

	reminderStore, err := reminders.NewStore(cfg.DBPath("reminders"), clock)
	if err != nil {
		return nil, fmt.Errorf("open reminders: %w", err)
	}
	if err := reg.Register(reminders.NewCapability(reminderStore)); err != nil {
		_ = reminderStore.Close()
		return nil, err
	}

	taskStore, err := tasks.NewStore(cfg.DBPath("tasks"), clock)
	if err != nil {
		return nil, fmt.Errorf("open tasks: %w", err)
	}
	if err := reg.Register(tasks.NewCapability(taskStore)); err != nil {
		_ = taskStore.Close()
		return nil, err
	}

	memoryStore, err := memory.NewSQLiteStore(cfg.DBPath("memory"), clock)
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	if err := reg.Register(memory.NewCapability(memoryStore)); err != nil {
		_ = memoryStore.Close()
		return nil, err
	}

	if err := reg.Register(sysstate.NewCapability(clock, nil)); err != nil {
		return nil, err
	}
	if err := reg.Register(voice.NewCapability(console)); err != nil {
		return nil, err
	}

	opened = true
	logger.InfoCF("runtime", "Capabilities registered",
		map[string]interface{}{"count": reg.Count(), "names": reg.List()})
	return reg, nil
}

// assistant holds the wired components of one session.
type assistant struct {
	cfg       *config.Config
	console   *voice.Console
	registry  *capability.Registry
	gateway   *inference.Gateway
	bus       *bus.MessageBus
	core      *agent.Core
	scheduler *proactive.Scheduler
	flow      *onboarding.Flow
}

func newAssistant(cfg *config.Config, provider providers.LLMProvider, in voice.LineReader, out io.Writer, clock storage.Clock) (*assistant, error) {
	if clock == nil {
		clock = storage.SystemClock
	}

	console := voice.NewConsole(in, out, clock)
	if err := console.SetInputMode(cfg.Voice.InputMode); err != nil {
		logger.WarnCF("runtime", "Falling back to text input",
			map[string]interface{}{"requested": cfg.Voice.InputMode, "error": err.Error()})
	}

	reg, err := openRegistry(cfg, console, clock)
	if err != nil {
		return nil, err
	}

	gateway := inference.NewGateway(provider, reg.Has, inference.Options{
		Model:      cfg.Model.Name,
		Timeout:    cfg.InferenceTimeout(),
		MaxRetries: cfg.Model.MaxRetries,
	})

	msgBus := bus.NewMessageBus()
	session := agent.NewSession(cfg.Session.HistoryTurns)
	core := agent.NewCore(msgBus, gateway, reg, session, agent.Options{
		DataDir:      cfg.DataDir(),
		ModelName:    cfg.Model.Name,
		HistoryTurns: cfg.Session.HistoryTurns,
		Clock:        clock,
	})

	scheduler := proactive.NewScheduler(reg, gateway, core.Assembler(), session, console, proactive.Config{
		Interval:       cfg.ProactiveInterval(),
		LookaheadHours: cfg.Proactive.LookaheadHours,
		NeglectDays:    cfg.Proactive.NeglectDays,
		Clock:          clock,
	})

	return &assistant{
		cfg:       cfg,
		console:   console,
		registry:  reg,
		gateway:   gateway,
		bus:       msgBus,
		core:      core,
		scheduler: scheduler,
		flow:      onboarding.NewFlow(reg, console, cfg.DataDir()),
	}, nil
}

func (a *assistant) Close() error {
	a.bus.Close()
	return a.registry.Close()
}

// serve runs input, the turn handler, output and the proactive scheduler
// until the user leaves or ctx is cancelled.
func (a *assistant) serve(ctx context.Context, proactiveEnabled bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	// Reads block outside the group; closing the reader unblocks them.
	go func() {
		for {
			line, err := a.console.Listen(context.Background())
			if err != nil {
				readErr <- err
				return
			}
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case err := <-readErr:
				if errors.Is(err, io.EOF) || gctx.Err() != nil {
					logger.InfoC("runtime", "Input closed, ending session")
					return nil
				}
				return fmt.Errorf("read input: %w", err)
			case line := <-lines:
				if !a.bus.PublishInbound(bus.InboundMessage{Text: line, Source: bus.SourceText}) {
					logger.WarnC("runtime", "Inbound queue full, message dropped")
				}
			}
		}
	})

	g.Go(func() error {
		return a.core.Run(gctx)
	})

	g.Go(func() error {
		for {
			msg, ok := a.bus.SubscribeOutbound(gctx)
			if !ok {
				return nil
			}
			if err := a.console.Display(gctx, msg.InReplyTo, msg.Text); err != nil {
				logger.ErrorCF("runtime", "Failed to display reply",
					map[string]interface{}{"error": err.Error()})
			}
		}
	})

	if proactiveEnabled {
		g.Go(func() error {
			return a.scheduler.Run(gctx)
		})
	}

	return g.Wait()
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openInput prefers readline on a terminal and falls back to plain stdin.
func openInput(cfg *config.Config) (voice.LineReader, io.Writer, func()) {
	rl, err := voice.NewReadlineReader(filepath.Join(cfg.DataDir(), historyFile))
	if err != nil {
		logger.WarnCF("runtime", "Readline unavailable, using plain input",
			map[string]interface{}{"error": err.Error()})
		return voice.NewBufferedReader(os.Stdin, os.Stdout), os.Stdout, func() {}
	}
	return rl, rl.Writer(), sync.OnceFunc(func() { _ = rl.Close() })
}

func runInteractive(parent context.Context, cfg *config.Config, proactiveEnabled bool) error {
	ctx, stop := signalContext(parent)
	defer stop()
	defer logger.Sync()

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir(), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	in, out, closeInput := openInput(cfg)
	a, err := newAssistant(cfg, provider, in, out, storage.SystemClock)
	if err != nil {
		closeInput()
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.ErrorCF("runtime", "Close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	if a.flow.ShouldRun() {
		if _, err := a.flow.Run(ctx); err != nil {
			closeInput()
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
	}

	info := a.core.GetStartupInfo()
	logger.InfoCF("runtime", "Session started", info)
	fmt.Fprintf(out, "Chitra is listening (model %s). Type exit to leave.\n", cfg.Model.Name)

	go func() {
		<-ctx.Done()
		closeInput()
	}()
	err = a.serve(ctx, proactiveEnabled && cfg.Proactive.Enabled)
	closeInput()
	return err
}

// runOnce handles a single message without proactive checks or onboarding.
func runOnce(parent context.Context, cfg *config.Config, message string, out io.Writer) error {
	ctx, stop := signalContext(parent)
	defer stop()

	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}
	a, err := newAssistant(cfg, provider, voice.NewBufferedReader(eofReader{}, nil), out, storage.SystemClock)
	if err != nil {
		return err
	}
	defer a.Close()

	reply := a.core.HandleTurn(ctx, message)
	return a.console.Display(ctx, message, reply)
}

func runOnboarding(parent context.Context, cfg *config.Config) error {
	ctx, stop := signalContext(parent)
	defer stop()

	in, out, closeInput := openInput(cfg)
	defer closeInput()

	console := voice.NewConsole(in, out, storage.SystemClock)
	reg, err := openRegistry(cfg, console, storage.SystemClock)
	if err != nil {
		return err
	}
	defer reg.Close()

	flow := onboarding.NewFlow(reg, console, cfg.DataDir())
	if err := flow.Reset(); err != nil {
		return err
	}
	if _, err := flow.Run(ctx); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }
