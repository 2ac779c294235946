// Chitra - local-first personal assistant
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dotsetgreg/chitra/pkg/bus"
	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/inference"
	"github.com/dotsetgreg/chitra/pkg/logger"
	"github.com/dotsetgreg/chitra/pkg/storage"
)

// Model is the inference surface the turn handler uses.
type Model interface {
	Call(ctx context.Context, pc inference.PromptContext) inference.ModelResponse
}

type Options struct {
	DataDir      string
	ModelName    string
	HistoryTurns int
	Clock        storage.Clock
}

// Core handles user turns: assemble, infer, optionally act and infer again,
// then remember.
type Core struct {
	bus       *bus.MessageBus
	model     Model
	caps      Capabilities
	session   *Session
	assembler *ContextAssembler
	modelName string
	clock     storage.Clock

	turnMu  sync.Mutex
	running atomic.Bool
}

func NewCore(msgBus *bus.MessageBus, model Model, caps Capabilities, session *Session, opts Options) *Core {
	if session == nil {
		session = NewSession(opts.HistoryTurns)
	}
	clock := opts.Clock
	if clock == nil {
		clock = storage.SystemClock
	}
	return &Core{
		bus:       msgBus,
		model:     model,
		caps:      caps,
		session:   session,
		assembler: NewContextAssembler(caps, opts.DataDir, opts.HistoryTurns),
		modelName: opts.ModelName,
		clock:     clock,
	}
}

func (c *Core) Session() *Session { return c.session }

func (c *Core) Assembler() *ContextAssembler { return c.assembler }

// Run consumes user utterances from the bus until the context is cancelled
// or the bus is closed.
func (c *Core) Run(ctx context.Context) error {
	if c.bus == nil {
		return fmt.Errorf("agent: no message bus configured")
	}
	c.running.Store(true)
	defer c.running.Store(false)

	for c.running.Load() {
		msg, ok := c.bus.ConsumeInbound(ctx)
		if !ok {
			return nil
		}

		response := c.processMessage(ctx, msg)
		if response != "" {
			c.bus.PublishOutbound(bus.OutboundMessage{
				Text:      response,
				InReplyTo: msg.Text,
			})
		}
	}
	return nil
}

func (c *Core) Stop() {
	c.running.Store(false)
}

func (c *Core) processMessage(ctx context.Context, msg bus.InboundMessage) string {
	logger.InfoCF("agent", fmt.Sprintf("Processing message: %s", truncate(msg.Text, 80)),
		map[string]interface{}{
			"source":      string(msg.Source),
			"received_at": msg.ReceivedAt.Format(time.RFC3339),
		})

	if response, handled := c.handleCommand(msg); handled {
		return response
	}
	return c.HandleTurn(ctx, msg.Text)
}

// HandleTurn runs one user turn to completion and returns the reply. Turns
// are serialized; the session is marked active for the whole turn.
func (c *Core) HandleTurn(ctx context.Context, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	c.session.Begin()
	defer c.session.End()

	start := time.Now()
	now := c.clock()
	pc := c.assembler.Assemble(ctx, c.session, text, now)

	first := c.model.Call(ctx, pc)
	final := first
	writes := append([]inference.MemoryCandidate(nil), first.MemoryWrites...)
	dispatched := ""

	if first.Action != nil {
		req := *first.Action
		dispatched = req.String()
		result := c.caps.Dispatch(ctx, req)

		second := pc
		second.Addenda = append(append([]string(nil), pc.Addenda...), actionResultSection(first, result))
		final = c.model.Call(ctx, second)
		if final.Action != nil {
			logger.InfoCF("agent", "Ignoring action proposed after an action result",
				map[string]interface{}{"action": final.Action.String()})
		}
		writes = append(writes, final.MemoryWrites...)
	}

	reply := strings.TrimSpace(final.Reply)
	if reply == "" {
		reply = inference.FallbackReply
	}

	c.session.Append(inference.Turn{Speaker: inference.SpeakerUser, Text: text, Timestamp: now})
	c.session.Append(inference.Turn{Speaker: inference.SpeakerAgent, Text: reply, Timestamp: c.clock()})

	stored := WriteMemories(context.WithoutCancel(ctx), c.caps, writes)

	logger.InfoCF("agent", fmt.Sprintf("Response: %s", truncate(reply, 120)),
		map[string]interface{}{
			"intent":        final.Intent,
			"action":        dispatched,
			"memory_writes": stored,
			"duration_ms":   time.Since(start).Milliseconds(),
		})
	return reply
}

func actionResultSection(first inference.ModelResponse, result capability.ActionResult) string {
	raw, err := json.Marshal(result)
	if err != nil {
		raw = []byte(fmt.Sprintf(`{"ok":false,"error_kind":"capability_error","message":%q}`, err.Error()))
	}
	params, _ := json.Marshal(first.Action.Params)
	return fmt.Sprintf("# Action result\n\nYou requested %s with params %s and drafted the reply %q.\nResult: %s\n\nWrite the final reply to the user based on this result. Do not request another action.",
		first.Action.String(), params, first.Reply, raw)
}

// WriteMemories stores candidates through the memory capability, skipping
// duplicates within the batch. It returns how many were stored.
func WriteMemories(ctx context.Context, caps Capabilities, candidates []inference.MemoryCandidate) int {
	if caps == nil || len(candidates) == 0 {
		return 0
	}
	seen := make(map[string]bool, len(candidates))
	stored := 0
	for _, cand := range candidates {
		key := strings.ToLower(cand.Category + "\x00" + cand.Subject + "\x00" + cand.Content)
		if seen[key] {
			continue
		}
		seen[key] = true

		result := caps.Dispatch(ctx, capability.ActionRequest{
			Capability: "memory",
			Action:     "store",
			Params:     cand.Record(),
		})
		if !result.OK() {
			logger.WarnCF("agent", "Failed to store memory",
				map[string]interface{}{
					"subject":    cand.Subject,
					"error_kind": result.Err.Kind,
					"error":      result.Err.Message,
				})
			continue
		}
		stored++
	}
	return stored
}

// GetStartupInfo summarizes the runtime for the status command.
func (c *Core) GetStartupInfo() map[string]interface{} {
	info := map[string]interface{}{
		"model":         c.modelName,
		"history_turns": c.session.Capacity(),
	}
	if lister, ok := c.caps.(interface{ List() []string }); ok {
		info["capabilities"] = lister.List()
	}
	if s, ok := c.model.(interface{ Stats() inference.Stats }); ok {
		stats := s.Stats()
		info["inference"] = map[string]interface{}{
			"calls":     stats.Calls,
			"attempts":  stats.Attempts,
			"retries":   stats.Retries,
			"fallbacks": stats.Fallbacks,
		}
	}
	return info
}

func (c *Core) handleCommand(msg bus.InboundMessage) (string, bool) {
	content := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}

	parts := strings.Fields(content)
	if len(parts) == 0 {
		return "", false
	}

	cmd := parts[0]
	args := parts[1:]

	switch cmd {
	case "/show":
		if len(args) < 1 {
			return "Usage: /show [model|history|stats|capabilities]", true
		}
		switch args[0] {
		case "model":
			return fmt.Sprintf("Current model: %s", valueOr(c.modelName, "(unset)")), true
		case "history":
			turns := c.session.History(0)
			if len(turns) == 0 {
				return "No conversation yet.", true
			}
			lines := make([]string, 0, len(turns))
			for _, t := range turns {
				lines = append(lines, fmt.Sprintf("%s %s: %s", t.Timestamp.Format("15:04"), t.Speaker, t.Text))
			}
			return strings.Join(lines, "\n"), true
		case "stats":
			s, ok := c.model.(interface{ Stats() inference.Stats })
			if !ok {
				return "No inference statistics available.", true
			}
			stats := s.Stats()
			return fmt.Sprintf("Inference: %d calls, %d attempts, %d retries, %d fallbacks (direct %d, fenced %d, embedded %d)",
				stats.Calls, stats.Attempts, stats.Retries, stats.Fallbacks,
				stats.Methods[inference.ParseDirect], stats.Methods[inference.ParseFenced], stats.Methods[inference.ParseEmbedded]), true
		case "capabilities":
			if c.caps == nil {
				return "No capabilities registered.", true
			}
			return c.caps.Catalog(), true
		default:
			return fmt.Sprintf("Unknown show target: %s", args[0]), true
		}
	}

	return "", false
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
