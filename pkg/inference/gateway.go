package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dotsetgreg/chitra/pkg/logger"
	"github.com/dotsetgreg/chitra/pkg/providers"
)

// MaxRetries is the hard cap on correction retries after the first attempt.
const MaxRetries = 2

type Options struct {
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// Stats counts attempts by outcome since the gateway was created.
type Stats struct {
	Calls     int
	Attempts  int
	Retries   int
	Fallbacks int
	Methods   map[ParseMethod]int
}

// Gateway is the single choke point for model calls.
type Gateway struct {
	provider providers.LLMProvider
	known    KnownCapability
	model    string
	timeout  time.Duration
	retries  int

	mu    sync.Mutex
	stats Stats
}

func NewGateway(provider providers.LLMProvider, known KnownCapability, opts Options) *Gateway {
	retries := opts.MaxRetries
	if retries < 0 || retries > MaxRetries {
		retries = MaxRetries
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	model := opts.Model
	if model == "" && provider != nil {
		model = provider.GetDefaultModel()
	}
	return &Gateway{
		provider: provider,
		known:    known,
		model:    model,
		timeout:  timeout,
		retries:  retries,
		stats:    Stats{Methods: map[ParseMethod]int{}},
	}
}

// Call returns a validated response for the prompt, or the fallback
// response once retries are exhausted. It never returns an error.
func (g *Gateway) Call(ctx context.Context, pc PromptContext) ModelResponse {
	resp, ok := run(ctx, g, "call", pc.Render(), ResponseFormat, func(obj object) (ModelResponse, error) {
		return decodeResponse(obj, g.known)
	})
	if !ok {
		return Fallback()
	}
	return resp
}

// Decide is the proactive variant of Call. Exhaustion yields a decision to
// stay silent.
func (g *Gateway) Decide(ctx context.Context, pc PromptContext) Decision {
	d, ok := run(ctx, g, "decide", pc.Render(), DecisionFormat, func(obj object) (Decision, error) {
		return decodeDecision(obj, g.known)
	})
	if !ok {
		return Decision{}
	}
	return d
}

func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.stats
	out.Methods = make(map[ParseMethod]int, len(g.stats.Methods))
	for k, v := range g.stats.Methods {
		out.Methods[k] = v
	}
	return out
}

type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeRetry
	outcomeExhausted
)

func (o outcome) String() string {
	switch o {
	case outcomeSuccess:
		return "success"
	case outcomeRetry:
		return "retry"
	default:
		return "exhausted"
	}
}

// next decides the state after an attempt. attempt is zero-based.
func (g *Gateway) next(ctx context.Context, attempt int, failed bool) outcome {
	switch {
	case !failed:
		return outcomeSuccess
	case ctx.Err() != nil:
		return outcomeExhausted
	case attempt >= g.retries:
		return outcomeExhausted
	default:
		return outcomeRetry
	}
}

func run[T any](ctx context.Context, g *Gateway, kind, prompt, format string, decode func(object) (T, error)) (T, bool) {
	var zero T
	g.record(func(s *Stats) { s.Calls++ })

	current := prompt
	for attempt := 0; ; attempt++ {
		start := time.Now()
		raw, genErr := g.generate(ctx, current)

		var (
			result  T
			failure error
			method  = ParseNone
		)
		if genErr != nil {
			failure = genErr
		} else {
			var obj object
			obj, method, failure = extractObject(raw)
			if failure == nil {
				result, failure = decode(obj)
			}
		}

		state := g.next(ctx, attempt, failure != nil)
		g.record(func(s *Stats) {
			s.Attempts++
			s.Methods[method]++
			switch state {
			case outcomeRetry:
				s.Retries++
			case outcomeExhausted:
				s.Fallbacks++
			}
		})

		fields := map[string]interface{}{
			"kind":        kind,
			"attempt":     attempt + 1,
			"parse":       string(method),
			"outcome":     state.String(),
			"duration_ms": time.Since(start).Milliseconds(),
		}
		if failure != nil {
			fields["error"] = failure.Error()
		}

		switch state {
		case outcomeSuccess:
			logger.DebugCF("inference", "Model response accepted", fields)
			return result, true
		case outcomeExhausted:
			logger.WarnCF("inference", "Model response unusable, falling back", fields)
			return zero, false
		default:
			logger.InfoCF("inference", "Retrying model call with correction", fields)
			previous := raw
			if genErr != nil {
				previous = genErr.Error()
			}
			current = correctionPrompt(prompt, format, failure.Error(), previous)
		}
	}
}

func (g *Gateway) generate(ctx context.Context, prompt string) (string, error) {
	if g.provider == nil {
		return "", errors.New("no model provider configured")
	}
	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.provider.Generate(attemptCtx, providers.GenerateRequest{
		Model:  g.model,
		Prompt: prompt,
	})
	if err != nil {
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("model request timed out after %s", g.timeout)
		}
		return "", fmt.Errorf("model request failed: %w", err)
	}
	if resp == nil {
		return "", errors.New("model returned no response")
	}
	return resp.Text, nil
}

func (g *Gateway) record(fn func(*Stats)) {
	g.mu.Lock()
	fn(&g.stats)
	g.mu.Unlock()
}
