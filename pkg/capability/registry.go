package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/chitra/pkg/logger"
)

type entry struct {
	capability Capability
	actions    map[string]Action
	order      []string
}

// Registry maps capability names to their resolved action tables.
type Registry struct {
	entries map[string]*entry
	order   []string
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register resolves a capability's action table. A table with duplicate or
// handler-less actions is rejected.
func (r *Registry) Register(c Capability) error {
	name := strings.TrimSpace(c.Name())
	if name == "" {
		return fmt.Errorf("capability name is required")
	}

	e := &entry{capability: c, actions: make(map[string]Action)}
	for _, a := range c.Actions() {
		if a.Name == "" {
			return fmt.Errorf("capability %q: action name is required", name)
		}
		if _, dup := e.actions[a.Name]; dup {
			return fmt.Errorf("capability %q: duplicate action %q", name, a.Name)
		}
		switch a.Shape {
		case ShapeRecord:
			if a.record == nil {
				return fmt.Errorf("capability %q: record action %q has no handler", name, a.Name)
			}
		case ShapeKeyword:
			if a.keyword == nil {
				return fmt.Errorf("capability %q: keyword action %q has no handler", name, a.Name)
			}
		default:
			return fmt.Errorf("capability %q: action %q has unknown shape %d", name, a.Name, a.Shape)
		}
		e.actions[a.Name] = a
		e.order = append(e.order, a.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("capability %q already registered", name)
	}
	r.entries[name] = e
	r.order = append(r.order, name)
	return nil
}

// MustRegister panics on an invalid action table; used during startup wiring.
func (r *Registry) MustRegister(c Capability) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Has reports whether a capability is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) Get(name string) (Capability, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.capability, true
}

// List returns capability names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Dispatch routes a request to its action and never panics.
func (r *Registry) Dispatch(ctx context.Context, req ActionRequest) (result ActionResult) {
	logger.InfoCF("dispatch", "Action dispatch started",
		map[string]interface{}{
			"action": req.String(),
			"params": sanitizeParams(req.Params),
		})

	r.mu.RLock()
	e, ok := r.entries[req.Capability]
	var action Action
	var found bool
	if ok {
		action, found = e.actions[req.Action]
	}
	r.mu.RUnlock()

	if !ok {
		logger.WarnCF("dispatch", "Unknown capability",
			map[string]interface{}{
				"capability": req.Capability,
			})
		return Failure(KindUnknownCapability, fmt.Sprintf("capability %q is not registered", req.Capability))
	}
	if !found {
		logger.WarnCF("dispatch", "Unknown action",
			map[string]interface{}{
				"capability": req.Capability,
				"action":     req.Action,
			})
		return Failure(KindUnknownAction, fmt.Sprintf("capability %q has no action %q", req.Capability, req.Action))
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("dispatch", "Action panicked",
				map[string]interface{}{
					"action": req.String(),
					"panic":  fmt.Sprint(rec),
				})
			result = Failure(KindCapabilityError, fmt.Sprintf("%s failed: %v", req.String(), rec))
		}
	}()

	value, err := invoke(ctx, action, req.Params)
	duration := time.Since(start)
	if err != nil {
		result = toFailure(req, err)
		logger.ErrorCF("dispatch", "Action failed",
			map[string]interface{}{
				"action":      req.String(),
				"duration_ms": duration.Milliseconds(),
				"error_kind":  result.Err.Kind,
				"error":       result.Err.Message,
			})
		return result
	}

	logger.InfoCF("dispatch", "Action completed",
		map[string]interface{}{
			"action":      req.String(),
			"duration_ms": duration.Milliseconds(),
		})
	return Success(value)
}

type paramsError struct{ err error }

func (e *paramsError) Error() string { return e.err.Error() }

func invoke(ctx context.Context, a Action, params Record) (interface{}, error) {
	switch a.Shape {
	case ShapeKeyword:
		args, err := bindArgs(a.Params, params)
		if err != nil {
			return nil, &paramsError{err: err}
		}
		return a.keyword(ctx, args)
	default:
		rec := params
		if rec == nil {
			rec = Record{}
		}
		return a.record(ctx, rec)
	}
}

func toFailure(req ActionRequest, err error) ActionResult {
	var pe *paramsError
	if errors.As(err, &pe) {
		return Failure(KindInvalidParams, fmt.Sprintf("%s: %v", req.String(), pe.err))
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ActionResult{Err: ce}
	}
	return Failure(KindCapabilityError, fmt.Sprintf("%s failed: %v", req.String(), err))
}

// Catalog renders every registered action with its params, in registration
// order, for the model's system context.
func (r *Registry) Catalog() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var sb strings.Builder
	for _, name := range r.order {
		e := r.entries[name]
		sb.WriteString(fmt.Sprintf("%s: %s\n", name, e.capability.Description()))
		for _, actionName := range e.order {
			a := e.actions[actionName]
			sb.WriteString(fmt.Sprintf("  - %s(%s)", a.Name, formatParams(a)))
			if a.Description != "" {
				sb.WriteString(" - " + a.Description)
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatParams(a Action) string {
	if a.Shape == ShapeRecord {
		fields := make([]string, 0, len(a.Params))
		for _, p := range a.Params {
			f := p.Name
			if p.Required {
				f += "*"
			}
			fields = append(fields, f)
		}
		return "{" + strings.Join(fields, ", ") + "}"
	}
	parts := make([]string, 0, len(a.Params))
	for _, p := range a.Params {
		s := p.Name + ": " + string(p.Kind)
		if !p.Required {
			s += "?"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", ")
}

// Close closes every capability that holds resources, in reverse
// registration order.
func (r *Registry) Close() error {
	r.mu.RLock()
	closers := make([]ClosableCapability, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		if c, ok := r.entries[r.order[i]].capability.(ClosableCapability); ok {
			closers = append(closers, c)
		}
	}
	r.mu.RUnlock()

	var errs []string
	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", c.Name(), err))
		}
	}
	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("capability close failures: %s", strings.Join(errs, "; "))
	}
	return nil
}

var sensitiveParamFragments = []string{
	"password",
	"secret",
	"token",
	"phone",
	"email",
}

func sanitizeParams(params Record) Record {
	if params == nil {
		return nil
	}
	out := make(Record, len(params))
	for k, v := range params {
		out[k] = sanitizeValue(k, v, 0)
	}
	return out
}

func sanitizeValue(key string, value interface{}, depth int) interface{} {
	if depth > 6 {
		return "<omitted>"
	}
	lower := strings.ToLower(key)
	for _, frag := range sensitiveParamFragments {
		if strings.Contains(lower, frag) {
			return "<redacted>"
		}
	}
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = sanitizeValue(k, v, depth+1)
		}
		return out
	case string:
		const maxLen = 256
		if len(typed) > maxLen {
			return typed[:maxLen] + "...(truncated)"
		}
		return typed
	default:
		return value
	}
}
