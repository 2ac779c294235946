package capability

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Args are bound keyword params.
type Args map[string]interface{}

func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) StringOr(name, def string) string {
	if s, ok := a[name].(string); ok && s != "" {
		return s
	}
	return def
}

func (a Args) Int(name string, def int) int {
	if v, ok := a[name].(int); ok {
		return v
	}
	return def
}

func (a Args) Float(name string, def float64) float64 {
	if v, ok := a[name].(float64); ok {
		return v
	}
	return def
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

func (a Args) Record(name string) Record {
	r, _ := a[name].(Record)
	return r
}

// bindArgs checks params against the declared list and coerces values to
// their declared kinds.
func bindArgs(declared []Param, params Record) (Args, error) {
	known := make(map[string]Param, len(declared))
	for _, p := range declared {
		known[p.Name] = p
	}

	for key := range params {
		if _, ok := known[key]; !ok {
			return nil, fmt.Errorf("unexpected parameter %q", key)
		}
	}

	args := make(Args, len(params))
	for _, p := range declared {
		raw, ok := params[p.Name]
		if !ok || raw == nil {
			if p.Required {
				return nil, fmt.Errorf("missing required parameter %q", p.Name)
			}
			continue
		}
		v, err := coerce(p.Kind, raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		args[p.Name] = v
	}
	return args, nil
}

// Coerce converts a decoded JSON value to the given kind using the same
// rules as keyword dispatch. Record actions use it for typed fields.
func Coerce(kind ParamKind, raw interface{}) (interface{}, error) {
	return coerce(kind, raw)
}

func coerce(kind ParamKind, raw interface{}) (interface{}, error) {
	switch kind {
	case KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case int:
			return strconv.Itoa(v), nil
		}
	case KindInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("expected integer, got %v", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return n, nil
			}
		}
	case KindFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return f, nil
			}
		}
	case KindBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err == nil {
				return b, nil
			}
		}
	case KindObject:
		if v, ok := raw.(map[string]interface{}); ok {
			return Record(v), nil
		}
	case KindList:
		if v, ok := raw.([]interface{}); ok {
			return v, nil
		}
	default:
		return raw, nil
	}
	return nil, fmt.Errorf("expected %s, got %T", kind, raw)
}
