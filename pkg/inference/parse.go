package inference

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ParseMethod records which tier produced the structured record.
type ParseMethod string

const (
	ParseDirect   ParseMethod = "direct"
	ParseFenced   ParseMethod = "fenced"
	ParseEmbedded ParseMethod = "embedded"
	ParseNone     ParseMethod = "none"
)

var errNoObject = errors.New("no JSON object found in model output")

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*[ \\t]*\\r?\\n?(.*?)```")

type object = map[string]json.RawMessage

// extractObject tries the tiers in order: whole text, first fenced code
// block, first balanced top-level {...} region.
func extractObject(raw string) (object, ParseMethod, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil, ParseNone, errNoObject
	}

	if obj, ok := decodeObject(text); ok {
		return obj, ParseDirect, nil
	}

	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(strings.TrimSpace(m[1])); ok {
			return obj, ParseFenced, nil
		}
	}

	if region, ok := firstBalancedObject(text); ok {
		if obj, ok := decodeObject(region); ok {
			return obj, ParseEmbedded, nil
		}
	}

	return nil, ParseNone, errNoObject
}

func decodeObject(text string) (object, bool) {
	if !strings.HasPrefix(text, "{") {
		return nil, false
	}
	var obj object
	if err := json.Unmarshal([]byte(text), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// firstBalancedObject scans for the first '{' and returns the region up to
// its matching '}', ignoring braces inside JSON strings.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
