package inference

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/logger"
)

// KnownCapability reports whether a capability name is registered.
type KnownCapability func(name string) bool

var (
	memoryCategories = map[string]bool{"preference": true, "fact": true, "observation": true, "relationship": true}
	memorySources    = map[string]bool{"stated": true, "inferred": true}
)

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || strings.TrimSpace(string(raw)) == "null"
}

func stringField(obj object, key string, required bool) (string, bool, error) {
	raw, ok := obj[key]
	if !ok || isNull(raw) {
		if required {
			return "", false, fmt.Errorf("missing required field %q", key)
		}
		return "", false, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false, fmt.Errorf("field %q must be a string", key)
	}
	return s, true, nil
}

func decodeResponse(obj object, known KnownCapability) (ModelResponse, error) {
	reply, _, err := stringField(obj, "reply", true)
	if err != nil {
		return ModelResponse{}, err
	}
	intent, ok, err := stringField(obj, "intent", false)
	if err != nil {
		return ModelResponse{}, err
	}
	if !ok || strings.TrimSpace(intent) == "" {
		intent = IntentConversation
	}
	action, err := decodeAction(obj["action"], known)
	if err != nil {
		return ModelResponse{}, err
	}
	writes, err := decodeMemoryWrites(obj["memory_writes"])
	if err != nil {
		return ModelResponse{}, err
	}
	return ModelResponse{
		Intent:       intent,
		Action:       action,
		Reply:        reply,
		MemoryWrites: writes,
	}, nil
}

func decodeDecision(obj object, known KnownCapability) (Decision, error) {
	raw, ok := obj["should_speak"]
	if !ok || isNull(raw) {
		return Decision{}, fmt.Errorf("missing required field %q", "should_speak")
	}
	var speak bool
	if err := json.Unmarshal(raw, &speak); err != nil {
		return Decision{}, fmt.Errorf("field %q must be a boolean", "should_speak")
	}
	reply, _, err := stringField(obj, "reply", speak)
	if err != nil {
		return Decision{}, err
	}
	if speak && strings.TrimSpace(reply) == "" {
		return Decision{}, fmt.Errorf("field %q must not be empty when should_speak is true", "reply")
	}
	action, err := decodeAction(obj["action"], known)
	if err != nil {
		return Decision{}, err
	}
	writes, err := decodeMemoryWrites(obj["memory_writes"])
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		ShouldSpeak:  speak,
		Message:      reply,
		Action:       action,
		MemoryWrites: writes,
	}, nil
}

func decodeAction(raw json.RawMessage, known KnownCapability) (*capability.ActionRequest, error) {
	if isNull(raw) {
		return nil, nil
	}
	var obj object
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("field %q must be an object or null", "action")
	}
	name, _, err := stringField(obj, "capability", true)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("action: capability must not be empty")
	}
	if known != nil && !known(name) {
		return nil, fmt.Errorf("action: unknown capability %q", name)
	}
	act, _, err := stringField(obj, "action", true)
	if err != nil {
		return nil, fmt.Errorf("action: %w", err)
	}
	if strings.TrimSpace(act) == "" {
		return nil, fmt.Errorf("action: action must not be empty")
	}

	params := capability.Record{}
	if p, ok := obj["params"]; ok && !isNull(p) {
		var decoded map[string]interface{}
		if err := json.Unmarshal(p, &decoded); err != nil || decoded == nil {
			return nil, fmt.Errorf("action: params must be an object")
		}
		params = decoded
	}
	return &capability.ActionRequest{Capability: name, Action: act, Params: params}, nil
}

func decodeMemoryWrites(raw json.RawMessage) ([]MemoryCandidate, error) {
	writes := []MemoryCandidate{}
	if isNull(raw) {
		return writes, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("field %q must be an array or null", "memory_writes")
	}
	for i, item := range items {
		cand, err := decodeCandidate(item)
		if err != nil {
			logger.WarnCF("inference", "Dropping memory candidate", map[string]interface{}{
				"index": i,
				"error": err.Error(),
			})
			continue
		}
		writes = append(writes, cand)
	}
	return writes, nil
}

func decodeCandidate(raw json.RawMessage) (MemoryCandidate, error) {
	var wire struct {
		Category   string   `json:"category"`
		Subject    string   `json:"subject"`
		Content    string   `json:"content"`
		Confidence *float64 `json:"confidence"`
		Source     string   `json:"source"`
		ContactID  string   `json:"contact_id"`
	}
	if err := json.Unmarshal(raw, &wire); err != nil {
		return MemoryCandidate{}, fmt.Errorf("malformed candidate: %w", err)
	}
	cand := MemoryCandidate{
		Category:   strings.ToLower(strings.TrimSpace(wire.Category)),
		Subject:    strings.TrimSpace(wire.Subject),
		Content:    strings.TrimSpace(wire.Content),
		Confidence: 1.0,
		Source:     strings.ToLower(strings.TrimSpace(wire.Source)),
		ContactID:  strings.TrimSpace(wire.ContactID),
	}
	if cand.Source == "" {
		cand.Source = "stated"
	}
	if wire.Confidence != nil {
		cand.Confidence = *wire.Confidence
	}
	switch {
	case !memoryCategories[cand.Category]:
		return MemoryCandidate{}, fmt.Errorf("unknown category %q", wire.Category)
	case !memorySources[cand.Source]:
		return MemoryCandidate{}, fmt.Errorf("unknown source %q", wire.Source)
	case cand.Confidence < 0 || cand.Confidence > 1:
		return MemoryCandidate{}, fmt.Errorf("confidence %v outside [0,1]", cand.Confidence)
	case cand.Subject == "" || cand.Content == "":
		return MemoryCandidate{}, fmt.Errorf("subject and content are required")
	}
	return cand, nil
}
