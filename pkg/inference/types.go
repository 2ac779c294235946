// Package inference turns a prompt context into a validated ModelResponse,
// retrying with corrective prompts and falling back when the model cannot
// produce the expected structure.
package inference

import (
	"time"

	"github.com/dotsetgreg/chitra/pkg/capability"
)

type Speaker string

const (
	SpeakerUser  Speaker = "user"
	SpeakerAgent Speaker = "agent"
)

// Turn is one utterance in the conversation.
type Turn struct {
	Speaker   Speaker
	Text      string
	Timestamp time.Time
}

// PromptContext is everything sent to the model for one call.
type PromptContext struct {
	System  string
	Addenda []string
	History []Turn
	Message string
}

// MemoryCandidate is a memory the model proposes to store.
type MemoryCandidate struct {
	Category   string
	Subject    string
	Content    string
	Confidence float64
	Source     string
	ContactID  string
}

// Record renders the candidate as memory.store params.
func (m MemoryCandidate) Record() capability.Record {
	rec := capability.Record{
		"category":   m.Category,
		"subject":    m.Subject,
		"content":    m.Content,
		"confidence": m.Confidence,
		"source":     m.Source,
	}
	if m.ContactID != "" {
		rec["contact_id"] = m.ContactID
	}
	return rec
}

// ModelResponse is the validated, normalized model output for a user turn.
type ModelResponse struct {
	Intent       string
	Action       *capability.ActionRequest
	Reply        string
	MemoryWrites []MemoryCandidate
}

// Decision is the model's answer to a proactive check.
type Decision struct {
	ShouldSpeak  bool
	Message      string
	Action       *capability.ActionRequest
	MemoryWrites []MemoryCandidate
}

const (
	IntentFallback     = "fallback"
	IntentConversation = "conversation"
)

// FallbackReply is spoken when the model never produced usable output.
const FallbackReply = "Sorry, I had trouble understanding that just now. Could you say it again?"

// Fallback is the response used once every retry is exhausted.
func Fallback() ModelResponse {
	return ModelResponse{
		Intent:       IntentFallback,
		Reply:        FallbackReply,
		MemoryWrites: []MemoryCandidate{},
	}
}
