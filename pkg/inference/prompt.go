package inference

import (
	"strings"
)

const sectionSeparator = "\n\n---\n\n"

// ResponseFormat describes the structure expected for a user turn.
const ResponseFormat = `Respond with a single JSON object and nothing else, using this structure:
{
  "intent": "short label for what the user wants",
  "action": null or {"capability": "<capability name>", "action": "<action name>", "params": {...}},
  "reply": "what you say to the user",
  "memory_writes": [
    {"category": "preference|fact|observation|relationship", "subject": "...", "content": "...", "confidence": 0.0-1.0, "source": "stated|inferred"}
  ]
}
Use "action" only when a capability from the catalog is needed. Use "memory_writes" only for things worth remembering about the user.`

// DecisionFormat describes the structure expected for a proactive check.
const DecisionFormat = `Respond with a single JSON object and nothing else, using this structure:
{
  "should_speak": true or false,
  "reply": "what you say to the user when should_speak is true",
  "action": null or {"capability": "<capability name>", "action": "<action name>", "params": {...}},
  "memory_writes": []
}`

// Render flattens the context into the prompt text sent to the model. The
// user message always comes last.
func (p PromptContext) Render() string {
	var sb strings.Builder

	parts := make([]string, 0, 1+len(p.Addenda))
	if s := strings.TrimSpace(p.System); s != "" {
		parts = append(parts, s)
	}
	for _, a := range p.Addenda {
		if s := strings.TrimSpace(a); s != "" {
			parts = append(parts, s)
		}
	}
	sb.WriteString(strings.Join(parts, sectionSeparator))

	if len(p.History) > 0 {
		sb.WriteString(sectionSeparator)
		sb.WriteString("Conversation so far:\n")
		for _, turn := range p.History {
			sb.WriteString(speakerLabel(turn.Speaker))
			sb.WriteString(": ")
			sb.WriteString(turn.Text)
			sb.WriteString("\n")
		}
	}

	if p.Message != "" {
		sb.WriteString(sectionSeparator)
		sb.WriteString("User: ")
		sb.WriteString(p.Message)
	}
	return sb.String()
}

func speakerLabel(s Speaker) string {
	if s == SpeakerAgent {
		return "Chitra"
	}
	return "User"
}

// correctionPrompt is the original prompt followed by the expected
// structure and whatever the previous attempt produced.
func correctionPrompt(original, format, failure, previous string) string {
	var sb strings.Builder
	sb.WriteString(original)
	sb.WriteString(sectionSeparator)
	sb.WriteString("Your previous response could not be used (")
	sb.WriteString(failure)
	sb.WriteString(").\n")
	sb.WriteString(format)
	sb.WriteString("\n\nYour previous response was:\n")
	if strings.TrimSpace(previous) == "" {
		sb.WriteString("(empty)")
	} else {
		sb.WriteString(previous)
	}
	sb.WriteString("\n\nRespond again with only the corrected JSON object.")
	return sb.String()
}
