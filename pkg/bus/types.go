package bus

import "time"

// Source identifies where an utterance came from.
type Source string

const (
	SourceText  Source = "text"
	SourceVoice Source = "voice"
)

// InboundMessage is one user utterance waiting for the turn handler.
type InboundMessage struct {
	Text       string
	Source     Source
	ReceivedAt time.Time
}

// OutboundMessage is something the assistant says. Proactive messages were
// not prompted by a user turn and have no InReplyTo.
type OutboundMessage struct {
	Text      string
	InReplyTo string
	Proactive bool
}
