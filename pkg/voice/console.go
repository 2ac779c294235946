// Package voice is the text console standing in for the speech pipeline:
// it reads user utterances, displays and "speaks" replies, and keeps a
// conversation log.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dotsetgreg/chitra/pkg/storage"
)

const (
	ModeText  = "text"
	ModeVoice = "voice"
)

// ErrAudioUnavailable is returned when voice mode is requested without an
// audio pipeline.
var ErrAudioUnavailable = errors.New("voice mode needs the audio pipeline, which is not installed")

const maxLogEntries = 200

// LineReader reads one line of user input. It returns io.EOF when the
// user ends the session.
type LineReader interface {
	ReadLine(prompt string) (string, error)
}

type LogEntry struct {
	At      time.Time
	Speaker string
	Text    string
}

type Console struct {
	in      LineReader
	out     io.Writer
	now     storage.Clock
	appName string

	// outMu serializes writes to out so replies and proactive messages
	// never interleave.
	outMu sync.Mutex

	mu   sync.Mutex
	mode string
	log  []LogEntry
}

func NewConsole(in LineReader, out io.Writer, clock storage.Clock) *Console {
	if clock == nil {
		clock = storage.SystemClock
	}
	return &Console{
		in:      in,
		out:     out,
		now:     clock,
		appName: "Chitra",
		mode:    ModeText,
	}
}

// Listen blocks for the next non-empty utterance.
func (c *Console) Listen(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := c.in.ReadLine("You: ")
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		c.record("user", line)
		return line, nil
	}
}

// Display shows an agent message. user is the utterance it answers and may
// be empty for proactive messages.
func (c *Console) Display(_ context.Context, user, agent string) error {
	agent = strings.TrimSpace(agent)
	if agent == "" {
		return nil
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if user != "" {
		c.mu.Lock()
		logged := len(c.log) > 0 && c.log[len(c.log)-1].Speaker == "user" && c.log[len(c.log)-1].Text == user
		c.mu.Unlock()
		if !logged {
			c.record("user", user)
		}
	}
	if _, err := fmt.Fprintf(c.out, "\n%s: %s\n\n", c.appName, agent); err != nil {
		return fmt.Errorf("display: %w", err)
	}
	c.record("agent", agent)
	return nil
}

// Speak renders text as audio. Only text mode can be selected, and there the
// displayed line is the output, so Speak succeeds without doing anything.
func (c *Console) Speak(_ context.Context, _ string) error {
	return nil
}

// Ask displays a question and waits for the answer.
func (c *Console) Ask(ctx context.Context, question string) (string, error) {
	if err := c.Display(ctx, "", question); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	answer, err := c.in.ReadLine("You: ")
	if err != nil {
		return "", err
	}
	answer = strings.TrimSpace(answer)
	if answer != "" {
		c.record("user", answer)
	}
	return answer, nil
}

func (c *Console) InputMode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

func (c *Console) SetInputMode(mode string) error {
	mode = strings.ToLower(strings.TrimSpace(mode))
	switch mode {
	case ModeText:
	case ModeVoice:
		return ErrAudioUnavailable
	default:
		return fmt.Errorf("unknown input mode %q (use text or voice)", mode)
	}
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	return nil
}

// Log returns a copy of the conversation log, oldest first.
func (c *Console) Log() []LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]LogEntry(nil), c.log...)
}

func (c *Console) record(speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = append(c.log, LogEntry{At: c.now(), Speaker: speaker, Text: text})
	if len(c.log) > maxLogEntries {
		c.log = c.log[len(c.log)-maxLogEntries:]
	}
}
