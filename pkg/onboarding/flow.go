// Package onboarding runs the first-run conversation that seeds memory with
// what the user tells Chitra about themselves.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dotsetgreg/chitra/pkg/capability"
	"github.com/dotsetgreg/chitra/pkg/logger"
)

// MarkerFile is created in the data directory once onboarding completes.
const MarkerFile = ".onboarded"

type Dispatcher interface {
	Dispatch(ctx context.Context, req capability.ActionRequest) capability.ActionResult
}

// Console asks questions and shows messages.
type Console interface {
	Ask(ctx context.Context, question string) (string, error)
	Display(ctx context.Context, user, agent string) error
}

type Question struct {
	Key      string
	Prompt   string
	Category string
	Subject  string
	// PerPerson splits the answer into one relationship memory per person.
	PerPerson bool
}

var DefaultQuestions = []Question{
	{Key: "name", Prompt: "Hi, I'm Chitra. What should I call you?", Category: "fact", Subject: "name"},
	{Key: "people", Prompt: "Who are the important people in your life? For example: Amma is my mother, Ravi is my brother.", Category: "relationship", Subject: "key people", PerPerson: true},
	{Key: "schedule", Prompt: "What does your usual work schedule look like?", Category: "fact", Subject: "work schedule"},
	{Key: "preferences", Prompt: "Is there anything I should know about how you like things done?", Category: "preference", Subject: "preferences"},
}

// Result lists what was remembered.
type Result struct {
	Answers map[string]string
	Stored  []string
}

type Flow struct {
	caps      Dispatcher
	console   Console
	dataDir   string
	questions []Question
}

func NewFlow(caps Dispatcher, console Console, dataDir string) *Flow {
	return &Flow{caps: caps, console: console, dataDir: dataDir, questions: DefaultQuestions}
}

func (f *Flow) markerPath() string {
	return filepath.Join(f.dataDir, MarkerFile)
}

// ShouldRun reports whether onboarding has never completed.
func (f *Flow) ShouldRun() bool {
	_, err := os.Stat(f.markerPath())
	return errors.Is(err, os.ErrNotExist)
}

// Run asks every question, stores each non-empty answer and writes the
// marker. An input error aborts without writing the marker.
func (f *Flow) Run(ctx context.Context) (Result, error) {
	res := Result{Answers: map[string]string{}}
	logger.InfoC("onboarding", "Starting onboarding")

	for _, q := range f.questions {
		answer, err := f.console.Ask(ctx, q.Prompt)
		if err != nil {
			return res, fmt.Errorf("onboarding: %s: %w", q.Key, err)
		}
		answer = strings.TrimSpace(answer)
		if answer == "" {
			continue
		}
		res.Answers[q.Key] = answer
		res.Stored = append(res.Stored, f.remember(ctx, q, answer)...)
	}

	if err := f.console.Display(ctx, "", summary(res)); err != nil {
		return res, fmt.Errorf("onboarding: summary: %w", err)
	}
	if err := f.markDone(); err != nil {
		return res, err
	}

	logger.InfoCF("onboarding", "Onboarding complete",
		map[string]interface{}{"stored": len(res.Stored)})
	return res, nil
}

func (f *Flow) markDone() error {
	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return fmt.Errorf("onboarding: create data dir: %w", err)
	}
	stamp := time.Now().Format(time.RFC3339) + "\n"
	if err := os.WriteFile(f.markerPath(), []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("onboarding: write marker: %w", err)
	}
	return nil
}

// Reset removes the marker so the next start onboards again.
func (f *Flow) Reset() error {
	err := os.Remove(f.markerPath())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("onboarding: remove marker: %w", err)
	}
	return nil
}

func (f *Flow) remember(ctx context.Context, q Question, answer string) []string {
	type memo struct{ subject, content string }
	memos := []memo{{q.Subject, answer}}
	if q.PerPerson {
		if people := splitPeople(answer); len(people) > 0 {
			memos = memos[:0]
			for _, p := range people {
				memos = append(memos, memo{personName(p), p})
			}
		}
	}

	var stored []string
	for _, m := range memos {
		res := f.caps.Dispatch(ctx, capability.ActionRequest{
			Capability: "memory",
			Action:     "store",
			Params: capability.Record{
				"category":   q.Category,
				"subject":    m.subject,
				"content":    m.content,
				"confidence": 1.0,
				"source":     "stated",
			},
		})
		if !res.OK() {
			logger.WarnCF("onboarding", "Failed to store answer",
				map[string]interface{}{"question": q.Key, "error": res.Err.Message})
			continue
		}
		stored = append(stored, m.subject+": "+m.content)
	}
	return stored
}

var peopleSeparators = regexp.MustCompile(`[;,\n]|\band\b`)

func splitPeople(answer string) []string {
	var out []string
	for _, part := range peopleSeparators.Split(answer, -1) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func personName(part string) string {
	fields := strings.Fields(part)
	if len(fields) == 0 {
		return part
	}
	return strings.Trim(fields[0], ".:-")
}

func summary(res Result) string {
	if len(res.Stored) == 0 {
		return "No problem. You can tell me about yourself any time."
	}
	var sb strings.Builder
	if name := res.Answers["name"]; name != "" {
		sb.WriteString(fmt.Sprintf("Thanks, %s! ", name))
	} else {
		sb.WriteString("Thanks! ")
	}
	sb.WriteString("Here's what I know so far:")
	for _, s := range res.Stored {
		sb.WriteString("\n- ")
		sb.WriteString(s)
	}
	return sb.String()
}
