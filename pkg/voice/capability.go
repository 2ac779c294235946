package voice

import (
	"context"
	"errors"

	"github.com/dotsetgreg/chitra/pkg/capability"
)

// Capability exposes the console as "voice_io".
type Capability struct {
	console *Console
}

func NewCapability(console *Console) *Capability {
	return &Capability{console: console}
}

func (c *Capability) Name() string        { return "voice_io" }
func (c *Capability) Description() string { return "how the user talks to you" }

func (c *Capability) Actions() []capability.Action {
	return []capability.Action{
		capability.KeywordAction("set_input_mode", "switch input between text and voice",
			[]capability.Param{capability.Required("mode", capability.KindString)},
			c.setInputMode),
	}
}

func (c *Capability) setInputMode(_ context.Context, args capability.Args) (interface{}, error) {
	if err := c.console.SetInputMode(args.String("mode")); err != nil {
		if errors.Is(err, ErrAudioUnavailable) {
			return nil, &capability.Error{Kind: capability.KindCapabilityError, Message: err.Error()}
		}
		return nil, capability.Invalid("%v", err)
	}
	return capability.Record{"input_mode": c.console.InputMode()}, nil
}
