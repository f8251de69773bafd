package system

import (
	"time"

	coresys "github.com/emberforge/engine/internal/core/system"
	"github.com/emberforge/engine/internal/platform"
)

// FrameClock reports the frame currently being ticked.
type FrameClock interface {
	Frame() uint64
}

// InputSystem drains the platform window into the event bus. Phase 0 (Input).
type InputSystem struct {
	window platform.Window
	clock  FrameClock
}

func NewInputSystem(window platform.Window, clock FrameClock) *InputSystem {
	return &InputSystem{window: window, clock: clock}
}

func (s *InputSystem) Name() string         { return "input" }
func (s *InputSystem) Phase() coresys.Phase { return coresys.PhaseInput }

func (s *InputSystem) Update(_ time.Duration) error {
	return s.window.Poll(s.clock.Frame())
}
