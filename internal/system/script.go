package system

import (
	"time"

	coresys "github.com/emberforge/engine/internal/core/system"
)

// Ticker is the part of the scripting engine driven once per frame.
type Ticker interface {
	Tick(dt time.Duration)
}

// ScriptSystem hands each frame's delta to the Lua on_tick hook.
// Phase 2 (Update).
type ScriptSystem struct {
	scripts Ticker
}

func NewScriptSystem(scripts Ticker) *ScriptSystem {
	return &ScriptSystem{scripts: scripts}
}

func (s *ScriptSystem) Name() string         { return "script" }
func (s *ScriptSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *ScriptSystem) Update(dt time.Duration) error {
	s.scripts.Tick(dt)
	return nil
}
