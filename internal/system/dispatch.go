package system

import (
	"time"

	"github.com/emberforge/engine/internal/core/event"
	coresys "github.com/emberforge/engine/internal/core/system"
)

// DispatchSystem runs one bus pass per tick. Phase 1 (Dispatch).
type DispatchSystem struct {
	bus   *event.Bus
	last  event.DispatchStats
	total event.DispatchStats
}

func NewDispatchSystem(bus *event.Bus) *DispatchSystem {
	return &DispatchSystem{bus: bus}
}

func (s *DispatchSystem) Name() string         { return "dispatch" }
func (s *DispatchSystem) Phase() coresys.Phase { return coresys.PhaseDispatch }

func (s *DispatchSystem) Update(_ time.Duration) error {
	stats, err := s.bus.Dispatch()
	s.last = stats
	s.total.Events += stats.Events
	s.total.Deliveries += stats.Deliveries
	s.total.Carried += stats.Carried
	return err
}

// Last returns the statistics of the most recent pass.
func (s *DispatchSystem) Last() event.DispatchStats { return s.last }

// Total returns the statistics summed over every pass.
func (s *DispatchSystem) Total() event.DispatchStats { return s.total }
