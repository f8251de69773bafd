package system

import (
	"fmt"
	"sort"
	"time"
)

// Runner executes systems in phase order each tick. Systems sharing a phase
// run in registration order.
type Runner struct {
	systems []System
	sorted  bool
	frame   uint64
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 8),
	}
}

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

func (r *Runner) Len() int { return len(r.systems) }

// Frame returns the number of completed ticks.
func (r *Runner) Frame() uint64 { return r.frame }

// Tick runs every system once. It stops at the first error; the frame
// counter only advances on a complete tick.
func (r *Runner) Tick(dt time.Duration) error {
	r.ensureSorted()
	for _, s := range r.systems {
		if err := s.Update(dt); err != nil {
			return fmt.Errorf("%s system (%s): %w", s.Name(), s.Phase(), err)
		}
	}
	r.frame++
	return nil
}

// TickPhase runs only the systems of one phase and does not advance the frame.
func (r *Runner) TickPhase(phase Phase, dt time.Duration) error {
	r.ensureSorted()
	for _, s := range r.systems {
		if s.Phase() != phase {
			continue
		}
		if err := s.Update(dt); err != nil {
			return fmt.Errorf("%s system (%s): %w", s.Name(), phase, err)
		}
	}
	return nil
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}
