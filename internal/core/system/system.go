package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput    Phase = iota // 0: poll the platform, fire input events
	PhaseDispatch              // 1: deliver this tick's events
	PhaseUpdate                // 2: game logic and scripts
	PhaseRender                // 3: renderer hand-off
	PhasePersist               // 4: journal flush
	PhaseCleanup               // 5: end-of-frame bookkeeping
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhaseDispatch:
		return "dispatch"
	case PhaseUpdate:
		return "update"
	case PhaseRender:
		return "render"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is the interface every engine system implements.
type System interface {
	Name() string
	Phase() Phase
	Update(dt time.Duration) error
}
