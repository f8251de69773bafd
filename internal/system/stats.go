package system

import (
	"time"

	coresys "github.com/emberforge/engine/internal/core/system"
	"go.uber.org/zap"
)

// PeakGauge extends MemoryGauge with the high-water mark.
type PeakGauge interface {
	MemoryGauge
	Peak() int
}

// StatsSystem logs a throughput summary every N frames. Phase 5 (Cleanup).
type StatsSystem struct {
	stats    StatsSource
	mem      PeakGauge
	log      *zap.Logger
	interval int
	frames   int

	events, deliveries, carried int
}

func NewStatsSystem(stats StatsSource, mem PeakGauge, interval int, log *zap.Logger) *StatsSystem {
	if log == nil {
		log = zap.NewNop()
	}
	if interval < 1 {
		interval = 1
	}
	return &StatsSystem{stats: stats, mem: mem, log: log, interval: interval}
}

func (s *StatsSystem) Name() string         { return "stats" }
func (s *StatsSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *StatsSystem) Update(_ time.Duration) error {
	st := s.stats.Last()
	s.events += st.Events
	s.deliveries += st.Deliveries
	s.carried += st.Carried
	s.frames++
	if s.frames < s.interval {
		return nil
	}
	s.log.Info("engine stats",
		zap.Int("frames", s.frames),
		zap.Int("events", s.events),
		zap.Int("deliveries", s.deliveries),
		zap.Int("carried", s.carried),
		zap.Int("memory_live", s.mem.Live()),
		zap.Int("memory_peak", s.mem.Peak()),
	)
	s.frames, s.events, s.deliveries, s.carried = 0, 0, 0, 0
	return nil
}
