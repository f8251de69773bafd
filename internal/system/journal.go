package system

import (
	"context"
	"time"

	"github.com/emberforge/engine/internal/core/event"
	coresys "github.com/emberforge/engine/internal/core/system"
	"github.com/emberforge/engine/internal/persist"
	"go.uber.org/zap"
)

// FrameWriter stores journal batches. persist.FrameRepo implements it.
type FrameWriter interface {
	Append(ctx context.Context, recs []persist.FrameRecord) error
}

// StatsSource reports the most recent dispatch pass.
type StatsSource interface {
	Last() event.DispatchStats
}

// MemoryGauge reports bytes currently handed out by the memory port.
type MemoryGauge interface {
	Live() int
}

// JournalSystem records one row per frame and writes them out in batches.
// Phase 4 (Persist).
type JournalSystem struct {
	writer   FrameWriter
	clock    FrameClock
	stats    StatsSource
	mem      MemoryGauge
	log      *zap.Logger
	interval int // flush every N frames
	timeout  time.Duration
	buf      []persist.FrameRecord
	written  uint64
	dropped  uint64
	now      func() time.Time
}

func NewJournalSystem(writer FrameWriter, clock FrameClock, stats StatsSource, mem MemoryGauge, interval int, log *zap.Logger) *JournalSystem {
	if log == nil {
		log = zap.NewNop()
	}
	if interval < 1 {
		interval = 1
	}
	return &JournalSystem{
		writer:   writer,
		clock:    clock,
		stats:    stats,
		mem:      mem,
		log:      log,
		interval: interval,
		timeout:  5 * time.Second,
		buf:      make([]persist.FrameRecord, 0, interval),
		now:      time.Now,
	}
}

func (s *JournalSystem) Name() string         { return "journal" }
func (s *JournalSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *JournalSystem) Update(_ time.Duration) error {
	st := s.stats.Last()
	s.buf = append(s.buf, persist.FrameRecord{
		Frame:      s.clock.Frame(),
		Events:     st.Events,
		Deliveries: st.Deliveries,
		Carried:    st.Carried,
		MemoryLive: int64(s.mem.Live()),
		RecordedAt: s.now(),
	})
	if len(s.buf) < s.interval {
		return nil
	}
	// A failed batch is dropped; the journal must not stall the frame loop.
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		s.log.Error("journal flush failed", zap.Error(err))
		s.dropped += uint64(len(s.buf))
		s.buf = s.buf[:0]
	}
	return nil
}

// Flush writes the buffered records immediately. Called on shutdown so the
// tail of the run is not lost.
func (s *JournalSystem) Flush(ctx context.Context) error {
	if len(s.buf) == 0 {
		return nil
	}
	if err := s.writer.Append(ctx, s.buf); err != nil {
		return err
	}
	s.written += uint64(len(s.buf))
	s.buf = s.buf[:0]
	return nil
}

func (s *JournalSystem) Buffered() int   { return len(s.buf) }
func (s *JournalSystem) Written() uint64 { return s.written }
func (s *JournalSystem) Dropped() uint64 { return s.dropped }
