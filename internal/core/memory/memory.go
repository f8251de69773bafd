package memory

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	ErrZeroSize       = errors.New("allocation of zero bytes")
	ErrBudgetExceeded = errors.New("memory budget exceeded")
	ErrForeignBuffer  = errors.New("buffer was not allocated by this tracker")
	ErrShutdown       = errors.New("memory tracker is shut down")
)

// Tag groups allocations for accounting.
type Tag uint8

const (
	TagUnknown Tag = iota
	TagArena
	TagEvent
	TagScratch

	tagCount
)

func (t Tag) String() string {
	switch t {
	case TagUnknown:
		return "unknown"
	case TagArena:
		return "arena"
	case TagEvent:
		return "event"
	case TagScratch:
		return "scratch"
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Provider hands out backing buffers. Arenas and the event bus take one
// instead of calling make directly so that usage can be accounted and capped.
type Provider interface {
	Allocate(n int, tag Tag) ([]byte, error)
	Free(buf []byte, tag Tag) error
}

// Usage is the accounting of a single tag.
type Usage struct {
	Allocated uint64
	Freed     uint64
}

func (u Usage) Live() uint64 { return u.Allocated - u.Freed }

// Tracker is the heap-backed Provider. Single goroutine only.
type Tracker struct {
	log    *zap.Logger
	budget int // 0 = unlimited
	usage  [tagCount]Usage
	live   int
	peak   int
	closed bool
}

// NewTracker creates a tracker that refuses allocations once budget live bytes
// are outstanding. A budget of 0 disables the cap.
func NewTracker(budget int, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{log: log, budget: budget}
}

func (t *Tracker) Allocate(n int, tag Tag) ([]byte, error) {
	if t.closed {
		return nil, ErrShutdown
	}
	if n <= 0 {
		return nil, ErrZeroSize
	}
	if tag >= tagCount {
		tag = TagUnknown
	}
	if t.budget > 0 && t.live+n > t.budget {
		t.log.Warn("allocation refused",
			zap.Int("bytes", n),
			zap.Stringer("tag", tag),
			zap.Int("live", t.live),
			zap.Int("budget", t.budget),
		)
		return nil, fmt.Errorf("allocate %d bytes for %s: %w", n, tag, ErrBudgetExceeded)
	}

	buf := make([]byte, n)
	t.usage[tag].Allocated += uint64(n)
	t.live += n
	if t.live > t.peak {
		t.peak = t.live
	}
	t.log.Debug("allocated", zap.Int("bytes", n), zap.Stringer("tag", tag))
	return buf, nil
}

func (t *Tracker) Free(buf []byte, tag Tag) error {
	if t.closed {
		return ErrShutdown
	}
	if len(buf) == 0 {
		return ErrZeroSize
	}
	if tag >= tagCount {
		tag = TagUnknown
	}
	n := len(buf)
	if uint64(n) > t.usage[tag].Live() {
		return fmt.Errorf("free %d bytes for %s: %w", n, tag, ErrForeignBuffer)
	}
	t.usage[tag].Freed += uint64(n)
	t.live -= n
	return nil
}

// Usage returns the accounting for one tag.
func (t *Tracker) Usage(tag Tag) Usage {
	if tag >= tagCount {
		return Usage{}
	}
	return t.usage[tag]
}

// Live returns the bytes currently outstanding across all tags.
func (t *Tracker) Live() int { return t.live }

// Peak returns the highest Live value observed.
func (t *Tracker) Peak() int { return t.peak }

// Report logs one line per tag that saw any traffic.
func (t *Tracker) Report() {
	for tag := Tag(0); tag < tagCount; tag++ {
		u := t.usage[tag]
		if u.Allocated == 0 {
			continue
		}
		t.log.Info("memory usage",
			zap.Stringer("tag", tag),
			zap.Uint64("allocated", u.Allocated),
			zap.Uint64("freed", u.Freed),
			zap.Uint64("live", u.Live()),
		)
	}
	t.log.Info("memory peak", zap.Int("bytes", t.peak))
}

// Shutdown reports usage and stops accepting requests. Outstanding bytes are
// reported as a leak but do not fail the shutdown.
func (t *Tracker) Shutdown() {
	if t.closed {
		return
	}
	t.Report()
	if t.live != 0 {
		t.log.Warn("memory leaked at shutdown", zap.Int("bytes", t.live))
	}
	t.closed = true
}
