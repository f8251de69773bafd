// Package arena implements the stack-discipline bump allocator that backs the
// engine's fixed tables and scratch buffers.
//
// An Arena owns one buffer of fixed capacity and a cursor. Acquire carves the
// next bytes at the cursor, Release moves the cursor back by a size. Regions
// are handles (offset, length, sequence, owning arena) that resolve to bytes
// only while they are still live, so use after release is reported instead of
// silently aliasing memory that a later Acquire handed to someone else.
//
// An Arena is single-owner and must not be shared between goroutines.
package arena

import (
	"errors"

	"github.com/emberforge/engine/internal/core/memory"
	"github.com/emberforge/engine/internal/diag"
	"go.uber.org/zap"
)

var (
	ErrZeroCapacity  = errors.New("arena capacity must be positive")
	ErrZeroSize      = errors.New("size must be positive")
	ErrOutOfCapacity = errors.New("request exceeds remaining capacity")
	ErrUnderflow     = errors.New("release exceeds allocated bytes")
	ErrReleaseOrder  = errors.New("release does not match the last acquisition")
	ErrStaleRegion   = errors.New("region is no longer live")
	ErrDestroyed     = errors.New("arena is destroyed")
)

// Region is a handle to bytes carved from an Arena. The zero Region is never live.
type Region struct {
	offset int
	size   int
	index  int    // position in the arena's live stack
	seq    uint64 // acquisition number, 0 for the zero Region
	owner  *Arena
}

func (r Region) Offset() int  { return r.offset }
func (r Region) Len() int     { return r.size }
func (r Region) End() int     { return r.offset + r.size }
func (r Region) IsZero() bool { return r.seq == 0 }

type Option func(*Arena)

// WithTag accounts the backing buffer under tag instead of memory.TagArena.
func WithTag(tag memory.Tag) Option {
	return func(a *Arena) { a.tag = tag }
}

// WithPolicy selects what a fatal misuse does after it is logged.
func WithPolicy(p diag.Policy) Option {
	return func(a *Arena) { a.policy = p }
}

// WithUnverifiedRelease accepts any Release size up to the cursor, the way a
// plain size-directed stack allocator does. Live regions that end past the new
// cursor are retired. Without it a Release must match the last Acquire.
func WithUnverifiedRelease() Option {
	return func(a *Arena) { a.verify = false }
}

type Arena struct {
	mem    memory.Provider
	tag    memory.Tag
	policy diag.Policy
	verify bool

	buf    []byte
	cursor int
	peak   int
	seq    uint64
	live   []Region

	destroyed bool
	log       *zap.Logger
	assert    *diag.Asserter
}

// New allocates one buffer of capacity bytes from mem.
func New(mem memory.Provider, capacity int, log *zap.Logger, opts ...Option) (*Arena, error) {
	if log == nil {
		log = zap.NewNop()
	}
	a := &Arena{
		mem:    mem,
		tag:    memory.TagArena,
		verify: true,
		log:    log.Named("arena"),
		live:   make([]Region, 0, 16),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.assert = diag.NewAsserter(a.log, "arena", a.policy)

	if capacity <= 0 {
		return nil, a.assert.Fail(ErrZeroCapacity, "capacity %d", capacity)
	}
	buf, err := mem.Allocate(capacity, a.tag)
	if err != nil {
		a.log.Error("arena backing allocation failed", zap.Int("capacity", capacity), zap.Error(err))
		return nil, err
	}
	a.buf = buf
	a.log.Debug("arena created", zap.Int("capacity", capacity), zap.Stringer("tag", a.tag))
	return a, nil
}

// Destroy returns the buffer to the provider. Every region becomes stale.
func (a *Arena) Destroy() error {
	if a.destroyed {
		return a.assert.Fail(ErrDestroyed, "destroy called twice")
	}
	if len(a.live) > 0 {
		a.log.Debug("arena destroyed with live regions", zap.Int("live", len(a.live)), zap.Int("cursor", a.cursor))
	}
	err := a.mem.Free(a.buf, a.tag)
	a.buf = nil
	a.live = nil
	a.cursor = 0
	a.destroyed = true
	return err
}

// Acquire carves size bytes at the cursor. The bytes are zeroed.
func (a *Arena) Acquire(size int) (Region, error) {
	if a.destroyed {
		return Region{}, a.assert.Fail(ErrDestroyed, "acquire %d bytes", size)
	}
	if size <= 0 {
		return Region{}, a.assert.Fail(ErrZeroSize, "acquire %d bytes", size)
	}
	if size > len(a.buf)-a.cursor {
		return Region{}, a.assert.Fail(ErrOutOfCapacity,
			"requested %d bytes, %d of %d remaining", size, len(a.buf)-a.cursor, len(a.buf))
	}

	a.seq++
	r := Region{offset: a.cursor, size: size, index: len(a.live), seq: a.seq, owner: a}
	a.live = append(a.live, r)
	a.cursor += size
	if a.cursor > a.peak {
		a.peak = a.cursor
	}
	clear(a.buf[r.offset:r.End()])
	return r, nil
}

// Release moves the cursor back by size bytes.
func (a *Arena) Release(size int) error {
	if a.destroyed {
		return a.assert.Fail(ErrDestroyed, "release %d bytes", size)
	}
	if size <= 0 {
		return a.assert.Fail(ErrZeroSize, "release %d bytes", size)
	}
	if size > a.cursor {
		return a.assert.Fail(ErrUnderflow, "release %d bytes with %d allocated", size, a.cursor)
	}

	if a.verify {
		top := a.live[len(a.live)-1]
		if top.size != size {
			return a.assert.Fail(ErrReleaseOrder,
				"release %d bytes, last acquisition was %d bytes at offset %d", size, top.size, top.offset)
		}
		a.live = a.live[:len(a.live)-1]
		a.cursor -= size
		return nil
	}

	a.cursor -= size
	for len(a.live) > 0 && a.live[len(a.live)-1].End() > a.cursor {
		a.live = a.live[:len(a.live)-1]
	}
	return nil
}

// Bytes resolves a live region to its bytes. The slice is capped to the
// region so appends cannot spill into a neighbour.
func (a *Arena) Bytes(r Region) ([]byte, error) {
	if a.destroyed {
		return nil, a.assert.Fail(ErrDestroyed, "resolve region at offset %d", r.offset)
	}
	if !a.Valid(r) {
		return nil, a.assert.Fail(ErrStaleRegion, "region %d+%d (seq %d), cursor %d", r.offset, r.size, r.seq, a.cursor)
	}
	return a.buf[r.offset:r.End():r.End()], nil
}

// Valid reports whether r is still live in this arena. Regions carved from
// another arena are never valid here.
func (a *Arena) Valid(r Region) bool {
	if a.destroyed || r.owner != a || r.seq == 0 || r.index >= len(a.live) {
		return false
	}
	return a.live[r.index].seq == r.seq
}

func (a *Arena) Cap() int       { return len(a.buf) }
func (a *Arena) Cursor() int    { return a.cursor }
func (a *Arena) Remaining() int { return len(a.buf) - a.cursor }

// HighWater returns the largest cursor value seen since creation.
func (a *Arena) HighWater() int { return a.peak }

// Live returns the number of regions not yet released.
func (a *Arena) Live() int { return len(a.live) }

func (a *Arena) Destroyed() bool { return a.destroyed }
