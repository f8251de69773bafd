package event

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/emberforge/engine/internal/core/arena"
	"github.com/emberforge/engine/internal/core/memory"
	"github.com/emberforge/engine/internal/diag"
	"go.uber.org/zap"
)

var (
	ErrInvalidLimits   = errors.New("invalid bus limits")
	ErrEmptyTag        = errors.New("empty tag")
	ErrTagTooLong      = errors.New("tag too long")
	ErrEmptyKey        = errors.New("empty argument key")
	ErrKeyTooLong      = errors.New("argument key too long")
	ErrArgIndex        = errors.New("argument index out of range")
	ErrNilCallback     = errors.New("nil callback")
	ErrNilEvent        = errors.New("nil or foreign event")
	ErrEventsFull      = errors.New("event table full")
	ErrSubscribersFull = errors.New("subscriber table full")
	ErrDispatching     = errors.New("dispatch already in progress")
	ErrShutdown        = errors.New("bus is shut down")
	ErrWrongKind       = errors.New("wrong value kind")
)

type argSlot struct {
	keyLen int
	value  Value
}

type eventRecord struct {
	typeLen int
	args    [MaxArgSlots]argSlot
}

type subscriberRecord struct {
	typeLen int
	id      SubscriptionID
	cb      Callback
	removed bool // unsubscribed during a pass, swept when it ends
}

// Bus is a fixed-capacity event registry dispatched once per tick. Tags and
// argument keys live in an arena owned by the bus; records hold lengths,
// values and callbacks.
//
// A Bus is driven from the game loop goroutine only.
type Bus struct {
	limits   Limits
	delivery Delivery
	policy   diag.Policy

	arena      *arena.Arena
	regions    [3]arena.Region // event tags, subscriber tags, argument keys
	eventTags  []byte
	subTags    []byte
	argKeys    []byte
	events     []eventRecord
	eventCount int
	subs       []subscriberRecord
	subCount   int

	nextID      SubscriptionID
	pass        uint64
	dispatching bool
	sweep       bool
	closed      bool

	// Cursor of the running pass: events it dispatches, the subscriber being
	// served and how many subscribers the pass covers.
	passEvents int
	passSub    int
	passSubs   int

	log    *zap.Logger
	assert *diag.Asserter
}

type Option func(*Bus)

func WithPolicy(p diag.Policy) Option {
	return func(b *Bus) { b.policy = p }
}

func WithDelivery(d Delivery) Option {
	return func(b *Bus) { b.delivery = d }
}

func (l Limits) Validate() error {
	var errs []error
	if l.MaxEvents <= 0 {
		errs = append(errs, fmt.Errorf("max events %d", l.MaxEvents))
	}
	if l.MaxSubscribers <= 0 {
		errs = append(errs, fmt.Errorf("max subscribers %d", l.MaxSubscribers))
	}
	if l.MaxArgs <= 0 || l.MaxArgs > MaxArgSlots {
		errs = append(errs, fmt.Errorf("max args %d not in 1..%d", l.MaxArgs, MaxArgSlots))
	}
	if l.MaxTypeLen < 2 {
		errs = append(errs, fmt.Errorf("max type length %d", l.MaxTypeLen))
	}
	if l.MaxKeyLen < 2 {
		errs = append(errs, fmt.Errorf("max key length %d", l.MaxKeyLen))
	}
	return errors.Join(errs...)
}

// storage returns the arena bytes needed for each table of strings.
func (l Limits) storage() [3]int {
	return [3]int{
		l.MaxEvents * l.MaxTypeLen,
		l.MaxSubscribers * l.MaxTypeLen,
		l.MaxEvents * l.MaxArgs * l.MaxKeyLen,
	}
}

// Startup allocates the bus tables for the worst case of limits.
func Startup(mem memory.Provider, limits Limits, log *zap.Logger, opts ...Option) (*Bus, error) {
	if log == nil {
		log = zap.NewNop()
	}
	b := &Bus{limits: limits, log: log.Named("event")}
	for _, opt := range opts {
		opt(b)
	}
	b.assert = diag.NewAsserter(b.log, "event", b.policy)

	if err := limits.Validate(); err != nil {
		return nil, b.assert.Fail(ErrInvalidLimits, "%v", err)
	}

	sizes := limits.storage()
	total := 0
	for _, n := range sizes {
		total += n
	}
	a, err := arena.New(mem, total, log, arena.WithTag(memory.TagEvent), arena.WithPolicy(b.policy))
	if err != nil {
		return nil, fmt.Errorf("event storage: %w", err)
	}
	b.arena = a

	var bufs [3][]byte
	for i, n := range sizes {
		r, err := a.Acquire(n)
		if err != nil {
			a.Destroy()
			return nil, fmt.Errorf("event storage: %w", err)
		}
		b.regions[i] = r
		if bufs[i], err = a.Bytes(r); err != nil {
			a.Destroy()
			return nil, fmt.Errorf("event storage: %w", err)
		}
	}
	b.eventTags, b.subTags, b.argKeys = bufs[0], bufs[1], bufs[2]
	b.events = make([]eventRecord, limits.MaxEvents)
	b.subs = make([]subscriberRecord, limits.MaxSubscribers)

	b.log.Info("event system initialized",
		zap.Int("max_events", limits.MaxEvents),
		zap.Int("max_subscribers", limits.MaxSubscribers),
		zap.Int("max_args", limits.MaxArgs),
		zap.Int("storage_bytes", total),
		zap.Stringer("delivery", b.delivery),
	)
	return b, nil
}

// Shutdown drops every event and subscriber and returns the storage.
func (b *Bus) Shutdown() error {
	if b.closed {
		return b.assert.Fail(ErrShutdown, "shutdown called twice")
	}
	if b.dispatching {
		return b.assert.Fail(ErrDispatching, "shutdown from a callback")
	}
	b.eventCount = 0
	b.subCount = 0

	var errs []error
	for i := len(b.regions) - 1; i >= 0; i-- {
		if err := b.arena.Release(b.regions[i].Len()); err != nil {
			errs = append(errs, err)
		}
	}
	if err := b.arena.Destroy(); err != nil {
		errs = append(errs, err)
	}
	b.eventTags, b.subTags, b.argKeys = nil, nil, nil
	b.events, b.subs = nil, nil
	b.closed = true

	b.log.Info("event system terminated")
	return errors.Join(errs...)
}

func (b *Bus) Limits() Limits     { return b.limits }
func (b *Bus) Delivery() Delivery { return b.delivery }
func (b *Bus) Closed() bool       { return b.closed }

// Pending returns the number of events waiting for the next pass.
func (b *Bus) Pending() int { return b.eventCount }

// Subscribers returns the number of registrations, including any removed
// during the current pass and not yet swept.
func (b *Bus) Subscribers() int { return b.subCount }

// ── tag storage ──

func (b *Bus) eventTag(i int) []byte {
	off := i * b.limits.MaxTypeLen
	return b.eventTags[off : off+b.events[i].typeLen]
}

func (b *Bus) subTag(i int) []byte {
	off := i * b.limits.MaxTypeLen
	return b.subTags[off : off+b.subs[i].typeLen]
}

func (b *Bus) argKey(ev, slot int) []byte {
	off := (ev*b.limits.MaxArgs + slot) * b.limits.MaxKeyLen
	return b.argKeys[off : off+b.events[ev].args[slot].keyLen]
}

func (b *Bus) writeEventTag(i int, typ string) {
	off := i * b.limits.MaxTypeLen
	b.events[i].typeLen = copy(b.eventTags[off:off+b.limits.MaxTypeLen], typ)
}

func (b *Bus) writeSubTag(i int, typ string) {
	off := i * b.limits.MaxTypeLen
	b.subs[i].typeLen = copy(b.subTags[off:off+b.limits.MaxTypeLen], typ)
}

func (b *Bus) writeArg(ev, slot int, key string, v Value) {
	off := (ev*b.limits.MaxArgs + slot) * b.limits.MaxKeyLen
	b.events[ev].args[slot] = argSlot{
		keyLen: copy(b.argKeys[off:off+b.limits.MaxKeyLen], key),
		value:  v,
	}
}

// moveEvent copies record src, with its tag and keys, over dst.
func (b *Bus) moveEvent(dst, src int) {
	tl, al := b.limits.MaxTypeLen, b.limits.MaxArgs*b.limits.MaxKeyLen
	copy(b.eventTags[dst*tl:(dst+1)*tl], b.eventTags[src*tl:(src+1)*tl])
	copy(b.argKeys[dst*al:(dst+1)*al], b.argKeys[src*al:(src+1)*al])
	b.events[dst] = b.events[src]
}

func (b *Bus) moveSub(dst, src int) {
	tl := b.limits.MaxTypeLen
	copy(b.subTags[dst*tl:(dst+1)*tl], b.subTags[src*tl:(src+1)*tl])
	b.subs[dst] = b.subs[src]
}

// ── validation ──

func (b *Bus) usable(op string) error {
	if b.closed {
		return b.assert.Fail(ErrShutdown, "%s", op)
	}
	return nil
}

func (b *Bus) checkTag(typ string) error {
	if typ == "" {
		return b.assert.Fail(ErrEmptyTag, "event type is empty")
	}
	if len(typ) >= b.limits.MaxTypeLen {
		return b.assert.Fail(ErrTagTooLong, "%q is %d bytes, limit %d", typ, len(typ), b.limits.MaxTypeLen-1)
	}
	return nil
}

func (b *Bus) checkKey(key string) error {
	if key == "" {
		return b.assert.Fail(ErrEmptyKey, "argument key is empty")
	}
	if len(key) >= b.limits.MaxKeyLen {
		return b.assert.Fail(ErrKeyTooLong, "%q is %d bytes, limit %d", key, len(key), b.limits.MaxKeyLen-1)
	}
	return nil
}

func (b *Bus) checkIndex(index int) error {
	if index < 0 || index >= b.limits.MaxArgs {
		return b.assert.Fail(ErrArgIndex, "index %d, %d slots", index, b.limits.MaxArgs)
	}
	return nil
}

// ── subscribers ──

// Subscribe registers cb for events tagged typ. A subscription made from a
// callback is first eligible on the next pass.
func (b *Bus) Subscribe(typ string, cb Callback) (SubscriptionID, error) {
	if err := b.usable("subscribe"); err != nil {
		return 0, err
	}
	if err := b.checkTag(typ); err != nil {
		return 0, err
	}
	if cb == nil {
		return 0, b.assert.Fail(ErrNilCallback, "subscribe %q", typ)
	}
	if b.subCount == b.limits.MaxSubscribers && b.sweep {
		b.sweepSubs()
	}
	if b.subCount == b.limits.MaxSubscribers {
		return 0, b.assert.Fail(ErrSubscribersFull, "subscribe %q, %d subscribers", typ, b.subCount)
	}

	b.nextID++
	i := b.subCount
	b.writeSubTag(i, typ)
	b.subs[i].id = b.nextID
	b.subs[i].cb = cb
	b.subs[i].removed = false
	b.subCount++
	return b.nextID, nil
}

// Unsubscribe removes the registration id made for typ. Remaining
// subscribers keep their order. A miss is reported and ignored.
func (b *Bus) Unsubscribe(typ string, id SubscriptionID) error {
	if err := b.usable("unsubscribe"); err != nil {
		return err
	}
	if err := b.checkTag(typ); err != nil {
		return err
	}
	for i := 0; i < b.subCount; i++ {
		s := &b.subs[i]
		if !s.removed && s.id == id && string(b.subTag(i)) == typ {
			b.removeSub(i)
			return nil
		}
	}
	b.assert.Warn("subscription not found", zap.String("type", typ), zap.Uint64("id", uint64(id)))
	return nil
}

// UnsubscribeFirst removes the earliest registration for typ, whichever
// callback it holds.
func (b *Bus) UnsubscribeFirst(typ string) error {
	if err := b.usable("unsubscribe"); err != nil {
		return err
	}
	if err := b.checkTag(typ); err != nil {
		return err
	}
	for i := 0; i < b.subCount; i++ {
		if !b.subs[i].removed && string(b.subTag(i)) == typ {
			b.removeSub(i)
			return nil
		}
	}
	b.assert.Warn("no subscriber for type", zap.String("type", typ))
	return nil
}

func (b *Bus) removeSub(i int) {
	if b.dispatching {
		b.subs[i].removed = true
		b.subs[i].cb = nil
		b.sweep = true
		return
	}
	for j := i; j < b.subCount-1; j++ {
		b.moveSub(j, j+1)
	}
	b.subCount--
	b.subs[b.subCount] = subscriberRecord{}
}

// sweepSubs compacts subscribers removed during a pass. Mid-pass it also
// shifts the pass cursor so no surviving subscriber is skipped or served twice.
func (b *Bus) sweepSubs() {
	w := 0
	pos, limit := b.passSub, b.passSubs
	for r := 0; r < b.subCount; r++ {
		if b.subs[r].removed {
			if b.dispatching {
				if r <= pos {
					b.passSub--
				}
				if r < limit {
					b.passSubs--
				}
			}
			continue
		}
		if w != r {
			b.moveSub(w, r)
		}
		w++
	}
	for i := w; i < b.subCount; i++ {
		b.subs[i] = subscriberRecord{}
	}
	b.subCount = w
	b.sweep = false
}

// ── events ──

func (b *Bus) claim(typ string) int {
	i := b.eventCount
	b.writeEventTag(i, typ)
	b.events[i].args = [MaxArgSlots]argSlot{}
	b.eventCount++
	return i
}

// Fire queues an event with empty arguments for the next pass.
func (b *Bus) Fire(typ string) error {
	if err := b.usable("fire"); err != nil {
		return err
	}
	if err := b.checkTag(typ); err != nil {
		return err
	}
	if b.eventCount == b.limits.MaxEvents {
		return b.assert.Fail(ErrEventsFull, "fire %q, %d pending", typ, b.eventCount)
	}
	b.claim(typ)
	return nil
}

// Post fires typ and fills its argument slots from args in order. Nothing is
// queued if any argument is invalid.
func (b *Bus) Post(typ string, args ...Arg) error {
	if err := b.usable("post"); err != nil {
		return err
	}
	if err := b.checkTag(typ); err != nil {
		return err
	}
	if len(args) > b.limits.MaxArgs {
		return b.assert.Fail(ErrArgIndex, "post %q with %d arguments, %d slots", typ, len(args), b.limits.MaxArgs)
	}
	for _, a := range args {
		if err := b.checkKey(a.Key); err != nil {
			return err
		}
	}
	if b.eventCount == b.limits.MaxEvents {
		return b.assert.Fail(ErrEventsFull, "post %q, %d pending", typ, b.eventCount)
	}

	i := b.claim(typ)
	for slot, a := range args {
		b.writeArg(i, slot, a.Key, a.Value)
	}
	return nil
}

// SetArgument writes key and v into slot index of the first pending event
// tagged typ. From a callback only events fired during the pass are
// considered, since the ones being dispatched are dropped when it ends. If
// none is pending the call is reported and ignored.
func (b *Bus) SetArgument(typ string, index int, key string, v Value) error {
	if err := b.usable("set argument"); err != nil {
		return err
	}
	if err := b.checkTag(typ); err != nil {
		return err
	}
	if err := b.checkIndex(index); err != nil {
		return err
	}
	if err := b.checkKey(key); err != nil {
		return err
	}
	first := 0
	if b.dispatching {
		first = b.passEvents
	}
	for i := first; i < b.eventCount; i++ {
		if string(b.eventTag(i)) == typ {
			b.writeArg(i, index, key, v)
			return nil
		}
	}
	b.assert.Warn("event not pending, argument dropped",
		zap.String("type", typ),
		zap.String("key", key),
		zap.Stringer("value", v),
	)
	return nil
}

// GetArgument returns the value stored under key in ev. A missing key is
// reported and yields the zero Value.
func (b *Bus) GetArgument(ev *Event, key string) Value {
	if ev == nil || ev.bus != b {
		b.assert.Fail(ErrNilEvent, "get argument %q", key)
		return Value{}
	}
	v, ok := ev.Arg(key)
	if !ok {
		b.assert.Warn("argument not found", zap.String("type", ev.Type()), zap.String("key", key))
	}
	return v
}

// Dispatch delivers pending events to subscribers, then clears them. Each
// subscriber, in registration order, scans events in fire order. Under
// DeliverFirst it receives only the first match.
//
// Events fired by callbacks are carried to the next pass. Subscribers removed
// by callbacks are skipped for the rest of the pass.
func (b *Bus) Dispatch() (stats DispatchStats, err error) {
	if err := b.usable("dispatch"); err != nil {
		return DispatchStats{}, err
	}
	if b.dispatching {
		return DispatchStats{}, b.assert.Fail(ErrDispatching, "dispatch from a callback")
	}

	b.dispatching = true
	b.pass++
	stats.Events = b.eventCount
	b.passEvents = stats.Events
	b.passSubs = b.subCount
	defer b.finishPass(stats.Events, &stats)

	for b.passSub = 0; b.passSub < b.passSubs; b.passSub++ {
		stats.Deliveries += b.serve(b.subs[b.passSub].id, stats.Events)
	}
	return stats, nil
}

// serve delivers the first n events to the subscriber at the pass cursor and
// returns the number of calls made. It stops once the subscriber is removed.
func (b *Bus) serve(id SubscriptionID, n int) int {
	calls := 0
	for j := 0; j < n; j++ {
		i := b.passSub
		if i < 0 || b.subs[i].id != id || b.subs[i].removed {
			break
		}
		if !bytes.Equal(b.subTag(i), b.eventTag(j)) {
			continue
		}
		b.subs[i].cb(&Event{bus: b, slot: j, pass: b.pass})
		calls++
		if b.delivery == DeliverFirst {
			break
		}
	}
	return calls
}

// finishPass drops the dispatched events, keeps any fired during the pass and
// compacts subscribers removed during it. It also runs if a callback panics.
func (b *Bus) finishPass(dispatched int, stats *DispatchStats) {
	carried := b.eventCount - dispatched
	for k := 0; k < carried; k++ {
		b.moveEvent(k, dispatched+k)
	}
	b.eventCount = carried
	stats.Carried = carried

	b.dispatching = false
	if b.sweep {
		b.sweepSubs()
	}
	b.passEvents, b.passSub, b.passSubs = 0, 0, 0
}
