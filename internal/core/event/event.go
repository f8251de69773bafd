package event

// Event is a read view of one pending event handed to a Callback. It reads
// through to the bus tables, so it is only meaningful during the pass that
// produced it.
type Event struct {
	bus  *Bus
	slot int
	pass uint64
}

func (e *Event) live() bool {
	return e != nil && e.bus != nil && e.bus.dispatching && e.bus.pass == e.pass
}

// Type returns the event tag, or "" once the pass is over.
func (e *Event) Type() string {
	if !e.live() {
		return ""
	}
	return string(e.bus.eventTag(e.slot))
}

// Arg looks key up in the argument slots.
func (e *Event) Arg(key string) (Value, bool) {
	if !e.live() || key == "" {
		return Value{}, false
	}
	rec := &e.bus.events[e.slot]
	for i := 0; i < e.bus.limits.MaxArgs; i++ {
		if rec.args[i].keyLen == 0 {
			continue
		}
		if string(e.bus.argKey(e.slot, i)) == key {
			return rec.args[i].value, true
		}
	}
	return Value{}, false
}

// Args returns the filled slots in index order.
func (e *Event) Args() []Arg {
	if !e.live() {
		return nil
	}
	rec := &e.bus.events[e.slot]
	var out []Arg
	for i := 0; i < e.bus.limits.MaxArgs; i++ {
		if rec.args[i].keyLen == 0 {
			continue
		}
		out = append(out, Arg{Key: string(e.bus.argKey(e.slot, i)), Value: rec.args[i].value})
	}
	return out
}
