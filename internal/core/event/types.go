package event

// Tags fired by the platform layer. The names are part of the contract with
// window backends and scripts and must not change.
const (
	TypeWindowExitRequest = "Window_Exit_Request"
	TypeWindowResize      = "Window_Resize" // args: Width, Height (int32)
	TypeKeyPress          = "Key_Press"     // args: Key (int32)
	TypeKeyRelease        = "Key_Release"   // args: Key (int32)
)

// Argument keys used by the platform events.
const (
	ArgWidth  = "Width"
	ArgHeight = "Height"
	ArgKey    = "Key"
)

// MaxArgSlots is the hard upper bound on arguments per event.
const MaxArgSlots = 5

// Limits are the fixed capacities of a Bus, decided at startup.
type Limits struct {
	MaxEvents      int // pending events per pass
	MaxSubscribers int
	MaxArgs        int // argument slots per event, 1..MaxArgSlots
	MaxTypeLen     int // tags must be strictly shorter
	MaxKeyLen      int // keys must be strictly shorter
}

// DefaultLimits are the capacities the engine ships with.
var DefaultLimits = Limits{
	MaxEvents:      100,
	MaxSubscribers: 100,
	MaxArgs:        MaxArgSlots,
	MaxTypeLen:     20,
	MaxKeyLen:      10,
}

// Arg is a key/value pair for Post.
type Arg struct {
	Key   string
	Value Value
}

// Delivery selects how many pending events a subscriber receives per pass.
type Delivery uint8

const (
	// DeliverFirst invokes a subscriber for the first matching event only.
	DeliverFirst Delivery = iota
	// DeliverAll invokes a subscriber once per matching event, in fire order.
	DeliverAll
)

func ParseDelivery(s string) (Delivery, bool) {
	switch s {
	case "", "first":
		return DeliverFirst, true
	case "all":
		return DeliverAll, true
	}
	return DeliverFirst, false
}

func (d Delivery) String() string {
	if d == DeliverAll {
		return "all"
	}
	return "first"
}

// SubscriptionID identifies one Subscribe call. IDs are never reused by a Bus.
type SubscriptionID uint64

// Callback receives an event during Dispatch. The *Event is only valid for
// the duration of the call.
type Callback func(ev *Event)

// DispatchStats summarizes one Dispatch pass.
type DispatchStats struct {
	Events     int // events pending when the pass started
	Deliveries int // callback invocations
	Carried    int // events fired during the pass, kept for the next one
}
