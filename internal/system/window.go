package system

import (
	"errors"
	"time"

	"github.com/emberforge/engine/internal/core/event"
	coresys "github.com/emberforge/engine/internal/core/system"
	"go.uber.org/zap"
)

// WindowSystem follows the well-known platform events: window size, held
// keys and the exit request. Phase 2 (Update).
type WindowSystem struct {
	bus  *event.Bus
	subs map[string]event.SubscriptionID
	log  *zap.Logger

	width, height int32
	resized       bool
	lastKey       int32
	keysDown      map[int32]bool
	exitRequested bool
}

// NewWindowSystem subscribes to the platform events. Under first-match
// delivery it should be created before other listeners of the same events.
func NewWindowSystem(bus *event.Bus, log *zap.Logger) (*WindowSystem, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := &WindowSystem{
		bus:      bus,
		subs:     make(map[string]event.SubscriptionID, 4),
		log:      log,
		keysDown: make(map[int32]bool),
	}
	handlers := []struct {
		typ string
		cb  event.Callback
	}{
		{event.TypeWindowResize, s.onResize},
		{event.TypeKeyPress, s.onKeyPress},
		{event.TypeKeyRelease, s.onKeyRelease},
		{event.TypeWindowExitRequest, s.onExit},
	}
	for _, h := range handlers {
		id, err := bus.Subscribe(h.typ, h.cb)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.subs[h.typ] = id
	}
	return s, nil
}

func (s *WindowSystem) Name() string         { return "window" }
func (s *WindowSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *WindowSystem) Update(_ time.Duration) error {
	if s.resized {
		s.resized = false
		s.log.Debug("window resized", zap.Int32("width", s.width), zap.Int32("height", s.height))
	}
	return nil
}

func (s *WindowSystem) onResize(ev *event.Event) {
	s.width = s.bus.GetArgument(ev, event.ArgWidth).Int32()
	s.height = s.bus.GetArgument(ev, event.ArgHeight).Int32()
	s.resized = true
}

func (s *WindowSystem) onKeyPress(ev *event.Event) {
	k := s.bus.GetArgument(ev, event.ArgKey).Int32()
	s.lastKey = k
	s.keysDown[k] = true
}

func (s *WindowSystem) onKeyRelease(ev *event.Event) {
	delete(s.keysDown, s.bus.GetArgument(ev, event.ArgKey).Int32())
}

func (s *WindowSystem) onExit(*event.Event) {
	if !s.exitRequested {
		s.log.Info("window exit requested")
	}
	s.exitRequested = true
}

func (s *WindowSystem) Size() (int32, int32) { return s.width, s.height }
func (s *WindowSystem) LastKey() int32       { return s.lastKey }
func (s *WindowSystem) KeyDown(k int32) bool { return s.keysDown[k] }
func (s *WindowSystem) ExitRequested() bool  { return s.exitRequested }

// Close drops the subscriptions. It is a no-op once the bus is shut down.
func (s *WindowSystem) Close() error {
	if s.bus.Closed() {
		s.subs = nil
		return nil
	}
	var errs []error
	for typ, id := range s.subs {
		if err := s.bus.Unsubscribe(typ, id); err != nil {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}
