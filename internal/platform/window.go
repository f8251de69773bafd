// Package platform is the engine's window port. Real backends (X11, Win32)
// live outside this repository; Headless stands in for them by replaying a
// script, firing the same well-known events a backend would.
package platform

import (
	"errors"
	"fmt"

	"github.com/emberforge/engine/internal/core/event"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("window is closed")

// Window is what the engine needs from a platform backend.
type Window interface {
	// Poll drains the platform queue for frame into the event bus.
	Poll(frame uint64) error
	Size() (width, height int32)
	Close() error
}

// Headless is a Window without a display.
type Headless struct {
	bus     *event.Bus
	script  *Script
	title   string
	width   int32
	height  int32
	exposed bool
	closed  bool
	log     *zap.Logger
}

// NewHeadless creates a window of the given size. script may be nil.
func NewHeadless(bus *event.Bus, script *Script, title string, width, height int32, log *zap.Logger) *Headless {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Headless{
		bus:    bus,
		script: script,
		title:  title,
		width:  width,
		height: height,
		log:    log.Named("window"),
	}
	h.log.Info("window created",
		zap.String("title", title),
		zap.Int32("width", width),
		zap.Int32("height", height),
		zap.Int("scripted_frames", script.Count()),
	)
	return h
}

// Poll posts the events for frame. The first poll also reports the initial
// size, as a mapped window's first expose does.
func (h *Headless) Poll(frame uint64) error {
	if h.closed {
		return ErrClosed
	}
	if !h.exposed {
		h.exposed = true
		if err := h.postResize(h.width, h.height); err != nil {
			return err
		}
	}
	for _, ev := range h.script.Events(frame) {
		if err := h.post(ev); err != nil {
			return fmt.Errorf("frame %d %s: %w", frame, ev.Type, err)
		}
	}
	return nil
}

func (h *Headless) post(ev InputEvent) error {
	switch ev.Type {
	case InputKeyPress:
		return h.bus.Post(event.TypeKeyPress, event.Arg{Key: event.ArgKey, Value: event.Int32(ev.Key)})
	case InputKeyRelease:
		return h.bus.Post(event.TypeKeyRelease, event.Arg{Key: event.ArgKey, Value: event.Int32(ev.Key)})
	case InputResize:
		return h.postResize(ev.Width, ev.Height)
	case InputExit:
		return h.bus.Fire(event.TypeWindowExitRequest)
	}
	return fmt.Errorf("unknown input type %q", ev.Type)
}

func (h *Headless) postResize(width, height int32) error {
	if err := h.bus.Post(event.TypeWindowResize,
		event.Arg{Key: event.ArgWidth, Value: event.Int32(width)},
		event.Arg{Key: event.ArgHeight, Value: event.Int32(height)},
	); err != nil {
		return err
	}
	h.width, h.height = width, height
	return nil
}

func (h *Headless) Size() (int32, int32) { return h.width, h.height }

func (h *Headless) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.log.Info("window destroyed", zap.String("title", h.title))
	return nil
}
