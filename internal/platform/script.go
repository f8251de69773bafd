package platform

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"

	"golang.org/x/crypto/blake2b"
	"gopkg.in/yaml.v3"
)

// Input kinds accepted in a replay script.
const (
	InputKeyPress   = "key_press"
	InputKeyRelease = "key_release"
	InputResize     = "resize"
	InputExit       = "exit"
)

// InputEvent is one platform event as written in a replay script.
type InputEvent struct {
	Type   string `yaml:"type"`
	Key    int32  `yaml:"key"`
	Width  int32  `yaml:"width"`
	Height int32  `yaml:"height"`
}

// ScriptFrame groups the events delivered on one frame.
type ScriptFrame struct {
	Frame  uint64       `yaml:"frame"`
	Events []InputEvent `yaml:"events"`
}

// Script is a replay of platform input keyed by frame number.
type Script struct {
	frames map[uint64][]InputEvent
	last   uint64
	digest [blake2b.Size256]byte
}

// LoadScript loads a replay script from a YAML file.
func LoadScript(path string) (*Script, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input script: %w", err)
	}
	s, err := ParseScript(raw)
	if err != nil {
		return nil, fmt.Errorf("parse input script %s: %w", path, err)
	}
	return s, nil
}

// ParseScript decodes a replay script. Frames may repeat; their events are
// appended in file order.
func ParseScript(raw []byte) (*Script, error) {
	var entries []ScriptFrame
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	s := &Script{
		frames: make(map[uint64][]InputEvent, len(entries)),
		digest: blake2b.Sum256(raw),
	}
	for _, e := range entries {
		for i, ev := range e.Events {
			if err := ev.validate(); err != nil {
				return nil, fmt.Errorf("frame %d event %d: %w", e.Frame, i, err)
			}
		}
		s.frames[e.Frame] = append(s.frames[e.Frame], e.Events...)
		if e.Frame > s.last {
			s.last = e.Frame
		}
	}
	return s, nil
}

func (ev InputEvent) validate() error {
	switch ev.Type {
	case InputKeyPress, InputKeyRelease, InputExit:
		return nil
	case InputResize:
		if ev.Width <= 0 || ev.Height <= 0 {
			return fmt.Errorf("resize to %dx%d", ev.Width, ev.Height)
		}
		return nil
	}
	return fmt.Errorf("unknown input type %q", ev.Type)
}

// Events returns the events scripted for frame.
func (s *Script) Events(frame uint64) []InputEvent {
	if s == nil {
		return nil
	}
	return s.frames[frame]
}

// Frames returns the scripted frame numbers in ascending order.
func (s *Script) Frames() []uint64 {
	if s == nil {
		return nil
	}
	out := make([]uint64, 0, len(s.frames))
	for f := range s.frames {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LastFrame returns the highest scripted frame.
func (s *Script) LastFrame() uint64 {
	if s == nil {
		return 0
	}
	return s.last
}

// Count returns the number of scripted frames.
func (s *Script) Count() int {
	if s == nil {
		return 0
	}
	return len(s.frames)
}

// Digest identifies the script source, so journaled runs can be matched to
// the input that produced them. Empty for a nil script.
func (s *Script) Digest() string {
	if s == nil {
		return ""
	}
	return hex.EncodeToString(s.digest[:])
}
