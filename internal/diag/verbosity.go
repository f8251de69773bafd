package diag

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Verbosity is a set of severities that may be written. Unlike a zap level it
// need not be contiguous: warnings can be silenced while errors and info stay on.
type Verbosity uint8

const (
	VerbosityError Verbosity = 1 << iota
	VerbosityWarning
	VerbosityInfo
	VerbosityDebug

	VerbosityAll = VerbosityError | VerbosityWarning | VerbosityInfo | VerbosityDebug
)

var verbosityNames = map[string]Verbosity{
	"error":   VerbosityError,
	"warning": VerbosityWarning,
	"warn":    VerbosityWarning,
	"info":    VerbosityInfo,
	"debug":   VerbosityDebug,
}

// ParseVerbosity turns config names into flags. An empty list yields 0.
func ParseVerbosity(names []string) (Verbosity, error) {
	var v Verbosity
	for _, name := range names {
		flag, ok := verbosityNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return 0, fmt.Errorf("unknown verbosity %q", name)
		}
		v |= flag
	}
	return v, nil
}

// Enabled implements zapcore.LevelEnabler. DPanic and above count as errors.
func (v Verbosity) Enabled(l zapcore.Level) bool {
	switch {
	case l >= zapcore.ErrorLevel:
		return v&VerbosityError != 0
	case l == zapcore.WarnLevel:
		return v&VerbosityWarning != 0
	case l == zapcore.InfoLevel:
		return v&VerbosityInfo != 0
	default:
		return v&VerbosityDebug != 0
	}
}

func (v Verbosity) String() string {
	if v == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		flag Verbosity
		name string
	}{
		{VerbosityError, "error"},
		{VerbosityWarning, "warning"},
		{VerbosityInfo, "info"},
		{VerbosityDebug, "debug"},
	} {
		if v&f.flag != 0 {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, "|")
}

type verbosityCore struct {
	zapcore.Core
	v Verbosity
}

// WithVerbosity filters c so that only severities in v reach it.
func WithVerbosity(c zapcore.Core, v Verbosity) zapcore.Core {
	return &verbosityCore{Core: c, v: v}
}

func (c *verbosityCore) Enabled(l zapcore.Level) bool {
	return c.v.Enabled(l) && c.Core.Enabled(l)
}

func (c *verbosityCore) With(fields []zapcore.Field) zapcore.Core {
	return &verbosityCore{Core: c.Core.With(fields), v: c.v}
}

func (c *verbosityCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.v.Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}
