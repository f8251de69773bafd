package diag

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"

	"go.uber.org/zap"
)

// Policy decides what happens after a fatal misuse has been logged.
type Policy uint8

const (
	// PolicyReturn hands the failure back to the caller as an error.
	PolicyReturn Policy = iota
	// PolicyPanic panics with the failure, the equivalent of a debug trap.
	PolicyPanic
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "return":
		return PolicyReturn, nil
	case "panic":
		return PolicyPanic, nil
	}
	return PolicyReturn, fmt.Errorf("unknown fatal policy %q", s)
}

func (p Policy) String() string {
	if p == PolicyPanic {
		return "panic"
	}
	return "return"
}

// Failure describes a fatal misuse of an engine subsystem. Err is the
// subsystem's sentinel, so errors.Is(f, arena.ErrOutOfCapacity) holds.
type Failure struct {
	Channel  string
	Message  string
	File     string
	Function string
	Line     int
	Err      error
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return f.Channel + ": " + f.Err.Error()
	}
	return f.Channel + ": " + f.Err.Error() + ": " + f.Message
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailure reports whether err carries a *Failure.
func IsFailure(err error) bool {
	var f *Failure
	return errors.As(err, &f)
}

// Asserter reports misuse on behalf of one channel (arena, event, ...).
type Asserter struct {
	channel string
	log     *zap.Logger
	policy  Policy
}

func NewAsserter(log *zap.Logger, channel string, policy Policy) *Asserter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Asserter{channel: channel, log: log, policy: policy}
}

func (a *Asserter) Channel() string { return a.channel }
func (a *Asserter) Policy() Policy  { return a.policy }

// Fail logs a fatal misuse at the caller's location and returns it as a
// *Failure. Under PolicyPanic it does not return.
func (a *Asserter) Fail(sentinel error, format string, args ...any) error {
	f := &Failure{
		Channel: a.channel,
		Message: fmt.Sprintf(format, args...),
		Err:     sentinel,
	}
	if pc, file, line, ok := runtime.Caller(1); ok {
		f.File = filepath.Base(file)
		f.Line = line
		if fn := runtime.FuncForPC(pc); fn != nil {
			f.Function = fn.Name()
		}
	}

	a.log.Error("assertion failure",
		zap.String("channel", f.Channel),
		zap.Error(sentinel),
		zap.String("detail", f.Message),
		zap.String("file", f.File),
		zap.String("function", f.Function),
		zap.Int("line", f.Line),
	)

	if a.policy == PolicyPanic {
		panic(f)
	}
	return f
}

// Warn reports a soft miss. It never escalates.
func (a *Asserter) Warn(msg string, fields ...zap.Field) {
	a.log.Warn(msg, fields...)
}
