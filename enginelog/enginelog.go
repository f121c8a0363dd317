// Package enginelog defines the logging seam used across the
// fragmentation engine, mirroring the teacher's dependency-inverted
// Logger interface (runspace.Logger) rather than importing a concrete
// logging library into fragment/sendqueue/recvqueue.
//
// The engine itself never imports zerolog; only this package's default
// implementation does, the same separation danmuck-edgectl keeps between
// internal/observability (the zerolog wiring) and the packages that just
// take a Logger.
package enginelog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the minimal logging seam the engine depends on. Nil is valid
// everywhere a Logger is accepted; callers treat it as "no logging".
type Logger interface {
	// Debugf logs a low-volume diagnostic message (notify races, callback
	// drops, reassembly resets).
	Debugf(format string, args ...interface{})
	// Errorf logs a framing or protocol error before the caller surfaces
	// it to its own caller.
	Errorf(format string, args ...interface{})
}

// zerologLogger adapts zerolog.Logger to the engine's Logger interface.
type zerologLogger struct {
	zl zerolog.Logger
}

// New builds a console-formatted zerolog-backed Logger writing to w,
// tagged with component (e.g. "sendqueue", "recvqueue").
func New(w io.Writer, component string) Logger {
	if w == nil {
		w = os.Stderr
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	zl := zerolog.New(console).With().Timestamp().Str("component", component).Logger()
	return &zerologLogger{zl: zl}
}

// Debugf implements Logger.
func (l *zerologLogger) Debugf(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Errorf implements Logger.
func (l *zerologLogger) Errorf(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
}

// noop discards everything; used when a nil Logger is passed around
// internally so call sites don't need nil checks.
type noop struct{}

// Debugf implements Logger.
func (noop) Debugf(string, ...interface{}) {}

// Errorf implements Logger.
func (noop) Errorf(string, ...interface{}) {}

// Noop returns a Logger that discards everything.
func Noop() Logger { return noop{} }

// orNoop returns l, or Noop() if l is nil.
func orNoop(l Logger) Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// Safe wraps l so that nil is never dereferenced by a caller that forgot
// to check. Packages across the engine call enginelog.Safe(userSupplied)
// once at construction time instead of nil-checking on every log call.
func Safe(l Logger) Logger {
	return orNoop(l)
}
