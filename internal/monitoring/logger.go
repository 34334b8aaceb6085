package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var traceEnabled atomic.Bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetTrace enables or disables per-iteration optimizer tracing.
func SetTrace(enabled bool) { traceEnabled.Store(enabled) }

// TraceEnabled reports whether Tracef emits anything. Callers building
// expensive arguments should check it first.
func TraceEnabled() bool { return traceEnabled.Load() }

// Tracef logs through Logf when tracing is enabled.
func Tracef(format string, v ...interface{}) {
	if traceEnabled.Load() {
		Logf(format, v...)
	}
}
