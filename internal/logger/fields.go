package logger

import (
	"log/slog"
	"time"
)

// Standard field keys for structured logging.
// Use these keys consistently so that discovery, build and dispatch logs
// can be correlated by the same attribute names.
const (
	// ========================================================================
	// Distributed Tracing
	// ========================================================================
	KeyTraceID = "trace_id"
	KeySpanID  = "span_id"
	KeyCallID  = "call_id" // Per-dispatch identifier

	// ========================================================================
	// Discovery
	// ========================================================================
	KeyBase      = "base"      // Configured base address
	KeyCandidate = "candidate" // Candidate address being probed
	KeyAttempt   = "attempt"   // Probe attempt number (1-based)
	KeyHost      = "host"      // Discovered worker address
	KeyTimeout   = "timeout"   // Probe or exec timeout

	// ========================================================================
	// Capsule
	// ========================================================================
	KeyUnit    = "unit"    // Qualified name of the offloaded function
	KeyFile    = "file"    // Source or entry file
	KeyImports = "imports" // Number of imports kept in the capsule
	KeyGlobals = "globals" // Number of global bindings embedded
	KeyGlobal  = "global"  // Name of a single global binding
	KeyBytes   = "bytes"   // Capsule size in bytes

	// ========================================================================
	// Dispatch
	// ========================================================================
	KeyStage    = "stage"     // Dispatch state (discovering, uploading, ...)
	KeySource   = "source"    // Where the result came from: remote or local
	KeyPath     = "path"      // Remote artifact path
	KeyCommand  = "command"   // Remote or local command line
	KeyExitCode = "exit_code" // Process exit status
	KeyLines    = "lines"     // Captured output line count
	KeyPayload  = "payload"   // Whether a payload was parsed

	// ========================================================================
	// Operation Metadata
	// ========================================================================
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyUsername   = "username"
	KeyAuth       = "auth" // Authentication method: password, key, agent
)

// Host returns a slog.Attr for the worker address
func Host(addr string) slog.Attr {
	return slog.String(KeyHost, addr)
}

// Candidate returns a slog.Attr for a discovery candidate
func Candidate(addr string) slog.Attr {
	return slog.String(KeyCandidate, addr)
}

// Unit returns a slog.Attr for the offloaded function name
func Unit(name string) slog.Attr {
	return slog.String(KeyUnit, name)
}

// Stage returns a slog.Attr for the dispatch state
func Stage(stage string) slog.Attr {
	return slog.String(KeyStage, stage)
}

// Err returns a slog.Attr for an error; nil errors produce an empty attr
// which the handlers skip.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}

// DurationMs returns a slog.Attr with the elapsed time since start
func DurationMs(start time.Time) slog.Attr {
	return slog.Float64(KeyDurationMs, Duration(start))
}
