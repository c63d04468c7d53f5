// Package logger is the process-wide structured logger. Records go through
// log/slog, as colored text on a terminal or as JSON. Logs default to stderr
// so the result lines a capsule prints on stdout are never interleaved with
// them.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a log severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levels = [...]struct {
	name string
	slog slog.Level
}{
	LevelDebug: {"DEBUG", slog.LevelDebug},
	LevelInfo:  {"INFO", slog.LevelInfo},
	LevelWarn:  {"WARN", slog.LevelWarn},
	LevelError: {"ERROR", slog.LevelError},
}

func (l Level) String() string {
	if l < LevelDebug || l > LevelError {
		return "UNKNOWN"
	}
	return levels[l].name
}

// ParseLevel parses a case-insensitive level name. WARNING is accepted as
// an alias of WARN.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		s = "WARN"
	}
	for l, def := range levels {
		if def.name == s {
			return Level(l), true
		}
	}
	return LevelInfo, false
}

// Config holds logger configuration.
type Config struct {
	Level  string // DEBUG, INFO, WARN, ERROR
	Format string // text, json
	Output string // stdout, stderr, or a file path
}

// The level lives in a LevelVar shared by every handler, so SetLevel does
// not rebuild anything.
var level slog.LevelVar

var state = struct {
	mu     sync.RWMutex
	out    io.Writer
	file   *os.File // set when out is a file Init opened
	color  bool
	json   bool
	logger *slog.Logger
}{out: os.Stderr}

func init() {
	state.color = isTerminal(os.Stderr.Fd())
	rebuild()
}

// rebuild installs a handler for the current writer and format. Callers
// must not hold state.mu.
func rebuild() {
	state.mu.Lock()
	defer state.mu.Unlock()

	opts := &slog.HandlerOptions{Level: &level}
	var h slog.Handler
	if state.json {
		h = slog.NewJSONHandler(state.out, opts)
	} else {
		h = NewColorTextHandler(state.out, opts, state.color)
	}
	state.logger = slog.New(h)
}

// Init applies cfg. An empty field keeps the current setting.
func Init(cfg Config) error {
	if cfg.Output != "" {
		out, file, color, err := openOutput(cfg.Output)
		if err != nil {
			return err
		}
		setOutput(out, file, color)
	}
	if cfg.Level != "" {
		SetLevel(cfg.Level)
	}
	if cfg.Format != "" {
		SetFormat(cfg.Format)
	}
	rebuild()
	return nil
}

func openOutput(dest string) (io.Writer, *os.File, bool, error) {
	switch strings.ToLower(dest) {
	case "stdout":
		return os.Stdout, nil, isTerminal(os.Stdout.Fd()), nil
	case "stderr":
		return os.Stderr, nil, isTerminal(os.Stderr.Fd()), nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to open log file %q: %w", dest, err)
	}
	return f, f, false, nil
}

// setOutput swaps the writer and closes a log file opened by a previous Init.
func setOutput(w io.Writer, file *os.File, color bool) {
	state.mu.Lock()
	prev := state.file
	state.out, state.file, state.color = w, file, color
	state.mu.Unlock()

	if prev != nil && prev != file {
		_ = prev.Close()
	}
}

// InitWithWriter sends logs to w. Tests use it to capture output.
func InitWithWriter(w io.Writer, lvl, format string, color bool) {
	setOutput(w, nil, color)
	if lvl != "" {
		SetLevel(lvl)
	}
	if format != "" {
		SetFormat(format)
	}
	rebuild()
}

// SetLevel sets the minimum level. Unknown names are ignored.
func SetLevel(name string) {
	if l, ok := ParseLevel(name); ok {
		level.Set(levels[l].slog)
	}
}

// CurrentLevel returns the minimum level being logged.
func CurrentLevel() Level {
	switch cur := level.Level(); {
	case cur <= slog.LevelDebug:
		return LevelDebug
	case cur <= slog.LevelInfo:
		return LevelInfo
	case cur <= slog.LevelWarn:
		return LevelWarn
	default:
		return LevelError
	}
}

// SetFormat selects text or json output. Unknown formats are ignored.
func SetFormat(format string) {
	var asJSON bool
	switch strings.ToLower(format) {
	case "text":
	case "json":
		asJSON = true
	default:
		return
	}

	state.mu.Lock()
	changed := state.json != asJSON
	state.json = asJSON
	state.mu.Unlock()

	if changed {
		rebuild()
	}
}

func current() *slog.Logger {
	state.mu.RLock()
	defer state.mu.RUnlock()
	return state.logger
}

// With returns a logger with args bound to every record.
func With(args ...any) *slog.Logger {
	return current().With(args...)
}

func logAt(ctx context.Context, l Level, msg string, args []any) {
	lvl := levels[l].slog
	if lvl < level.Level() {
		return
	}
	current().Log(ctx, lvl, msg, withContextFields(ctx, args)...)
}

// Debug logs at debug level. Args are slog key/value pairs or Attrs.
func Debug(msg string, args ...any) { logAt(context.Background(), LevelDebug, msg, args) }

// Info logs at info level.
func Info(msg string, args ...any) { logAt(context.Background(), LevelInfo, msg, args) }

// Warn logs at warn level.
func Warn(msg string, args ...any) { logAt(context.Background(), LevelWarn, msg, args) }

// Error logs at error level.
func Error(msg string, args ...any) { logAt(context.Background(), LevelError, msg, args) }

// DebugCtx logs at debug level, prefixed with the LogContext fields in ctx.
func DebugCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelDebug, msg, args) }

// InfoCtx is the context-aware form of Info.
func InfoCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelInfo, msg, args) }

// WarnCtx is the context-aware form of Warn.
func WarnCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelWarn, msg, args) }

// ErrorCtx is the context-aware form of Error.
func ErrorCtx(ctx context.Context, msg string, args ...any) { logAt(ctx, LevelError, msg, args) }

// withContextFields prepends the call identity carried by ctx so every line
// of one offloaded call starts with the same fields.
func withContextFields(ctx context.Context, args []any) []any {
	lc := FromContext(ctx)
	if lc == nil {
		return args
	}

	fields := [...]struct{ key, val string }{
		{KeyTraceID, lc.TraceID},
		{KeySpanID, lc.SpanID},
		{KeyCallID, lc.CallID},
		{KeyUnit, lc.Unit},
		{KeyHost, lc.Host},
	}
	out := make([]any, 0, 2*len(fields)+len(args))
	for _, f := range fields {
		if f.val != "" {
			out = append(out, f.key, f.val)
		}
	}
	return append(out, args...)
}

// Duration returns the milliseconds elapsed since start.
func Duration(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
