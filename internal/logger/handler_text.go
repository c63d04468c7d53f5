package logger

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
	ansiGray   = "\033[90m"
)

const textTimeLayout = "2006-01-02 15:04:05.000"

// ColorTextHandler writes one line per record:
//
//	[2006-01-02 15:04:05.000] [INFO] Worker discovered host=192.168.0.12 attempt=12
//
// Group attributes are flattened into dotted keys. Keys and levels are
// colored when color is on.
type ColorTextHandler struct {
	level  slog.Leveler
	w      io.Writer
	mu     *sync.Mutex // shared by every handler derived from the same root
	prefix []byte      // pre-rendered WithAttrs attributes
	groups string      // dotted WithGroup prefix, including the trailing dot
	color  bool
}

// NewColorTextHandler returns a handler writing to w. A nil opts logs at
// info level and above.
func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ColorTextHandler {
	var lvl slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		lvl = opts.Level
	}
	return &ColorTextHandler{level: lvl, w: w, mu: new(sync.Mutex), color: color}
}

// Enabled implements slog.Handler.
func (h *ColorTextHandler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *ColorTextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	buf = append(buf, '[')
	buf = r.Time.AppendFormat(buf, textTimeLayout)
	buf = append(buf, "] ["...)
	buf = h.appendLevel(buf, r.Level)
	buf = append(buf, "] "...)
	buf = append(buf, r.Message...)
	buf = append(buf, h.prefix...)

	r.Attrs(func(a slog.Attr) bool {
		buf = h.appendAttr(buf, h.groups, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *ColorTextHandler) appendLevel(buf []byte, l slog.Level) []byte {
	name, color := "ERROR", ansiRed
	switch {
	case l < slog.LevelInfo:
		name, color = "DEBUG", ansiGray
	case l < slog.LevelWarn:
		name, color = "INFO", ansiGreen
	case l < slog.LevelError:
		name, color = "WARN", ansiYellow
	}
	if !h.color {
		return append(buf, name...)
	}
	buf = append(buf, color...)
	buf = append(buf, name...)
	return append(buf, ansiReset...)
}

// appendAttr renders a as " key=value". Empty attrs are skipped.
func (h *ColorTextHandler) appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}

	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			buf = h.appendAttr(buf, prefix, ga)
		}
		return buf
	}

	buf = append(buf, ' ')
	if h.color {
		buf = append(buf, ansiCyan...)
	}
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	if h.color {
		buf = append(buf, ansiReset...)
	}
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'f', 3, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	}

	s := v.String()
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}

// WithAttrs implements slog.Handler. The attributes are rendered once here
// rather than on every record.
func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	c := *h
	c.prefix = append([]byte(nil), h.prefix...)
	for _, a := range attrs {
		c.prefix = h.appendAttr(c.prefix, h.groups, a)
	}
	return &c
}

// WithGroup implements slog.Handler.
func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.groups = h.groups + name + "."
	return &c
}
