package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ANSI color escape codes used by the colored console output.
const (
	ansiReset  = "\033[0m"
	ansiGray   = "\033[37m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiRed    = "\033[31m"
)

// consoleTimeFormat is the timestamp layout of console lines.
const consoleTimeFormat = "2006-01-02 15:04:05.000"

// ConsoleHandler is an slog.Handler rendering one human-readable line per
// record:
//
//	[2024-01-01 12:00:00.000] INFO  step settled module=sim step=3
//
// Attributes keep the order they were added in. With color set, the level
// is wrapped in an ANSI color.
type ConsoleHandler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	color bool
	attrs []slog.Attr
	group string
}

// NewConsoleHandler creates a console handler writing to w.
func NewConsoleHandler(w io.Writer, level slog.Leveler, color bool) *ConsoleHandler {
	return &ConsoleHandler{mu: new(sync.Mutex), w: w, level: level, color: color}
}

func (h *ConsoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	threshold := slog.LevelInfo
	if h.level != nil {
		threshold = h.level.Level()
	}
	return level >= threshold
}

func (h *ConsoleHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	if !r.Time.IsZero() {
		b.WriteString("[")
		b.WriteString(r.Time.Format(consoleTimeFormat))
		b.WriteString("] ")
	}
	name := levelName(r.Level)
	if h.color {
		b.WriteString(colorForLevel(r.Level))
		fmt.Fprintf(&b, "%-5s", name)
		b.WriteString(ansiReset)
	} else {
		fmt.Fprintf(&b, "%-5s", name)
	}
	b.WriteString(" ")
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.group, a)
		return true
	})
	b.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *ConsoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cpy := *h
	cpy.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		cpy.attrs = append(cpy.attrs, a)
	}
	return &cpy
}

func (h *ConsoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	cpy := *h
	if h.group != "" {
		cpy.group = h.group + "." + name
	} else {
		cpy.group = name
	}
	return &cpy
}

func writeAttr(b *strings.Builder, group string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if group != "" {
		key = group + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(b, key, ga)
		}
		return
	}
	b.WriteString(" ")
	b.WriteString(key)
	b.WriteString("=")
	b.WriteString(formatValue(a.Value))
}

func formatValue(v slog.Value) string {
	var s string
	switch v.Kind() {
	case slog.KindTime:
		s = v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		s = v.Duration().String()
	default:
		s = fmt.Sprint(v.Any())
	}
	if s == "" || strings.ContainsAny(s, " \t\"=") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func levelName(l slog.Level) string {
	switch {
	case l < slog.LevelInfo:
		return "DEBUG"
	case l < slog.LevelWarn:
		return "INFO"
	case l < slog.LevelError:
		return "WARN"
	default:
		return "ERROR"
	}
}

func colorForLevel(l slog.Level) string {
	switch levelName(l) {
	case "DEBUG":
		return ansiGray
	case "INFO":
		return ansiGreen
	case "WARN":
		return ansiYellow
	default:
		return ansiRed
	}
}

var _ slog.Handler = (*ConsoleHandler)(nil)
