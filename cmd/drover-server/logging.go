// ABOUTME: Colorized slog handler for human-readable console output.
// ABOUTME: JSON logging is selected via config for machine consumption.

package main

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// colorHandler renders records as a timestamped single line with colored
// level tags. Writes are serialized through the mutex.
type colorHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

var levelTags = map[slog.Level]string{
	slog.LevelDebug: color.HiBlackString("DEBUG"),
	slog.LevelInfo:  color.GreenString(" INFO"),
	slog.LevelWarn:  color.YellowString(" WARN"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERROR"),
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("2006-01-02 15:04:05")))
	buf.WriteByte(' ')

	if tag, ok := levelTags[r.Level]; ok {
		buf.WriteString(tag)
	} else {
		buf.WriteString(r.Level.String())
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		h.writeAttr(&buf, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&buf, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

// writeAttr appends one key=value pair, prefixing the key with any open
// groups and quoting values that contain spaces.
func (h *colorHandler) writeAttr(buf *strings.Builder, a slog.Attr) {
	key := a.Key
	if len(h.groups) > 0 {
		key = strings.Join(h.groups, ".") + "." + key
	}
	buf.WriteString(color.CyanString(" " + key + "="))

	val := a.Value.String()
	if strings.ContainsAny(val, " \t") {
		val = strconv.Quote(val)
	}
	buf.WriteString(val)
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &colorHandler{out: h.out, level: h.level, attrs: merged, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	groups := make([]string, 0, len(h.groups)+1)
	groups = append(groups, h.groups...)
	groups = append(groups, name)
	return &colorHandler{out: h.out, level: h.level, attrs: h.attrs, groups: groups}
}
