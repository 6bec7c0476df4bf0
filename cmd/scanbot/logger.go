// ABOUTME: slog setup for the CLI: JSON or a colorized text handler
// ABOUTME: The color handler writes one line per record under a shared mutex

package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/2389/scanbot/internal/config"
)

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	logger := newLogger(cfg, os.Stdout)
	slog.SetDefault(logger)
	return logger
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	level := parseLevel(cfg.Level)

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = &colorHandler{out: w, mu: &sync.Mutex{}, level: level}
	}
	return slog.New(handler)
}

// colorHandler provides colorized log output. Handlers derived with
// WithAttrs/WithGroup share the writer and its mutex.
type colorHandler struct {
	out    io.Writer
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	prefix string // dotted group path for record attrs
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch {
	case r.Level >= slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	case r.Level >= slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case r.Level >= slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	default:
		buf.WriteString(color.MagentaString("DBG "))
	}

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			writeAttr(buf, prefix+a.Key+".", ga)
		}
		return
	}
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		newAttrs = append(newAttrs, a)
	}
	c := *h
	c.attrs = newAttrs
	return &c
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := *h
	c.prefix = h.prefix + name + "."
	return &c
}
