package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lsst-ts/ts-standardscripts/internal/infrastructure/config"
)

// ServiceName is attached to every record as the "service" attribute.
const ServiceName = "standardscripts"

// Logger is the slog.Logger every runner component logs through.
type Logger struct {
	*slog.Logger
}

// New builds a Logger from the logging section. Records carry the service
// name and version.
func New(cfg config.LoggingConfig, version string) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	return NewWithWriter(cfg, version, out)
}

// NewWithWriter is New writing to out.
func NewWithWriter(cfg config.LoggingConfig, version string, out io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return &Logger{slog.New(h).With("service", ServiceName, "version", version)}
}

// parseLevel accepts slog level names ("debug", "INFO", "warn+2") plus
// "warning". Anything else is info.
func parseLevel(s string) slog.Level {
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// With returns a child Logger carrying args on every record.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{l.Logger.With(args...)}
}

// ForScript returns the logger of one script instance.
func (l *Logger) ForScript(name string, index int) *Logger {
	return l.With("script", name, "index", index)
}

// Forward returns a Logger that writes to l and also hands every record at
// or above minLevel to sink, whatever l's own level. The script host uses
// it to mirror a script's log onto its log topic.
func (l *Logger) Forward(minLevel slog.Level, sink func(level slog.Level, msg string)) *Logger {
	return &Logger{slog.New(&forwardHandler{next: l.Handler(), min: minLevel, sink: sink})}
}

type forwardHandler struct {
	next slog.Handler
	min  slog.Level
	sink func(level slog.Level, msg string)
}

func (h *forwardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.next.Enabled(ctx, level)
}

func (h *forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min && h.sink != nil {
		h.sink(r.Level, r.Message)
	}
	if !h.next.Enabled(ctx, r.Level) {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &forwardHandler{next: h.next.WithAttrs(attrs), min: h.min, sink: h.sink}
}

func (h *forwardHandler) WithGroup(name string) slog.Handler {
	return &forwardHandler{next: h.next.WithGroup(name), min: h.min, sink: h.sink}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{slog.New(slog.DiscardHandler)}
}
