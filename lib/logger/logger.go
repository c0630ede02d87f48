// Package logger provides structured logging with subsystem-specific levels
// and OpenTelemetry log export.
package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// AddToContext adds a logger to the context
func AddToContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or returns default
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

type boundKey string

// Bind returns a context whose logger carries key=value. Binding the same
// pair twice is a no-op, so layers that each know the session ID do not
// emit the attribute twice.
func Bind(ctx context.Context, key, value string) (context.Context, *slog.Logger) {
	if bound, ok := ctx.Value(boundKey(key)).(string); ok && bound == value {
		return ctx, FromContext(ctx)
	}
	l := FromContext(ctx).With(key, value)
	ctx = AddToContext(ctx, l)
	return context.WithValue(ctx, boundKey(key), value), l
}

// Subsystem names a component whose log level can be tuned on its own.
type Subsystem string

const (
	SubsystemAPI      Subsystem = "API"
	SubsystemSessions Subsystem = "SESSIONS"
	SubsystemLessons  Subsystem = "LESSONS"
	SubsystemMCP      Subsystem = "MCP"
	SubsystemTerm     Subsystem = "TERM"
)

// Config holds log levels. LOG_LEVEL sets the default and
// LOG_LEVEL_<SUBSYSTEM> overrides it for one subsystem.
type Config struct {
	Level  slog.Level
	Levels map[Subsystem]slog.Level
	// Output receives the JSON lines. Defaults to stdout.
	Output io.Writer
}

// NewConfig reads log levels from the environment.
func NewConfig() Config {
	cfg := Config{Level: slog.LevelInfo, Levels: map[Subsystem]slog.Level{}}
	if lvl, ok := parseLevel(os.Getenv("LOG_LEVEL")); ok {
		cfg.Level = lvl
	}
	for _, s := range []Subsystem{SubsystemAPI, SubsystemSessions, SubsystemLessons, SubsystemMCP, SubsystemTerm} {
		if lvl, ok := parseLevel(os.Getenv("LOG_LEVEL_" + string(s))); ok {
			cfg.Levels[s] = lvl
		}
	}
	return cfg
}

// LevelFor returns the effective level of a subsystem.
func (c Config) LevelFor(s Subsystem) slog.Level {
	if lvl, ok := c.Levels[s]; ok {
		return lvl
	}
	return c.Level
}

func parseLevel(v string) (slog.Level, bool) {
	if v == "" {
		return 0, false
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(v))); err != nil {
		return 0, false
	}
	return lvl, true
}

// NewSubsystemLogger builds a JSON logger for one subsystem. When
// otelHandler is non-nil every record is also exported through it.
func NewSubsystemLogger(s Subsystem, cfg Config, otelHandler slog.Handler) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	var h slog.Handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: cfg.LevelFor(s)})
	if otelHandler != nil {
		h = &fanout{handlers: []slog.Handler{h, &leveled{Handler: otelHandler, level: cfg.LevelFor(s)}}}
	}
	return slog.New(h).With("subsystem", strings.ToLower(string(s)))
}

// fanout sends each record to every handler that wants it.
type fanout struct {
	handlers []slog.Handler
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: next}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return &fanout{handlers: next}
}

// leveled applies a minimum level to a handler that has none of its own.
type leveled struct {
	slog.Handler
	level slog.Level
}

func (l *leveled) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= l.level && l.Handler.Enabled(ctx, level)
}

func (l *leveled) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &leveled{Handler: l.Handler.WithAttrs(attrs), level: l.level}
}

func (l *leveled) WithGroup(name string) slog.Handler {
	return &leveled{Handler: l.Handler.WithGroup(name), level: l.level}
}
