// Package logging provides the gateway's process-wide structured logger
// and a log/slog adapter for components (the supervisor tree) that only
// accept a *slog.Logger.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process-wide zerolog.Logger. level is one of
// debug/info/warn/error (case-insensitive); unrecognized values fall back
// to info. An empty logFile writes to stderr.
func New(level, logFile string) (zerolog.Logger, error) {
	var out io.Writer = os.Stderr
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return zerolog.Logger{}, err
		}
		out = f
	}

	lvl := parseLevel(level)
	logger := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	return logger, nil
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with a component name, the same
// convention used throughout the gateway's packages.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// slogHandler adapts a zerolog.Logger into a slog.Handler so packages that
// only accept *slog.Logger (the suture supervisor tree, via sutureslog)
// can share the same sink and level as the rest of the gateway.
type slogHandler struct {
	logger zerolog.Logger
}

// NewSlogLogger wraps a zerolog.Logger as a *slog.Logger.
func NewSlogLogger(logger zerolog.Logger) *slog.Logger {
	return slog.New(&slogHandler{logger: logger})
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= zerologLevel(level)
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	evt := h.logger.WithLevel(zerologLevel(record.Level))
	record.Attrs(func(a slog.Attr) bool {
		evt = evt.Interface(a.Key, a.Value.Any())
		return true
	})
	evt.Msg(record.Message)
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	ctx := h.logger.With()
	for _, a := range attrs {
		ctx = ctx.Interface(a.Key, a.Value.Any())
	}
	return &slogHandler{logger: ctx.Logger()}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	return &slogHandler{logger: h.logger.With().Str("group", name).Logger()}
}

func zerologLevel(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
