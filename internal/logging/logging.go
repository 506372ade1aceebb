// Package logging provides the structured logger used across pop3d. Only
// the call sites and severity contract are specified (spec §1): credentials
// must never appear in any log output (spec §8 invariant 6).
package logging

import (
	"context"
	"log/slog"
	"os"
)

type contextKey int

const loggerContextKey contextKey = 0

// NewLogger builds a slog.Logger writing structured text to stderr at the
// given level ("debug", "info", "warn", "error"; anything else falls back
// to "info").
func NewLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
}

func parseLevel(level string) slog.Level {
	switch level {
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

// WithLogger returns a context carrying logger, retrievable with
// FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext returns the logger stored in ctx, or slog.Default() if none
// was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok && logger != nil {
		return logger
	}
	return slog.Default()
}
