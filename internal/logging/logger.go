// Package logging configures the process-wide slog logger and hands out
// request-scoped loggers that carry the chi request id.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
)

// Setup installs the default slog logger. Level is one of debug, info, warn,
// error; format is "json" or "text". Unrecognized values fall back to info
// and text.
func Setup(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FromContext returns the default logger, with request_id attached when the
// context went through chi's RequestID middleware. All handler logging goes
// through this so a request's log lines correlate.
func FromContext(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := middleware.GetReqID(ctx); id != "" {
		l = l.With("request_id", id)
	}
	return l
}

// WithFields returns a context logger with extra key/value pairs, for
// multi-step operations that want consistent fields on every line:
//
//	log := logging.WithFields(ctx, "batch_id", b.ID, "collection", b.Collection)
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}
