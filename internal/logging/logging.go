// Package logging configures the gateway's structured logger and carries a
// request-scoped logger through context. The request ID is bound once, in
// the middleware, so every line logged while serving a request carries it
// without each call site threading it through.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type ctxKey struct{}

// New creates the process logger. Format is "json" or "text"; unknown levels
// fall back to info. Debug level also records source locations.
func New(level, format string) *slog.Logger {
	lvl := parseLevel(level)

	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// WithRequest returns a context carrying the given logger pre-bound with the
// request ID. Serving code retrieves it with L.
func WithRequest(ctx context.Context, logger *slog.Logger, requestID string) context.Context {
	if requestID != "" {
		logger = logger.With("request_id", requestID)
	}
	return context.WithValue(ctx, ctxKey{}, logger)
}

// L returns the request-scoped logger, or the process default outside a
// request.
func L(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}
