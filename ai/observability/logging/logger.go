// Package logging provides structured logging utilities for the gateway.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

type loggerKey struct{}

type requestIDKey struct{}

// ParseLevel maps a level name to a slog level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
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

// NewHandler returns a JSON handler in prod mode and a text handler otherwise.
func NewHandler(w io.Writer, mode string, level slog.Level) slog.Handler {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: level}
	if mode == "prod" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Setup installs the process-wide default logger and returns it.
func Setup(mode, level string) *slog.Logger {
	logger := slog.New(NewHandler(os.Stdout, mode, ParseLevel(level)))
	slog.SetDefault(logger)
	return logger
}

// FromContext extracts the logger from context.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ToContext adds the logger to context.
func ToContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// WithRequest tags ctx with a request id and a logger carrying it.
// An existing request id in ctx is kept.
func WithRequest(ctx context.Context, base *slog.Logger, args ...any) (context.Context, *slog.Logger) {
	if base == nil {
		base = FromContext(ctx)
	}
	id := RequestID(ctx)
	if id == "" {
		id = uuid.NewString()
		ctx = context.WithValue(ctx, requestIDKey{}, id)
	}
	logger := base.With(append([]any{"request_id", id}, args...)...)
	return ToContext(ctx, logger), logger
}

// RequestID returns the request id stored by WithRequest, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
