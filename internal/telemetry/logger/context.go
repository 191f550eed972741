package logger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
)

type contextKey string

const (
	loggerKey contextKey = "savekeep.logger"
	opIDKey   contextKey = "savekeep.op_id"
)

// WithLogger stores l in ctx.
func WithLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger in ctx, or slog.Default.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// NewOpID returns a fresh operation id.
func NewOpID() string {
	return strings.ToLower(ulid.Make().String())
}

// WithOpID stores an operation id in ctx.
func WithOpID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, opIDKey, id)
}

// OpIDFromContext returns the operation id in ctx, or "".
func OpIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(opIDKey).(string)
	return id
}

// L returns the context logger with op_id attached when present.
func L(ctx context.Context) *slog.Logger {
	l := FromContext(ctx)
	if id := OpIDFromContext(ctx); id != "" {
		l = l.With("op_id", id)
	}
	return l
}
