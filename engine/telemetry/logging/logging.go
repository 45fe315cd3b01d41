// Package logging wraps log/slog with automatic trace/span correlation,
// the way the rest of the pipeline's telemetry packages correlate by
// context rather than by explicit parameter threading.
package logging

import (
	"context"
	"log/slog"
	"os"

	"hyperpipe/engine/telemetry/tracing"
)

// Logger is the logging contract every hyperpipe component depends on.
type Logger interface {
	DebugCtx(ctx context.Context, msg string, args ...any)
	InfoCtx(ctx context.Context, msg string, args ...any)
	WarnCtx(ctx context.Context, msg string, args ...any)
	ErrorCtx(ctx context.Context, msg string, args ...any)
}

type correlatedLogger struct {
	base *slog.Logger
}

// New wraps base (or a sensible JSON-to-stderr default when base is nil).
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return &correlatedLogger{base: base}
}

func (l *correlatedLogger) with(ctx context.Context, args []any) []any {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID == "" {
		return args
	}
	return append([]any{"trace_id", traceID, "span_id", spanID}, args...)
}

func (l *correlatedLogger) DebugCtx(ctx context.Context, msg string, args ...any) {
	l.base.Debug(msg, l.with(ctx, args)...)
}

func (l *correlatedLogger) InfoCtx(ctx context.Context, msg string, args ...any) {
	l.base.Info(msg, l.with(ctx, args)...)
}

func (l *correlatedLogger) WarnCtx(ctx context.Context, msg string, args ...any) {
	l.base.Warn(msg, l.with(ctx, args)...)
}

func (l *correlatedLogger) ErrorCtx(ctx context.Context, msg string, args ...any) {
	l.base.Error(msg, l.with(ctx, args)...)
}
