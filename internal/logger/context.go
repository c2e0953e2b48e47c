package logger

import (
	"context"
	"log/slog"
)

type contextKey string

// Identifiers carried through contexts into structured records.
const (
	ContextKeyRequestID  contextKey = "request_id"
	ContextKeyRunID      contextKey = "run_id"
	ContextKeyScheduleID contextKey = "schedule_id"
)

var contextKeys = [...]contextKey{ContextKeyRequestID, ContextKeyRunID, ContextKeyScheduleID}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, id)
}

func WithScheduleID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyScheduleID, id)
}

// Slog returns the structured logger, or slog's default before Init.
func Slog() *slog.Logger {
	if instance == nil {
		return slog.Default()
	}
	return instance.structured
}

// WithContext returns the structured logger annotated with the identifiers
// found in ctx.
func WithContext(ctx context.Context) *slog.Logger {
	l := Slog()
	for _, key := range contextKeys {
		if v, ok := ctx.Value(key).(string); ok && v != "" {
			l = l.With(string(key), v)
		}
	}
	return l
}

func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}
