package logger

import (
	"context"
	"fmt"
	"log/slog"
)

type contextKey struct{}

var defaultLogger Logger = NewLogger()

// WithLogger attaches l to ctx so downstream code can retrieve it with
// FromContext without threading a Logger through every call signature.
func WithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the Logger attached to ctx, or a default Logger if
// none was attached.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(contextKey{}).(Logger); ok {
		return l
	}
	return defaultLogger
}

func fromContextSlog(ctx context.Context) *slogLogger {
	if l, ok := FromContext(ctx).(*slogLogger); ok {
		return l
	}
	return defaultLogger.(*slogLogger)
}

func Debug(ctx context.Context, msg string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelDebug, msg, args...)
}

func Info(ctx context.Context, msg string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelInfo, msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelWarn, msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelError, msg, args...)
}

func Debugf(ctx context.Context, format string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelDebug, fmt.Sprintf(format, args...))
}

func Infof(ctx context.Context, format string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelInfo, fmt.Sprintf(format, args...))
}

func Warnf(ctx context.Context, format string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelWarn, fmt.Sprintf(format, args...))
}

func Errorf(ctx context.Context, format string, args ...any) {
	fromContextSlog(ctx).log(callerSkip, slog.LevelError, fmt.Sprintf(format, args...))
}
