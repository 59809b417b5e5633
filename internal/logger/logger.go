// Package logger provides the structured, context-carrying logger used
// throughout the DAG execution manager: log/slog underneath, with the
// source location always pointing at the caller rather than this package.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"
)

// Logger is the logging surface every package depends on. Implementations
// must resolve the source location to the caller of these methods, not to
// this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)

	With(args ...any) Logger
	WithGroup(name string) Logger
}

type options struct {
	debug  bool
	format string
	writer io.Writer
	quiet  bool
}

// Option configures a Logger built by NewLogger.
type Option func(*options)

// WithDebug enables debug-level logging and source-location attribution.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithFormat selects "text" (default) or "json" output.
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithWriter adds an additional destination for log records.
func WithWriter(w io.Writer) Option {
	return func(o *options) { o.writer = w }
}

// WithQuiet suppresses the default stdout destination.
func WithQuiet() Option {
	return func(o *options) { o.quiet = true }
}

type slogLogger struct {
	handler slog.Handler
}

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	o := &options{format: "text"}
	for _, opt := range opts {
		opt(o)
	}

	var writers []io.Writer
	if !o.quiet {
		writers = append(writers, os.Stdout)
	}
	if o.writer != nil {
		writers = append(writers, o.writer)
	}
	var w io.Writer
	switch len(writers) {
	case 0:
		w = io.Discard
	case 1:
		w = writers[0]
	default:
		w = io.MultiWriter(writers...)
	}

	level := slog.LevelInfo
	if o.debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{
		AddSource: o.debug,
		Level:     level,
	}

	var h slog.Handler
	if o.format == "json" {
		h = slog.NewJSONHandler(w, handlerOpts)
	} else {
		h = slog.NewTextHandler(w, handlerOpts)
	}

	return &slogLogger{handler: h}
}

// callerSkip is the number of runtime.Callers frames between this function
// and the call site in user code: runtime.Callers itself, log(), and the
// public method (Info/Infof/...) or package-level function that calls it
// directly.
const callerSkip = 3

func (l *slogLogger) log(skip int, level slog.Level, msg string, args ...any) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(skip, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.handler.Handle(context.Background(), r)
}

func (l *slogLogger) Debug(msg string, args ...any) { l.log(callerSkip, slog.LevelDebug, msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.log(callerSkip, slog.LevelInfo, msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.log(callerSkip, slog.LevelWarn, msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.log(callerSkip, slog.LevelError, msg, args...) }

func (l *slogLogger) Debugf(format string, args ...any) {
	l.log(callerSkip, slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Infof(format string, args ...any) {
	l.log(callerSkip, slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Warnf(format string, args ...any) {
	l.log(callerSkip, slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Errorf(format string, args ...any) {
	l.log(callerSkip, slog.LevelError, fmt.Sprintf(format, args...))
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{handler: l.handler.WithAttrs(argsToAttrs(args))}
}

func (l *slogLogger) WithGroup(name string) Logger {
	return &slogLogger{handler: l.handler.WithGroup(name)}
}

func argsToAttrs(args []any) []slog.Attr {
	r := slog.NewRecord(time.Now(), slog.LevelInfo, "", 0)
	r.Add(args...)
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, a)
		return true
	})
	return attrs
}
