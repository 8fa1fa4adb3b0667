// Package logger provides the process-wide structured logger. It wraps
// log/slog behind a small interface so call sites stay terse and tests can
// capture output, and fans records out to stderr and an optional log file.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"time"

	slogmulti "github.com/samber/slog-multi"
)

// Logger is the logging interface used across the codebase.
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
}

// Default logs to stderr at info level in text format.
var Default = NewLogger()

type config struct {
	level   slog.Level
	format  string
	quiet   bool
	writer  io.Writer
	logFile *os.File
}

// Option configures NewLogger.
type Option func(*config)

// WithDebug enables debug-level logging with source locations.
func WithDebug() Option {
	return func(c *config) { c.level = slog.LevelDebug }
}

// WithLevel sets the level from its textual form; unknown values keep info.
func WithLevel(level string) Option {
	return func(c *config) {
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err == nil {
			c.level = l
		}
	}
}

// WithFormat selects "text" or "json" output.
func WithFormat(format string) Option {
	return func(c *config) { c.format = format }
}

// WithQuiet suppresses the stderr sink; records still reach the log file
// or the writer set with WithWriter.
func WithQuiet() Option {
	return func(c *config) { c.quiet = true }
}

// WithWriter replaces the default stderr sink.
func WithWriter(w io.Writer) Option {
	return func(c *config) { c.writer = w }
}

// WithLogFile adds a secondary sink receiving every record.
func WithLogFile(f *os.File) Option {
	return func(c *config) { c.logFile = f }
}

// NewLogger builds a Logger from the given options.
func NewLogger(opts ...Option) Logger {
	cfg := config{
		level:  slog.LevelInfo,
		format: "text",
		writer: os.Stderr,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     cfg.level,
		AddSource: cfg.level == slog.LevelDebug,
	}

	newHandler := func(w io.Writer) slog.Handler {
		if cfg.format == "json" {
			return slog.NewJSONHandler(w, handlerOpts)
		}
		return slog.NewTextHandler(w, handlerOpts)
	}

	var handlers []slog.Handler
	if !cfg.quiet {
		handlers = append(handlers, newHandler(cfg.writer))
	} else if cfg.writer != os.Stderr {
		handlers = append(handlers, newHandler(cfg.writer))
	}
	if cfg.logFile != nil {
		handlers = append(handlers, newHandler(cfg.logFile))
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, handlerOpts)
	case 1:
		handler = handlers[0]
	default:
		handler = slogmulti.Fanout(handlers...)
	}

	return &appLogger{handler: handler}
}

type appLogger struct {
	handler slog.Handler
}

// log emits a record carrying the caller's source location rather than this
// file's, so AddSource points at the call site.
func (l *appLogger) log(level slog.Level, msg string, args ...any) {
	if !l.handler.Enabled(context.Background(), level) {
		return
	}
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), level, msg, pcs[0])
	r.Add(args...)
	_ = l.handler.Handle(context.Background(), r)
}

func (l *appLogger) Debug(msg string, args ...any) { l.log(slog.LevelDebug, msg, args...) }
func (l *appLogger) Info(msg string, args ...any)  { l.log(slog.LevelInfo, msg, args...) }
func (l *appLogger) Warn(msg string, args ...any)  { l.log(slog.LevelWarn, msg, args...) }
func (l *appLogger) Error(msg string, args ...any) { l.log(slog.LevelError, msg, args...) }

func (l *appLogger) Debugf(format string, args ...any) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}

func (l *appLogger) Infof(format string, args ...any) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}

func (l *appLogger) Warnf(format string, args ...any) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}

func (l *appLogger) Errorf(format string, args ...any) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}

func (l *appLogger) With(args ...any) Logger {
	if len(args) == 0 {
		return l
	}
	var attrs []slog.Attr
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		attrs = append(attrs, slog.Any(key, args[i+1]))
	}
	return &appLogger{handler: l.handler.WithAttrs(attrs)}
}
