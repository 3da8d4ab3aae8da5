// Package logger is a small facade over log/slog used by the HTTP layer.
// It exposes typed field constructors so call sites stay terse and the
// output format is decided in one place.
package logger

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Field is one structured logging attribute.
type Field = slog.Attr

// Field constructors.
func String(key, value string) Field          { return slog.String(key, value) }
func Int(key string, value int) Field         { return slog.Int(key, value) }
func Int64(key string, value int64) Field     { return slog.Int64(key, value) }
func Float64(key string, value float64) Field { return slog.Float64(key, value) }
func Bool(key string, value bool) Field       { return slog.Bool(key, value) }
func Duration(key string, value time.Duration) Field {
	return slog.String(key, value.String())
}
func Any(key string, value any) Field { return slog.Any(key, value) }

// Err records err under the "error" key; nil stays nil in the output.
func Err(err error) Field {
	if err == nil {
		return slog.Any("error", nil)
	}
	return slog.String("error", err.Error())
}

// Logger emits structured log records through a slog handler.
type Logger struct {
	s *slog.Logger
}

// New wraps an existing slog.Logger. Passing nil uses slog's default.
func New(s *slog.Logger) *Logger {
	if s == nil {
		s = slog.Default()
	}
	return &Logger{s: s}
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns a process-wide JSON logger writing to stdout at info level.
func Default() *Logger {
	defaultOnce.Do(func() {
		handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
		defaultLog = &Logger{s: slog.New(handler)}
	})
	return defaultLog
}

// With returns a logger that includes fields on every record.
func (l *Logger) With(fields ...Field) *Logger {
	args := make([]any, len(fields))
	for i, f := range fields {
		args[i] = f
	}
	return &Logger{s: l.s.With(args...)}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.log(slog.LevelInfo, msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.log(slog.LevelWarn, msg, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

func (l *Logger) log(level slog.Level, msg string, fields []Field) {
	l.s.LogAttrs(context.Background(), level, msg, fields...)
}
