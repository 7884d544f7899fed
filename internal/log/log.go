// Package log wraps log/slog with nil-safe helpers and call-site
// attribution for wrapped logging methods.
package log

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/latticeforge/edgerpc/internal/wallclock"
)

type (
	// Logger wraps an *slog.Logger that may be nil, in which case all
	// logging calls are no-ops.
	Logger struct{ wrapped *slog.Logger }

	// Attrs is implemented by errors that want to contribute structured
	// fields to a log record beyond their Error() string.
	Attrs interface {
		Attrs() []slog.Attr
	}
)

// Wrap constructs a Logger around an *slog.Logger, which may be nil.
func Wrap(logger *slog.Logger) Logger {
	return Logger{logger}
}

// Enabled reports whether the wrapped logger would emit at the given level.
func (l Logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.wrapped != nil && l.wrapped.Enabled(ctx, level)
}

// log builds a slog.Record by hand so that the reported source line is the
// caller of Debug/Info/Warn/Error, not this method.
// See: https://pkg.go.dev/log/slog#hdr-Wrapping_output_methods
func (l Logger) log(
	ctx context.Context,
	level slog.Level,
	msg string,
	attrs []slog.Attr,
) {
	if !l.Enabled(ctx, level) {
		return
	}

	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(wallclock.Instance.Now(), level, msg, pcs[0])
	r.AddAttrs(attrs...)
	_ = l.wrapped.Handler().Handle(ctx, r)
}

// Debug logs at debug level.
func (l Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, msg, attrs)
}

// Info logs at info level.
func (l Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, msg, attrs)
}

// Warn logs at warn level.
func (l Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, msg, attrs)
}

// Err logs an error at error level, pulling in any extra structured
// attributes the error exposes via the Attrs interface.
func (l Logger) Err(ctx context.Context, err error, attrs ...slog.Attr) {
	if err == nil {
		return
	}
	if a, ok := err.(Attrs); ok {
		attrs = append(a.Attrs(), attrs...)
	}
	l.log(ctx, slog.LevelError, err.Error(), attrs)
}
