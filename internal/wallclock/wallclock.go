// Package wallclock indirects time and context deadlines behind an
// interface so tests can control apparent time instead of sleeping.
package wallclock

import (
	"context"
	"time"
)

type (
	// Clock abstracts the subset of package time and context used by the
	// rest of the module.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
		NewTimer(d time.Duration) Timer
		WithTimeoutCause(
			parent context.Context,
			timeout time.Duration,
			cause error,
		) (context.Context, context.CancelFunc)
	}

	// Timer abstracts time.Timer.
	Timer interface {
		C() <-chan time.Time
		Reset(d time.Duration) bool
		Stop() bool
	}

	realClock struct{}

	realTimer struct{ *time.Timer }
)

func (realClock) Now() time.Time { return time.Now() }

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

func (realClock) WithTimeoutCause(
	parent context.Context,
	timeout time.Duration,
	cause error,
) (context.Context, context.CancelFunc) {
	return context.WithTimeoutCause(parent, timeout, cause)
}

func (t realTimer) C() <-chan time.Time { return t.Timer.C }

// Instance is the process-wide Clock. Test code may replace it with a
// fake to advance time deterministically.
var Instance Clock = realClock{}
