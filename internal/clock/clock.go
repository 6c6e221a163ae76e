// Package clock provides the monotonic time source and one-shot timer
// callbacks used by the scheduler and group tick drivers. Production code
// uses the real wall clock; tests substitute a Fake so tick timing is
// deterministic.
package clock

import "time"

// Timer is a handle to a scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing if it hasn't already.
	// It returns true if the stop succeeded before the callback ran.
	Stop() bool
}

// Clock abstracts time.Now and time.AfterFunc.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Real is the production Clock, backed by the runtime clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
