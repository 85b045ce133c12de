// Package clock provides the timer service the simulation runs on.
//
// Every callback scheduled through a Scheduler runs on a single execution
// context, so code driven by it never needs its own locking.
package clock

import "time"

// Timer is a pending one-shot callback.
type Timer interface {
	// Stop prevents the callback from running. It returns false if the
	// callback already ran or was already stopped.
	Stop() bool
}

// Scheduler schedules one-shot callbacks.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}
