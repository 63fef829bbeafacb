// Package clock abstracts time so timer-driven components can be tested deterministically.
//
// Production code uses Real(); tests use Fake() and move time with Advance. AfterFunc
// callbacks registered on a FakeClock run synchronously inside Advance, in deadline order.
package clock

import "time"

// Clock is the subset of the time package used by the realtime components.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or inside Advance (fake) once d elapses.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc call.
type Timer interface {
	// Stop prevents the call. It returns false if the call already ran or was stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
