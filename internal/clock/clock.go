// Package clock abstracts the time source and the delayed-callback primitive
// the scheduler polls with. Production code uses RealClock; tests inject
// testutil.MockClock to step time by hand.
package clock

import "time"

// Clock provides the current time and a way to run a function later.
type Clock interface {
	// AfterFunc waits for the duration to elapse and then calls f.
	// Returns a Timer that can be used to cancel the call.
	AfterFunc(d time.Duration, f func()) Timer
	// Now returns the current time.
	Now() time.Time
}

// Timer represents a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the Timer from firing. Returns true if the call was stopped,
	// false if the timer has already expired or been stopped.
	Stop() bool
}

// TimeProvider reports a monotonic, non-decreasing time offset. The engine
// only ever subtracts two readings, so the origin is arbitrary.
type TimeProvider func() time.Duration

// Elapsed returns a TimeProvider measuring time since the call to Elapsed,
// read from c.
func Elapsed(c Clock) TimeProvider {
	origin := c.Now()
	return func() time.Duration {
		return c.Now().Sub(origin)
	}
}

// RealClock implements Clock using the standard time package.
type RealClock struct{}

// NewRealClock creates a new RealClock.
func NewRealClock() *RealClock {
	return &RealClock{}
}

// AfterFunc calls f in its own goroutine once d has elapsed.
func (c *RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{timer: time.AfterFunc(d, f)}
}

// Now implements Clock.Now using time.Now.
func (c *RealClock) Now() time.Time {
	return time.Now()
}

type realTimer struct {
	timer *time.Timer
}

func (t *realTimer) Stop() bool {
	return t.timer.Stop()
}
