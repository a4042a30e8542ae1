// Package testutil provides test utilities including a steppable clock and
// call recorders.
package testutil

import (
	"sync"
	"time"

	"github.com/mescon/Cadence/internal/clock"
)

// =============================================================================
// MockClock - Testable time abstraction
// =============================================================================

// MockClock implements clock.Clock for testing, providing deterministic control
// over when polling ticks run. Callbacks run synchronously on the goroutine
// that advances the clock.
type MockClock struct {
	mu           sync.Mutex
	now          time.Time
	origin       time.Time
	pendingFuncs []*pendingFunc
}

type pendingFunc struct {
	executeAt time.Time
	fn        func()
	stopped   bool
}

// MockTimer implements clock.Timer for testing.
type MockTimer struct {
	clock *MockClock
	pf    *pendingFunc
}

// Compile-time assertion that MockClock implements clock.Clock
var _ clock.Clock = (*MockClock)(nil)

// NewMockClock creates a new MockClock with the current time as initial value.
func NewMockClock() *MockClock {
	return NewMockClockAt(time.Now())
}

// NewMockClockAt creates a new MockClock with a specific initial time.
func NewMockClockAt(t time.Time) *MockClock {
	return &MockClock{
		now:    t,
		origin: t,
	}
}

// Now returns the mock's current time.
func (m *MockClock) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Elapsed returns how far the clock has been advanced since creation.
// It has the shape of clock.TimeProvider.
func (m *MockClock) Elapsed() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now.Sub(m.origin)
}

// SetNow sets the mock's current time without triggering pending functions.
func (m *MockClock) SetNow(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}

// AfterFunc schedules f to be called after duration d.
func (m *MockClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d < 0 {
		d = 0
	}
	pf := &pendingFunc{executeAt: m.now.Add(d), fn: f}
	m.pendingFuncs = append(m.pendingFuncs, pf)
	return &MockTimer{clock: m, pf: pf}
}

// Advance moves time forward by d, stopping at every pending deadline on the
// way so that callbacks which schedule further callbacks (a polling loop)
// run as they would in real time. Returns the number of functions executed.
func (m *MockClock) Advance(d time.Duration) int {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	executed := 0
	for {
		m.mu.Lock()
		pf := m.earliestDueLocked(target)
		if pf == nil {
			m.now = target
			m.compactLocked()
			m.mu.Unlock()
			return executed
		}
		pf.stopped = true // Mark as executed
		if pf.executeAt.After(m.now) {
			m.now = pf.executeAt
		}
		m.mu.Unlock()

		// Execute outside the lock so callbacks can schedule again
		pf.fn()
		executed++
	}
}

// Flush runs callbacks that are due at the current time without moving the
// clock, including zero-delay callbacks they schedule.
func (m *MockClock) Flush() int {
	return m.Advance(0)
}

// earliestDueLocked returns the earliest live callback due at or before
// limit. Ties go to the callback registered first.
func (m *MockClock) earliestDueLocked(limit time.Time) *pendingFunc {
	var best *pendingFunc
	for _, pf := range m.pendingFuncs {
		if pf.stopped || pf.executeAt.After(limit) {
			continue
		}
		if best == nil || pf.executeAt.Before(best.executeAt) {
			best = pf
		}
	}
	return best
}

func (m *MockClock) compactLocked() {
	live := m.pendingFuncs[:0]
	for _, pf := range m.pendingFuncs {
		if !pf.stopped {
			live = append(live, pf)
		}
	}
	for i := len(live); i < len(m.pendingFuncs); i++ {
		m.pendingFuncs[i] = nil
	}
	m.pendingFuncs = live
}

// PendingCount returns the number of scheduled functions that haven't been
// executed or stopped.
func (m *MockClock) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, pf := range m.pendingFuncs {
		if !pf.stopped {
			count++
		}
	}
	return count
}

// Stop prevents the timer from firing. Returns true if the timer was stopped,
// false if it had already fired or been stopped.
func (t *MockTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.pf.stopped {
		return false
	}
	t.pf.stopped = true
	return true
}

// =============================================================================
// Recorder - ordered call capture
// =============================================================================

// Recorder collects labelled calls in the order they happen. Safe for use
// from callbacks running on other goroutines.
type Recorder struct {
	mu    sync.Mutex
	calls []string
}

// Record appends label to the call log.
func (r *Recorder) Record(label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, label)
}

// Func returns a callback that records label when invoked.
func (r *Recorder) Func(label string) func() {
	return func() { r.Record(label) }
}

// Calls returns a copy of the call log.
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times label was recorded.
func (r *Recorder) Count(label string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == label {
			n++
		}
	}
	return n
}
