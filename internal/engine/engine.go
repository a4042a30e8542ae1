// Package engine implements the polling loop that drains a time queue.
//
// On every tick the engine reads its time provider, pulls every queued event
// due before elapsed+lookAhead and triggers it with its recorded due time,
// then arms the next tick through a clock.Clock. The engine is
// single-threaded: the owner must serialize calls with tick execution (see
// runloop.Clock for production and testutil.MockClock for tests).
package engine

import (
	"time"

	"github.com/mescon/Cadence/internal/clock"
	"github.com/mescon/Cadence/internal/logger"
	"github.com/mescon/Cadence/internal/timequeue"
)

// MinInterval is the smallest poll interval the engine accepts.
const MinInterval = time.Millisecond

// Ref identifies a scheduled event for cancellation.
type Ref = timequeue.Ref

// Event is anything the engine can fire. Trigger receives the due time the
// event was scheduled for, which may be ahead of the engine's elapsed time
// when a look-ahead window is in use.
type Event interface {
	Trigger(due time.Duration)
}

// EventFunc adapts a plain function to Event.
type EventFunc func(due time.Duration)

// Trigger calls f(due).
func (f EventFunc) Trigger(due time.Duration) { f(due) }

// Options configures an Engine.
type Options struct {
	// Interval is the poll period. Values below MinInterval are clamped.
	Interval time.Duration
	// LookAhead widens each drain to events due before elapsed+LookAhead.
	// Negative values are clamped to zero.
	LookAhead time.Duration
	// Clock arms the poll timer. Defaults to a RealClock.
	Clock clock.Clock
	// TimeProvider reads the current time. Defaults to clock.Elapsed(Clock).
	// It must be non-decreasing.
	TimeProvider clock.TimeProvider
}

// Engine owns a time queue and polls it.
type Engine struct {
	queue        *timequeue.Queue[Event]
	clk          clock.Clock
	timeProvider clock.TimeProvider
	// runProvider is the provider the current run reads; Start copies it
	runProvider clock.TimeProvider
	interval     time.Duration
	lookAhead    time.Duration

	started   bool
	running   bool
	keepAlive bool
	onEnded   func()

	startTime time.Duration
	position  time.Duration
	timer     clock.Timer
	// generation invalidates ticks armed by an earlier run
	generation uint64

	log logger.Component
}

// New creates a stopped Engine.
func New(opts Options) *Engine {
	c := opts.Clock
	if c == nil {
		c = clock.NewRealClock()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = clock.Elapsed(c)
	}
	return &Engine{
		queue:        timequeue.New[Event](),
		clk:          c,
		timeProvider: tp,
		runProvider:  tp,
		interval:     clampInterval(opts.Interval),
		lookAhead:    clampLookAhead(opts.LookAhead),
		log:          logger.For("engine"),
	}
}

func clampInterval(d time.Duration) time.Duration {
	if d < MinInterval {
		return MinInterval
	}
	return d
}

func clampLookAhead(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// Interval returns the poll period.
func (e *Engine) Interval() time.Duration { return e.interval }

// LookAhead returns the look-ahead window.
func (e *Engine) LookAhead() time.Duration { return e.lookAhead }

// Running reports whether the poll loop is active.
func (e *Engine) Running() bool { return e.running }

// SetKeepAlive controls whether the loop keeps polling with an empty queue.
func (e *Engine) SetKeepAlive(keep bool) { e.keepAlive = keep }

// KeepAlive reports the keep-alive flag.
func (e *Engine) KeepAlive() bool { return e.keepAlive }

// SetOnEnded registers the callback invoked when the loop drains to empty
// without keep-alive. It is not called by Stop.
func (e *Engine) SetOnEnded(fn func()) { e.onEnded = fn }

// SetTimeProvider replaces the time source. Takes effect on the next Start;
// a run in progress keeps reading the provider it started with.
func (e *Engine) SetTimeProvider(tp clock.TimeProvider) {
	if tp == nil {
		tp = clock.Elapsed(e.clk)
	}
	e.timeProvider = tp
}

// Start begins polling with the elapsed clock set to position. A running
// engine is stopped first. The first tick is armed with zero delay rather
// than run inline, so the caller regains control before any event fires.
func (e *Engine) Start(position time.Duration) {
	if e.running {
		e.Stop()
	}
	e.runProvider = e.timeProvider
	e.startTime = e.runProvider()
	e.position = position
	e.started = true
	e.running = true
	e.generation++
	e.arm(0)
}

// Stop cancels the pending poll. Safe to call when not running.
func (e *Engine) Stop() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.running = false
}

// Now returns elapsed engine time: the start position plus time read from
// the provider since Start. Zero before the first Start.
func (e *Engine) Now() time.Duration {
	if !e.started {
		return 0
	}
	return e.position + e.runProvider() - e.startTime
}

// Schedule queues event at absolute engine time at. Events may be queued
// while stopped; they fire once the engine is started.
func (e *Engine) Schedule(at time.Duration, event Event) Ref {
	return e.queue.Add(at, event)
}

// Cancel removes a queued event. Unknown or already-fired refs are ignored.
func (e *Engine) Cancel(ref Ref) bool {
	return e.queue.Remove(ref)
}

// Clear drops every queued event.
func (e *Engine) Clear() {
	e.queue.Clear()
}

// Pending returns the number of queued events.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// NextDue returns the due time of the earliest queued event.
func (e *Engine) NextDue() (time.Duration, bool) {
	entry, ok := e.queue.Peek()
	return entry.Time, ok
}

// Each visits queued events in due order until fn returns false.
// fn must not schedule or cancel.
func (e *Engine) Each(fn func(ref Ref, due time.Duration, event Event) bool) {
	e.queue.Each(func(entry timequeue.Entry[Event]) bool {
		return fn(entry.Ref, entry.Time, entry.Payload)
	})
}

func (e *Engine) arm(delay time.Duration) {
	gen := e.generation
	e.timer = e.clk.AfterFunc(delay, func() { e.tick(gen) })
}

func (e *Engine) tick(gen uint64) {
	if !e.running || gen != e.generation {
		return
	}
	e.timer = nil

	tickStart := e.runProvider()
	threshold := e.position + tickStart - e.startTime + e.lookAhead

	fired := 0
	for {
		entry, ok := e.queue.Next(threshold)
		if !ok {
			break
		}
		entry.Payload.Trigger(entry.Time)
		fired++
		// An action may have stopped or restarted the engine.
		if !e.running || gen != e.generation {
			return
		}
	}

	if e.queue.Len() > 0 || e.keepAlive {
		spent := e.runProvider() - tickStart
		delay := e.interval - spent
		if delay < 0 {
			delay = 0
		}
		if fired > 0 {
			e.log.Debugf("fired %d event(s) below %s, next poll in %s", fired, threshold, delay)
		}
		e.arm(delay)
		return
	}

	e.running = false
	if e.onEnded != nil {
		e.onEnded()
	}
}
