// Package runloop serializes work onto a single goroutine.
//
// The scheduler core is deliberately lock-free and single-threaded. Every
// caller outside the loop (HTTP handlers, the timecode ticker, the sketch
// watcher) reaches it through Do or Post, and poll timers reach it through
// the Clock wrapper, so actions never run concurrently with each other or
// with control operations.
package runloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mescon/Cadence/internal/clock"
	"github.com/mescon/Cadence/internal/logger"
)

// ErrLoopClosed is returned when work is submitted after the loop has exited.
var ErrLoopClosed = errors.New("runloop: loop is closed")

// ErrLoopAlreadyRunning is returned when Run is called twice.
var ErrLoopAlreadyRunning = errors.New("runloop: loop is already running")

// Loop executes posted functions one at a time, in FIFO order.
type Loop struct {
	tasks chan func()
	done  chan struct{}

	mu      sync.Mutex
	running bool
	closed  bool

	log logger.Component
}

// New creates a Loop whose ingress holds up to backlog pending tasks before
// Post and Do start blocking.
func New(backlog int) *Loop {
	if backlog < 1 {
		backlog = 1
	}
	return &Loop{
		tasks: make(chan func(), backlog),
		done:  make(chan struct{}),
		log:   logger.For("runloop"),
	}
}

// Run executes tasks until ctx is canceled. Tasks still queued at that point
// are discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return ErrLoopAlreadyRunning
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.running = false
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.tasks:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("task panicked: %v", r)
		}
	}()
	fn()
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn without waiting for it to run.
func (l *Loop) Post(fn func()) error {
	select {
	case <-l.done:
		return ErrLoopClosed
	default:
	}
	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrLoopClosed
	}
}

// Do runs fn on the loop and waits for it to finish. It must not be called
// from inside the loop.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	task := func() {
		defer close(finished)
		fn()
	}
	select {
	case l.tasks <- task:
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopClosed
	case <-ctx.Done():
		return fmt.Errorf("waiting for loop task: %w", ctx.Err())
	}
}

// Call runs fn on the loop and returns its error, or the loop's own error if
// fn never ran.
func Call(ctx context.Context, l *Loop, fn func() error) error {
	var err error
	if doErr := l.Do(ctx, func() { err = fn() }); doErr != nil {
		return doErr
	}
	return err
}

// Clock wraps c so that AfterFunc callbacks are posted to the loop instead of
// running on the timer goroutine.
func (l *Loop) Clock(c clock.Clock) clock.Clock {
	return &loopClock{loop: l, inner: c}
}

type loopClock struct {
	loop  *Loop
	inner clock.Clock
}

func (c *loopClock) Now() time.Time {
	return c.inner.Now()
}

func (c *loopClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	return c.inner.AfterFunc(d, func() {
		if err := c.loop.Post(f); err != nil {
			c.loop.log.Debugf("dropping timer callback: %v", err)
		}
	})
}
