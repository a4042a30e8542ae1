package runloop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/clock"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(16)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = l.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestLoop_DoRunsInOrder(t *testing.T) {
	l, _ := startLoop(t)

	var got []int
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Do(context.Background(), func() { got = append(got, i) }))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestLoop_PostedTasksNeverOverlap(t *testing.T) {
	l, _ := startLoop(t)

	var active, maxActive int32
	var wg sync.WaitGroup
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			assert.NoError(t, l.Post(func() {
				defer wg.Done()
				cur := atomic.AddInt32(&active, 1)
				if cur > atomic.LoadInt32(&maxActive) {
					atomic.StoreInt32(&maxActive, cur)
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&active, -1)
			}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxActive))
}

func TestLoop_PanicDoesNotKillLoop(t *testing.T) {
	l, _ := startLoop(t)

	require.NoError(t, l.Do(context.Background(), func() { panic("boom") }))

	ran := false
	require.NoError(t, l.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_ClosedAfterCancel(t *testing.T) {
	l := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()

	require.NoError(t, l.Do(context.Background(), func() {}))
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	assert.ErrorIs(t, l.Post(func() {}), ErrLoopClosed)
	assert.ErrorIs(t, l.Do(context.Background(), func() {}), ErrLoopClosed)
	assert.ErrorIs(t, l.Run(context.Background()), ErrLoopAlreadyRunning)
}

func TestCall_ReturnsTaskError(t *testing.T) {
	l, _ := startLoop(t)
	sentinel := errors.New("nope")

	err := Call(context.Background(), l, func() error { return sentinel })
	assert.ErrorIs(t, err, sentinel)
	assert.NoError(t, Call(context.Background(), l, func() error { return nil }))
}

func TestLoop_ClockDeliversCallbacksOnLoop(t *testing.T) {
	l, _ := startLoop(t)
	c := l.Clock(clock.NewRealClock())

	// A task occupies the loop; the timer callback must wait behind it.
	release := make(chan struct{})
	require.NoError(t, l.Post(func() { <-release }))

	fired := make(chan struct{})
	c.AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
		t.Fatal("callback ran while the loop was busy")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never ran")
	}
}

func TestLoop_ClockStopPreventsCallback(t *testing.T) {
	l, _ := startLoop(t)
	c := l.Clock(clock.NewRealClock())

	var fired atomic.Bool
	timer := c.AfterFunc(20*time.Millisecond, func() { fired.Store(true) })
	assert.True(t, timer.Stop())

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, fired.Load())
}
