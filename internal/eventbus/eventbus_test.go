package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/domain"
)

func collect(t *testing.T, eb *EventBus, eventType domain.EventType) (func() []domain.Event, *sync.WaitGroup) {
	t.Helper()
	var mu sync.Mutex
	var got []domain.Event
	wg := &sync.WaitGroup{}
	eb.Subscribe(eventType, func(e domain.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
		wg.Done()
	})
	return func() []domain.Event {
		mu.Lock()
		defer mu.Unlock()
		out := make([]domain.Event, len(got))
		copy(out, got)
		return out
	}, wg
}

func waitTimeout(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}

func TestPublish_DeliversToMatchingSubscribers(t *testing.T) {
	eb := NewEventBus()
	defer eb.Shutdown()

	started, wgStarted := collect(t, eb, domain.TransportStarted)
	stopped, _ := collect(t, eb, domain.TransportStopped)

	wgStarted.Add(1)
	require.NoError(t, eb.Publish(domain.Event{EventType: domain.TransportStarted}))
	waitTimeout(t, wgStarted)

	got := started()
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())
	assert.Empty(t, stopped())
}

func TestPublish_PreservesOrderPerSubscriber(t *testing.T) {
	eb := NewEventBus()
	defer eb.Shutdown()

	events, wg := collect(t, eb, domain.EventTriggered)
	const n = 50
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, eb.Publish(domain.Event{EventType: domain.EventTriggered}))
	}
	waitTimeout(t, wg)

	got := events()
	require.Len(t, got, n)
	for i := 1; i < n; i++ {
		assert.Greater(t, got[i].ID, got[i-1].ID)
	}
}

func TestSubscribeMany_KeepsOrderAcrossTypes(t *testing.T) {
	eb := NewEventBus()
	defer eb.Shutdown()

	var mu sync.Mutex
	var got []domain.EventType
	wg := &sync.WaitGroup{}
	eb.SubscribeMany([]domain.EventType{domain.TransportStarted, domain.TransportStopping, domain.TransportStopped}, func(e domain.Event) {
		mu.Lock()
		got = append(got, e.EventType)
		mu.Unlock()
		wg.Done()
	})

	var want []domain.EventType
	for i := 0; i < 20; i++ {
		want = append(want, domain.TransportStarted, domain.TransportStopping, domain.TransportStopped)
	}
	wg.Add(len(want))
	for _, et := range want {
		require.NoError(t, eb.Publish(domain.Event{EventType: et}))
	}
	require.NoError(t, eb.Publish(domain.Event{EventType: domain.EventTriggered}))
	waitTimeout(t, wg)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, got)
}

func TestPublish_MultipleSubscribersSameType(t *testing.T) {
	eb := NewEventBus()
	defer eb.Shutdown()

	a, wgA := collect(t, eb, domain.SketchLoaded)
	b, wgB := collect(t, eb, domain.SketchLoaded)
	wgA.Add(1)
	wgB.Add(1)

	require.NoError(t, eb.Publish(domain.Event{EventType: domain.SketchLoaded, AggregateID: "main.js"}))
	waitTimeout(t, wgA)
	waitTimeout(t, wgB)

	assert.Equal(t, "main.js", a()[0].AggregateID)
	assert.Equal(t, "main.js", b()[0].AggregateID)
}

func TestPublish_DropsWhenSubscriberLags(t *testing.T) {
	eb := NewEventBus()
	defer eb.Shutdown()

	block := make(chan struct{})
	eb.Subscribe(domain.EventScheduled, func(domain.Event) { <-block })

	for i := 0; i < subscriberBuffer+20; i++ {
		require.NoError(t, eb.Publish(domain.Event{EventType: domain.EventScheduled}))
	}
	assert.Greater(t, eb.Dropped(), int64(0))
	close(block)
}

func TestShutdown_RejectsPublishAndIsIdempotent(t *testing.T) {
	eb := NewEventBus()
	eb.Subscribe(domain.TransportStarted, func(domain.Event) {})

	eb.Shutdown()
	eb.Shutdown()

	assert.ErrorIs(t, eb.Publish(domain.Event{EventType: domain.TransportStarted}), ErrBusClosed)
}
