// Package eventbus fans scheduler and sketch events out to in-process
// subscribers (metrics, the WebSocket hub). Nothing is persisted.
package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/logger"
)

// ErrBusClosed is returned by Publish after Shutdown.
var ErrBusClosed = errors.New("eventbus: shut down")

// Publisher defines the interface for publishing events.
// This interface enables testing with mock implementations.
type Publisher interface {
	Publish(event domain.Event) error
	Subscribe(eventType domain.EventType, handler func(domain.Event))
}

// Ensure EventBus implements Publisher
var _ Publisher = (*EventBus)(nil)

// subscriberBuffer is how many events a slow subscriber may lag behind
// before further events to it are dropped.
const subscriberBuffer = 256

type EventBus struct {
	subscribers map[domain.EventType][]chan domain.Event
	mu          sync.RWMutex
	stopChan    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[domain.EventType][]chan domain.Event),
		stopChan:    make(chan struct{}),
	}
}

// Publish stamps the event and hands it to every subscriber of its type.
// It never blocks: a subscriber whose buffer is full misses the event.
func (eb *EventBus) Publish(event domain.Event) error {
	select {
	case <-eb.stopChan:
		return ErrBusClosed
	default:
	}

	event.ID = eb.nextID.Add(1)
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[event.EventType] {
		select {
		case ch <- event:
		default:
			if eb.dropped.Add(1)%100 == 1 {
				logger.Warnf("EventBus: subscriber backlog full, dropping %s events", event.EventType)
			}
		}
	}
	return nil
}

// Subscribe runs handler for every published event of eventType, in
// publish order, on a dedicated goroutine.
func (eb *EventBus) Subscribe(eventType domain.EventType, handler func(domain.Event)) {
	eb.SubscribeMany([]domain.EventType{eventType}, handler)
}

// SubscribeMany runs handler for events of any of eventTypes on a single
// goroutine, so events of different types are handled in publish order.
func (eb *EventBus) SubscribeMany(eventTypes []domain.EventType, handler func(domain.Event)) {
	ch := make(chan domain.Event, subscriberBuffer)

	eb.mu.Lock()
	for _, t := range eventTypes {
		eb.subscribers[t] = append(eb.subscribers[t], ch)
	}
	eb.mu.Unlock()

	eb.wg.Add(1)
	go func() {
		defer eb.wg.Done()
		for {
			select {
			case event := <-ch:
				handler(event)
			case <-eb.stopChan:
				return // Shutdown signal received
			}
		}
	}()
}

// Dropped returns how many deliveries were skipped because a subscriber lagged.
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Shutdown stops all subscriber goroutines and waits for them to finish.
// Safe to call more than once.
func (eb *EventBus) Shutdown() {
	eb.stopOnce.Do(func() {
		close(eb.stopChan)
	})
	eb.wg.Wait()
	logger.Debugf("EventBus shutdown complete")
}
