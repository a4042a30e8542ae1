package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/eventbus"
)

func TestJournal_PersistsLifecycleEvents(t *testing.T) {
	repo := setupTestDB(t)
	eb := eventbus.NewEventBus()
	defer eb.Shutdown()

	NewJournal(repo, eb).Start()

	require.NoError(t, eb.Publish(domain.NewTransportEvent(domain.TransportStarted, domain.TransportEventData{To: "running"})))
	require.NoError(t, eb.Publish(domain.NewScheduleEvent(domain.EventTriggered, "7", domain.ScheduleEventData{})))
	require.NoError(t, eb.Publish(domain.NewSketchEvent(domain.SketchLoaded, domain.SketchEventData{Path: "beat.js"})))

	assert.Eventually(t, func() bool {
		_, total, err := repo.RecentEvents(context.Background(), 10, 0)
		return err == nil && total == 2
	}, 2*time.Second, 10*time.Millisecond)

	events, _, err := repo.RecentEvents(context.Background(), 10, 0)
	require.NoError(t, err)
	types := []domain.EventType{events[0].EventType, events[1].EventType}
	assert.ElementsMatch(t, []domain.EventType{domain.TransportStarted, domain.SketchLoaded}, types)
}

func TestJournal_KeepsTransitionOrder(t *testing.T) {
	repo := setupTestDB(t)
	eb := eventbus.NewEventBus()
	defer eb.Shutdown()

	NewJournal(repo, eb).Start()

	var want []domain.EventType
	for i := 0; i < 10; i++ {
		want = append(want, domain.TransportStarted, domain.TransportStopping, domain.TransportStopped, domain.EventsCleared)
	}
	for _, et := range want {
		require.NoError(t, eb.Publish(domain.NewTransportEvent(et, domain.TransportEventData{})))
	}

	assert.Eventually(t, func() bool {
		_, total, err := repo.RecentEvents(context.Background(), 100, 0)
		return err == nil && total == len(want)
	}, 5*time.Second, 10*time.Millisecond)

	events, _, err := repo.RecentEvents(context.Background(), 100, 0)
	require.NoError(t, err)
	got := make([]domain.EventType, len(events))
	for i, e := range events {
		got[len(events)-1-i] = e.EventType // newest first
	}
	assert.Equal(t, want, got)
}
