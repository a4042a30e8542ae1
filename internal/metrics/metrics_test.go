package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/eventbus"
)

// =============================================================================
// Test helpers
// =============================================================================

func newTestMetrics(t *testing.T) (*MetricsService, *eventbus.EventBus) {
	t.Helper()
	eb := eventbus.NewEventBus()
	t.Cleanup(eb.Shutdown)
	return NewMetricsService(eb), eb
}

// scrape returns the text exposition served by m.
func scrape(t *testing.T, m *MetricsService) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func hasSample(body, sample string) bool {
	for _, line := range strings.Split(body, "\n") {
		if line == sample {
			return true
		}
	}
	return false
}

func transportEvent(t domain.EventType, from, to string) domain.Event {
	return domain.NewTransportEvent(t, domain.TransportEventData{From: from, To: to})
}

func scheduleEvent(t domain.EventType, dueMs, rtMs float64, cancelable bool) domain.Event {
	return domain.NewScheduleEvent(t, "1", domain.ScheduleEventData{DueMs: dueMs, RtNowMs: rtMs, Cancelable: cancelable})
}

// =============================================================================
// Constructor tests
// =============================================================================

func TestNewMetricsService_PrivateRegistry(t *testing.T) {
	// Two services must coexist; the global registry would panic here.
	m1, _ := newTestMetrics(t)
	m2, _ := newTestMetrics(t)
	assert.NotSame(t, m1.Registry(), m2.Registry())
}

func TestNewMetricsService_InitialState(t *testing.T) {
	m, _ := newTestMetrics(t)
	body := scrape(t, m)

	assert.True(t, hasSample(body, `cadence_transport_state{state="ready"} 1`))
	assert.True(t, hasSample(body, `cadence_transport_state{state="running"} 0`))
	assert.True(t, hasSample(body, `cadence_pending_events 0`))
	assert.True(t, hasSample(body, `cadence_eventbus_dropped_total 0`))
	assert.Contains(t, body, "# HELP cadence_trigger_lateness_seconds")
}

// =============================================================================
// Event handler tests
// =============================================================================

func TestHandleTransition(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.handleTransition(transportEvent(domain.TransportStarted, "ready", "running"))
	m.handleTransition(transportEvent(domain.TransportStopping, "running", "stopping"))

	body := scrape(t, m)
	assert.True(t, hasSample(body, `cadence_transport_state{state="stopping"} 1`))
	assert.True(t, hasSample(body, `cadence_transport_state{state="running"} 0`))
	assert.True(t, hasSample(body, `cadence_transport_state{state="ready"} 0`))
	assert.True(t, hasSample(body, `cadence_transport_transitions_total{to="running"} 1`))
	assert.True(t, hasSample(body, `cadence_transport_transitions_total{to="stopping"} 1`))
}

func TestHandleTransition_IgnoresMalformed(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.handleTransition(domain.Event{EventType: domain.TransportStarted})

	body := scrape(t, m)
	assert.True(t, hasSample(body, `cadence_transport_state{state="ready"} 1`))
	assert.NotContains(t, body, "cadence_transport_transitions_total{")
}

func TestHandleScheduledAndTriggered(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.handleScheduled(scheduleEvent(domain.EventScheduled, 100, 0, true))
	m.handleScheduled(scheduleEvent(domain.EventScheduled, 100, 0, false))
	m.handleTriggered(scheduleEvent(domain.EventTriggered, 100, 102, false))
	m.handleTriggered(scheduleEvent(domain.EventTriggered, 100, 60, true))

	body := scrape(t, m)
	assert.True(t, hasSample(body, `cadence_events_scheduled_total{kind="cancelable"} 1`))
	assert.True(t, hasSample(body, `cadence_events_scheduled_total{kind="protected"} 1`))
	assert.True(t, hasSample(body, `cadence_events_triggered_total{kind="protected"} 1`))
	assert.True(t, hasSample(body, `cadence_events_triggered_total{kind="cancelable"} 1`))
	assert.True(t, hasSample(body, `cadence_trigger_lateness_seconds_count 2`))
	assert.True(t, hasSample(body, `cadence_trigger_lateness_seconds_sum 0.002`), "early fire counts as zero")
}

func TestHandleCounters(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.handleCanceled(scheduleEvent(domain.EventCanceled, 5, 0, true))
	m.handleRejected(scheduleEvent(domain.ScheduleRejected, 5, 0, true))
	m.handleRejected(scheduleEvent(domain.ScheduleRejected, 5, 0, false))
	m.handleActionFailed(scheduleEvent(domain.ActionFailed, 5, 6, true))
	m.handleSketchLoaded(domain.Event{EventType: domain.SketchLoaded})
	m.handleSketchFailed(domain.Event{EventType: domain.SketchFailed})
	m.handleSketchFailed(domain.Event{EventType: domain.SketchFailed})

	body := scrape(t, m)
	assert.True(t, hasSample(body, `cadence_events_canceled_total 1`))
	assert.True(t, hasSample(body, `cadence_schedules_rejected_total 2`))
	assert.True(t, hasSample(body, `cadence_action_failures_total 1`))
	assert.True(t, hasSample(body, `cadence_sketch_loads_total{outcome="loaded"} 1`))
	assert.True(t, hasSample(body, `cadence_sketch_loads_total{outcome="failed"} 2`))
}

// =============================================================================
// Live gauge tests
// =============================================================================

func TestStatusSource(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetStatusSource(func() (int, float64, bool) { return 7, 1.5, true })

	body := scrape(t, m)
	assert.True(t, hasSample(body, `cadence_pending_events 7`))
	assert.True(t, hasSample(body, `cadence_transport_rt_now_seconds 1.5`))
}

// =============================================================================
// Bus integration tests
// =============================================================================

func TestStart_ConsumesBusEvents(t *testing.T) {
	m, eb := newTestMetrics(t)
	m.Start()

	require.NoError(t, eb.Publish(transportEvent(domain.TransportStarted, "ready", "running")))
	require.NoError(t, eb.Publish(scheduleEvent(domain.EventScheduled, 0, 0, true)))
	require.NoError(t, eb.Publish(scheduleEvent(domain.EventTriggered, 0, 1, true)))

	assert.Eventually(t, func() bool {
		body := scrape(t, m)
		return hasSample(body, `cadence_transport_state{state="running"} 1`) &&
			hasSample(body, `cadence_events_scheduled_total{kind="cancelable"} 1`) &&
			hasSample(body, `cadence_events_triggered_total{kind="cancelable"} 1`)
	}, 2*time.Second, 10*time.Millisecond)
}
