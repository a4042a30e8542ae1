package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/eventbus"
	"github.com/mescon/Cadence/internal/logger"
)

var transportStates = []string{"ready", "running", "stopping", "stopped"}

// StatusFunc reports live transport figures at scrape time.
type StatusFunc func() (pending int, rtNowSeconds float64, ok bool)

// MetricsService exposes Prometheus metrics for Cadence
type MetricsService struct {
	eventBus *eventbus.EventBus
	registry *prometheus.Registry

	// Counters
	transitionsTotal *prometheus.CounterVec
	scheduledTotal   *prometheus.CounterVec
	triggeredTotal   *prometheus.CounterVec
	canceledTotal    prometheus.Counter
	rejectedTotal    prometheus.Counter
	actionFailures   prometheus.Counter
	sketchLoadsTotal *prometheus.CounterVec

	// Gauges
	transportState *prometheus.GaugeVec

	// Histograms
	triggerLateness prometheus.Histogram

	mu     sync.Mutex
	status StatusFunc
}

// NewMetricsService creates the metrics on a private registry.
func NewMetricsService(eb *eventbus.EventBus) *MetricsService {
	m := &MetricsService{
		eventBus: eb,
		registry: prometheus.NewRegistry(),

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_transport_transitions_total",
				Help: "Transport state transitions by target state",
			},
			[]string{"to"},
		),

		scheduledTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_events_scheduled_total",
				Help: "Actions accepted into the time queue",
			},
			[]string{"kind"}, // cancelable, protected
		),

		triggeredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_events_triggered_total",
				Help: "Actions fired by the polling engine",
			},
			[]string{"kind"},
		),

		canceledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cadence_events_canceled_total",
				Help: "Queued actions removed before firing",
			},
		),

		rejectedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cadence_schedules_rejected_total",
				Help: "Schedule calls refused because the transport was stopping or stopped",
			},
		),

		actionFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cadence_action_failures_total",
				Help: "Actions that panicked while firing",
			},
		),

		sketchLoadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadence_sketch_loads_total",
				Help: "Sketch evaluations by outcome",
			},
			[]string{"outcome"}, // loaded, failed
		),

		transportState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cadence_transport_state",
				Help: "1 for the current transport state, 0 otherwise",
			},
			[]string{"state"},
		),

		triggerLateness: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cadence_trigger_lateness_seconds",
				Help:    "Engine time past the due time when an action fired; early fires count as zero",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
		),
	}

	for _, s := range transportStates {
		m.transportState.WithLabelValues(s).Set(0)
	}
	m.transportState.WithLabelValues("ready").Set(1)

	m.registry.MustRegister(
		m.transitionsTotal,
		m.scheduledTotal,
		m.triggeredTotal,
		m.canceledTotal,
		m.rejectedTotal,
		m.actionFailures,
		m.sketchLoadsTotal,
		m.transportState,
		m.triggerLateness,
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "cadence_pending_events",
				Help: "Actions waiting in the time queue",
			},
			func() float64 {
				pending, _, _ := m.readStatus()
				return float64(pending)
			},
		),
		prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "cadence_transport_rt_now_seconds",
				Help: "Engine elapsed time",
			},
			func() float64 {
				_, rt, _ := m.readStatus()
				return rt
			},
		),
		prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Name: "cadence_eventbus_dropped_total",
				Help: "Bus deliveries dropped because a subscriber lagged",
			},
			func() float64 {
				if m.eventBus == nil {
					return 0
				}
				return float64(m.eventBus.Dropped())
			},
		),
	)

	return m
}

// SetStatusSource installs fn as the source for the live gauges.
func (m *MetricsService) SetStatusSource(fn StatusFunc) {
	m.mu.Lock()
	m.status = fn
	m.mu.Unlock()
}

func (m *MetricsService) readStatus() (int, float64, bool) {
	m.mu.Lock()
	fn := m.status
	m.mu.Unlock()
	if fn == nil {
		return 0, 0, false
	}
	return fn()
}

// Start subscribes to events and updates metrics
func (m *MetricsService) Start() {
	for _, t := range []domain.EventType{
		domain.TransportStarted,
		domain.TransportStopping,
		domain.TransportStopped,
		domain.EventsCleared,
	} {
		m.eventBus.Subscribe(t, m.handleTransition)
	}
	m.eventBus.Subscribe(domain.EventScheduled, m.handleScheduled)
	m.eventBus.Subscribe(domain.EventTriggered, m.handleTriggered)
	m.eventBus.Subscribe(domain.EventCanceled, m.handleCanceled)
	m.eventBus.Subscribe(domain.ScheduleRejected, m.handleRejected)
	m.eventBus.Subscribe(domain.ActionFailed, m.handleActionFailed)
	m.eventBus.Subscribe(domain.SketchLoaded, m.handleSketchLoaded)
	m.eventBus.Subscribe(domain.SketchFailed, m.handleSketchFailed)

	logger.Infof("Metrics service started")
}

// Handler returns the Prometheus HTTP handler for /metrics endpoint
func (m *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	return m.registry
}

// Event handlers

func kind(cancelable bool) string {
	if cancelable {
		return "cancelable"
	}
	return "protected"
}

func (m *MetricsService) handleTransition(event domain.Event) {
	data, ok := event.ParseTransportEventData()
	if !ok {
		return
	}
	m.transitionsTotal.WithLabelValues(data.To).Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range transportStates {
		v := 0.0
		if s == data.To {
			v = 1
		}
		m.transportState.WithLabelValues(s).Set(v)
	}
}

func (m *MetricsService) handleScheduled(event domain.Event) {
	data, ok := event.ParseScheduleEventData()
	if !ok {
		return
	}
	m.scheduledTotal.WithLabelValues(kind(data.Cancelable)).Inc()
}

func (m *MetricsService) handleTriggered(event domain.Event) {
	data, ok := event.ParseScheduleEventData()
	if !ok {
		return
	}
	m.triggeredTotal.WithLabelValues(kind(data.Cancelable)).Inc()

	late := (data.RtNowMs - data.DueMs) / 1000
	if late < 0 {
		late = 0
	}
	m.triggerLateness.Observe(late)
}

func (m *MetricsService) handleCanceled(event domain.Event) {
	m.canceledTotal.Inc()
}

func (m *MetricsService) handleRejected(event domain.Event) {
	m.rejectedTotal.Inc()
}

func (m *MetricsService) handleActionFailed(event domain.Event) {
	m.actionFailures.Inc()
}

func (m *MetricsService) handleSketchLoaded(event domain.Event) {
	m.sketchLoadsTotal.WithLabelValues("loaded").Inc()
}

func (m *MetricsService) handleSketchFailed(event domain.Event) {
	m.sketchLoadsTotal.WithLabelValues("failed").Inc()
}
