package domain

import (
	"time"
)

type EventType string

const (
	// Transport lifecycle
	TransportStarted  EventType = "TransportStarted"
	TransportStopping EventType = "TransportStopping"
	TransportStopped  EventType = "TransportStopped"
	EventsCleared     EventType = "EventsCleared"

	// Scheduled actions
	EventScheduled   EventType = "EventScheduled"
	EventTriggered   EventType = "EventTriggered"
	EventCanceled    EventType = "EventCanceled"
	ScheduleRejected EventType = "ScheduleRejected" // schedule() while stopping/stopped
	ActionFailed     EventType = "ActionFailed"     // action panicked; recovered

	// Sketch runner
	SketchLoaded EventType = "SketchLoaded"
	SketchFailed EventType = "SketchFailed"
)

// Aggregate types
const (
	AggregateTransport = "transport"
	AggregateEvent     = "event"
	AggregateSketch    = "sketch"
)

type Event struct {
	ID            int64                  `json:"id"`
	AggregateType string                 `json:"aggregate_type"`
	AggregateID   string                 `json:"aggregate_id"`
	EventType     EventType              `json:"event_type"`
	EventData     map[string]interface{} `json:"event_data"`
	CreatedAt     time.Time              `json:"created_at"`
}

// =============================================================================
// Type-safe event data accessors
// =============================================================================

// GetString safely extracts a string field from EventData.
func (e *Event) GetString(key string) (string, bool) {
	if e.EventData == nil {
		return "", false
	}
	v, ok := e.EventData[key].(string)
	return v, ok
}

// GetStringOr extracts a string field or returns the default value.
func (e *Event) GetStringOr(key, defaultVal string) string {
	if v, ok := e.GetString(key); ok {
		return v
	}
	return defaultVal
}

// GetFloat64 safely extracts a float64 field from EventData.
// Handles the integer types as well, since events built in-process carry
// them unconverted while decoded JSON carries float64.
func (e *Event) GetFloat64(key string) (float64, bool) {
	if e.EventData == nil {
		return 0, false
	}
	switch v := e.EventData[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	case uint64:
		return float64(v), true
	default:
		return 0, false
	}
}

// GetBool safely extracts a bool field from EventData.
func (e *Event) GetBool(key string) (bool, bool) {
	if e.EventData == nil {
		return false, false
	}
	v, ok := e.EventData[key].(bool)
	return v, ok
}

// GetBoolOr extracts a bool field or returns the default value.
func (e *Event) GetBoolOr(key string, defaultVal bool) bool {
	if v, ok := e.GetBool(key); ok {
		return v
	}
	return defaultVal
}

// =============================================================================
// Typed event data
// =============================================================================

// Milliseconds converts a scheduler time to the float milliseconds carried in
// event data and shown to sketches.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// TransportEventData describes a transport state change.
type TransportEventData struct {
	From    string  `json:"from"`
	To      string  `json:"to"`
	RtNowMs float64 `json:"rt_now_ms"`
	Pending int     `json:"pending"`
}

// NewTransportEvent builds a transport lifecycle event.
func NewTransportEvent(t EventType, data TransportEventData) Event {
	return Event{
		AggregateType: AggregateTransport,
		EventType:     t,
		EventData: map[string]interface{}{
			"from":      data.From,
			"to":        data.To,
			"rt_now_ms": data.RtNowMs,
			"pending":   data.Pending,
		},
	}
}

// ParseTransportEventData extracts typed transport data from an event.
func (e *Event) ParseTransportEventData() (TransportEventData, bool) {
	to, ok := e.GetString("to")
	if !ok {
		return TransportEventData{}, false
	}
	rt, _ := e.GetFloat64("rt_now_ms")
	pending, _ := e.GetFloat64("pending")
	return TransportEventData{
		From:    e.GetStringOr("from", ""),
		To:      to,
		RtNowMs: rt,
		Pending: int(pending),
	}, true
}

// ScheduleEventData describes a single scheduled action.
type ScheduleEventData struct {
	DueMs      float64 `json:"due_ms"`
	RtNowMs    float64 `json:"rt_now_ms"`
	Cancelable bool    `json:"cancelable"`
	Error      string  `json:"error,omitempty"`
}

// NewScheduleEvent builds an event about the scheduled action identified by ref.
func NewScheduleEvent(t EventType, ref string, data ScheduleEventData) Event {
	payload := map[string]interface{}{
		"due_ms":     data.DueMs,
		"rt_now_ms":  data.RtNowMs,
		"cancelable": data.Cancelable,
	}
	if data.Error != "" {
		payload["error"] = data.Error
	}
	return Event{
		AggregateType: AggregateEvent,
		AggregateID:   ref,
		EventType:     t,
		EventData:     payload,
	}
}

// ParseScheduleEventData extracts typed schedule data from an event.
func (e *Event) ParseScheduleEventData() (ScheduleEventData, bool) {
	due, ok := e.GetFloat64("due_ms")
	if !ok {
		return ScheduleEventData{}, false
	}
	rt, _ := e.GetFloat64("rt_now_ms")
	return ScheduleEventData{
		DueMs:      due,
		RtNowMs:    rt,
		Cancelable: e.GetBoolOr("cancelable", true),
		Error:      e.GetStringOr("error", ""),
	}, true
}

// SketchEventData describes a sketch load attempt.
type SketchEventData struct {
	Path  string `json:"path"`
	Error string `json:"error,omitempty"`
}

// NewSketchEvent builds a SketchLoaded or SketchFailed event.
func NewSketchEvent(t EventType, data SketchEventData) Event {
	payload := map[string]interface{}{
		"path": data.Path,
	}
	if data.Error != "" {
		payload["error"] = data.Error
	}
	return Event{
		AggregateType: AggregateSketch,
		AggregateID:   data.Path,
		EventType:     t,
		EventData:     payload,
	}
}

// ParseSketchEventData extracts typed sketch data from an event.
func (e *Event) ParseSketchEventData() (SketchEventData, bool) {
	path, ok := e.GetString("path")
	if !ok {
		return SketchEventData{}, false
	}
	return SketchEventData{
		Path:  path,
		Error: e.GetStringOr("error", ""),
	}, true
}
