package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mescon/Cadence/internal/config"
	"github.com/mescon/Cadence/internal/runloop"
	"github.com/mescon/Cadence/internal/scheduler"
)

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		uptime time.Duration
		want   string
	}{
		{30 * time.Second, "0m"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{49*time.Hour + 3*time.Minute, "2d 1h 3m"},
	}

	for _, tt := range tests {
		if got := formatUptime(tt.uptime); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.uptime, got, tt.want)
		}
	}
}

func TestHandleHealth_Healthy(t *testing.T) {
	s := newTestServer(t)
	s.transport.status = scheduler.Status{State: scheduler.Running, Pending: 2, RtNowMs: 1500}

	w := s.do(http.MethodGet, "/api/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, config.Version, body["version"])
	assert.Equal(t, "0m", body["uptime"])
	assert.Equal(t, 0.0, body["websocket_clients"])
	assert.NotContains(t, body, "sketch")

	transport := body["transport"].(map[string]interface{})
	assert.Equal(t, "running", transport["state"])
	assert.Equal(t, 2.0, transport["pending"])
	assert.Equal(t, 1500.0, transport["rt_now_ms"])
}

func TestHandleHealth_DegradedWhenLoopUnavailable(t *testing.T) {
	s := newTestServer(t)
	s.transport.statErr = runloop.ErrLoopClosed

	w := s.do(http.MethodGet, "/api/health", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	transport := body["transport"].(map[string]interface{})
	assert.Equal(t, runloop.ErrLoopClosed.Error(), transport["error"])
}

func TestHandleHealth_IncludesSketch(t *testing.T) {
	s := newTestServer(t)
	w := s.postJSON("/api/sketch", loadSketchRequest{Name: "set.js", Source: "wait(1)"})
	assert.Equal(t, http.StatusOK, w.Code)

	body := decode(t, s.do(http.MethodGet, "/api/health", nil, ""))

	sk, ok := body["sketch"].(map[string]interface{})
	if assert.True(t, ok) {
		assert.Equal(t, "set.js", sk["path"])
	}
}
