package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mescon/Cadence/internal/runloop"
	"github.com/mescon/Cadence/internal/scheduler"
)

func TestHandleTransportStatus(t *testing.T) {
	s := newTestServer(t)
	due := 250.0
	s.transport.status = scheduler.Status{State: scheduler.Running, NowMs: 100, RtNowMs: 120, Pending: 3, NextDueMs: &due}

	w := s.do(http.MethodGet, "/api/transport", nil, "")

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "running", body["state"])
	assert.Equal(t, 100.0, body["now_ms"])
	assert.Equal(t, 120.0, body["rt_now_ms"])
	assert.Equal(t, 3.0, body["pending"])
	assert.Equal(t, 250.0, body["next_due_ms"])
}

func TestHandleTransportCommands(t *testing.T) {
	tests := []struct {
		path  string
		call  string
		state string
	}{
		{"/api/transport/start", "start", "running"},
		{"/api/transport/stop", "stop", "stopping"},
		{"/api/transport/clear", "clear", "ready"},
	}

	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			s := newTestServer(t)

			w := s.do(http.MethodPost, tt.path, nil, "")

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, []string{tt.call}, s.transport.Calls())
			assert.Equal(t, tt.state, decode(t, w)["state"])
		})
	}
}

func TestHandleTransportCommands_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid transition",
			err:        fmt.Errorf("%w: cannot start while stopping", scheduler.ErrInvalidTransition),
			wantStatus: http.StatusConflict,
			wantError:  "invalid transport transition: cannot start while stopping",
		},
		{
			name:       "loop busy",
			err:        fmt.Errorf("waiting for loop task: %w", context.DeadlineExceeded),
			wantStatus: http.StatusGatewayTimeout,
			wantError:  ErrMsgTimeout,
		},
		{
			name:       "loop closed",
			err:        runloop.ErrLoopClosed,
			wantStatus: http.StatusServiceUnavailable,
			wantError:  "Transport not available",
		},
		{
			name:       "unexpected",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  ErrMsgInternalError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.transport.startErr = tt.err

			w := s.do(http.MethodPost, "/api/transport/start", nil, "")

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantError, decode(t, w)["error"])
		})
	}
}

func TestHandleTransportStatus_Error(t *testing.T) {
	s := newTestServer(t)
	s.transport.statErr = runloop.ErrLoopClosed

	w := s.do(http.MethodGet, "/api/transport", nil, "")

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
