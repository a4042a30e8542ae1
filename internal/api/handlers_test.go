package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/config"
	"github.com/mescon/Cadence/internal/scheduler"
	"github.com/mescon/Cadence/internal/sketch"
)

// fakeTransport records commands and serves a canned Status.
type fakeTransport struct {
	mu       sync.Mutex
	status   scheduler.Status
	statErr  error
	startErr error
	stopErr  error
	clearErr error
	calls    []string
}

func (f *fakeTransport) record(op string, err error, to scheduler.State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op)
	if err == nil && to != "" {
		f.status.State = to
	}
	return err
}

func (f *fakeTransport) Status(ctx context.Context) (scheduler.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statErr
}

func (f *fakeTransport) Start(ctx context.Context) error {
	return f.record("start", f.startErr, scheduler.Running)
}

func (f *fakeTransport) Stop(ctx context.Context) error {
	return f.record("stop", f.stopErr, scheduler.Stopping)
}

func (f *fakeTransport) Clear(ctx context.Context) error {
	return f.record("clear", f.clearErr, scheduler.Ready)
}

func (f *fakeTransport) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSketches stores the last loaded source.
type fakeSketches struct {
	mu      sync.Mutex
	err     error
	name    string
	source  string
	current *sketch.Loaded
}

func (f *fakeSketches) Load(ctx context.Context, name, src string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name, f.source = name, src
	if f.err != nil {
		return f.err
	}
	f.current = &sketch.Loaded{Path: name, LoadedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	return nil
}

func (f *fakeSketches) Current() *sketch.Loaded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

type testServer struct {
	*RESTServer
	transport *fakeTransport
	sketches  *fakeSketches
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := config.NewTestConfig()
	cfg.LogDir = t.TempDir()
	config.SetForTesting(cfg)

	tr := &fakeTransport{status: scheduler.Status{State: scheduler.Ready}}
	sk := &fakeSketches{}
	s := NewRESTServer(ServerDeps{Transport: tr, Sketches: sk})
	gin.SetMode(gin.TestMode)
	t.Cleanup(func() {
		_ = s.Shutdown(context.Background())
	})
	return &testServer{RESTServer: s, transport: tr, sketches: sk}
}

func (s *testServer) do(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func (s *testServer) postJSON(path string, v interface{}) *httptest.ResponseRecorder {
	data, _ := json.Marshal(v)
	return s.do(http.MethodPost, path, bytes.NewReader(data), "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
