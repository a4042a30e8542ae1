package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mescon/Cadence/internal/db"
	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/sketch"
)

func newHistoryServer(t *testing.T) (*testServer, *db.Repository) {
	t.Helper()
	s := newTestServer(t)
	repo, err := db.NewRepository(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	s.history = repo
	return s, repo
}

func TestHistory_Unavailable(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/api/history/sketches", "/api/history/sketches/1", "/api/history/events"} {
		w := s.do(http.MethodGet, path, nil, "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
		assert.Equal(t, "History not available", decode(t, w)["error"], path)
	}
}

func TestHandleListRevisions(t *testing.T) {
	s, repo := newHistoryServer(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := repo.SaveRevision(ctx, fmt.Sprintf("s%d.js", i), "wait(1)", nil)
		require.NoError(t, err)
	}

	w := s.do(http.MethodGet, "/api/history/sketches?page=1&limit=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	revs := body["revisions"].([]interface{})
	require.Len(t, revs, 2)
	newest := revs[0].(map[string]interface{})
	assert.Equal(t, "s3.js", newest["name"])
	assert.NotContains(t, newest, "source")

	pg := body["pagination"].(map[string]interface{})
	assert.EqualValues(t, 3, pg["total"])
	assert.EqualValues(t, 2, pg["total_pages"])
	assert.EqualValues(t, 2, pg["limit"])
}

func TestHandleListRevisions_Empty(t *testing.T) {
	s, _ := newHistoryServer(t)

	w := s.do(http.MethodGet, "/api/history/sketches", nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, decode(t, w)["revisions"])
}

func TestHandleGetRevision(t *testing.T) {
	s, repo := newHistoryServer(t)
	id, err := repo.SaveRevision(context.Background(), "bad.js", "schedule(", errors.New("SyntaxError"))
	require.NoError(t, err)

	w := s.do(http.MethodGet, fmt.Sprintf("/api/history/sketches/%d", id), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "schedule(", body["source"])
	assert.Equal(t, db.RevisionFailed, body["status"])
	assert.Equal(t, "SyntaxError", body["error"])
	assert.Equal(t, db.Checksum("schedule("), body["checksum"])

	tests := []struct {
		path string
		code int
	}{
		{"/api/history/sketches/999", http.StatusNotFound},
		{"/api/history/sketches/abc", http.StatusBadRequest},
		{"/api/history/sketches/0", http.StatusBadRequest},
	}
	for _, tt := range tests {
		w := s.do(http.MethodGet, tt.path, nil, "")
		assert.Equal(t, tt.code, w.Code, tt.path)
	}
}

func TestHandleRestoreRevision(t *testing.T) {
	s, repo := newHistoryServer(t)
	id, err := repo.SaveRevision(context.Background(), "groove.js", "schedule(0, () => {})", nil)
	require.NoError(t, err)

	w := s.do(http.MethodPost, fmt.Sprintf("/api/history/sketches/%d/restore", id), nil, "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "groove.js", s.sketches.name)
	assert.Equal(t, "schedule(0, () => {})", s.sketches.source)
	body := decode(t, w)
	assert.Equal(t, "restored", body["status"])
	assert.EqualValues(t, id, body["revision"])
}

func TestHandleRestoreRevision_LoadFails(t *testing.T) {
	s, repo := newHistoryServer(t)
	id, err := repo.SaveRevision(context.Background(), "throws.js", "throw 1", nil)
	require.NoError(t, err)
	s.sketches.err = fmt.Errorf("%w: boom", sketch.ErrEvaluate)

	w := s.do(http.MethodPost, fmt.Sprintf("/api/history/sketches/%d/restore", id), nil, "")

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestHandleRestoreRevision_Missing(t *testing.T) {
	s, _ := newHistoryServer(t)

	w := s.do(http.MethodPost, "/api/history/sketches/42/restore", nil, "")

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Empty(t, s.sketches.name)
}

func TestHandleListEvents(t *testing.T) {
	s, repo := newHistoryServer(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, et := range []domain.EventType{domain.TransportStarted, domain.TransportStopping, domain.TransportStopped} {
		require.NoError(t, repo.AppendEvent(ctx, domain.Event{
			AggregateType: domain.AggregateTransport,
			AggregateID:   "transport",
			EventType:     et,
			EventData:     map[string]interface{}{"seq": i},
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := s.do(http.MethodGet, "/api/history/events?limit=2&page=2", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	body := decode(t, w)
	events := body["events"].([]interface{})
	require.Len(t, events, 1)
	assert.Equal(t, string(domain.TransportStarted), events[0].(map[string]interface{})["event_type"])

	pg := body["pagination"].(map[string]interface{})
	assert.EqualValues(t, 2, pg["page"])
	assert.EqualValues(t, 3, pg["total"])
}
