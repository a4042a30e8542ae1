package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Cadence/internal/db"
	"github.com/mescon/Cadence/internal/domain"
)

// historyTimeout bounds a single history query.
const historyTimeout = 5 * time.Second

// HistoryStore is the read side of the sketch and event journal.
type HistoryStore interface {
	ListRevisions(ctx context.Context, limit, offset int) ([]db.Revision, int, error)
	GetRevision(ctx context.Context, id int64) (db.Revision, error)
	RecentEvents(ctx context.Context, limit, offset int) ([]domain.Event, int, error)
}

var _ HistoryStore = (*db.Repository)(nil)

func (s *RESTServer) requireHistory(c *gin.Context) bool {
	if s.history == nil {
		respondServiceUnavailable(c, "History")
		return false
	}
	return true
}

func (s *RESTServer) handleListRevisions(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	p := ParsePagination(c, DefaultPaginationConfig())

	ctx, cancel := context.WithTimeout(c.Request.Context(), historyTimeout)
	defer cancel()

	revs, total, err := s.history.ListRevisions(ctx, p.Limit, p.Offset)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	if revs == nil {
		revs = []db.Revision{}
	}
	c.JSON(http.StatusOK, gin.H{
		"revisions":  revs,
		"pagination": NewPaginationResponse(p, total),
	})
}

// revisionFromPath loads the revision named by :id, writing the error
// response itself when it cannot.
func (s *RESTServer) revisionFromPath(c *gin.Context) (db.Revision, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		respondBadRequest(c, errors.New("Invalid revision id"), true)
		return db.Revision{}, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), historyTimeout)
	defer cancel()

	rev, err := s.history.GetRevision(ctx, id)
	if errors.Is(err, db.ErrNotFound) {
		respondNotFound(c, "Revision")
		return db.Revision{}, false
	}
	if err != nil {
		respondDatabaseError(c, err)
		return db.Revision{}, false
	}
	return rev, true
}

func (s *RESTServer) handleGetRevision(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	rev, ok := s.revisionFromPath(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rev)
}

// handleRestoreRevision reloads a previously submitted sketch source.
func (s *RESTServer) handleRestoreRevision(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	rev, ok := s.revisionFromPath(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), sketchLoadTimeout)
	defer cancel()

	if err := s.sketches.Load(ctx, rev.Name, rev.Source); err != nil {
		respondTransportError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "restored",
		"revision": rev.ID,
		"sketch":   s.sketches.Current(),
	})
}

func (s *RESTServer) handleListEvents(c *gin.Context) {
	if !s.requireHistory(c) {
		return
	}
	p := ParsePagination(c, DefaultPaginationConfig())

	ctx, cancel := context.WithTimeout(c.Request.Context(), historyTimeout)
	defer cancel()

	events, total, err := s.history.RecentEvents(ctx, p.Limit, p.Offset)
	if err != nil {
		respondDatabaseError(c, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	c.JSON(http.StatusOK, gin.H{
		"events":     events,
		"pagination": NewPaginationResponse(p, total),
	})
}
