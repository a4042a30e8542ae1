package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Cadence/internal/sketch"
)

// sketchLoadTimeout covers draining protected actions of the old sketch.
const sketchLoadTimeout = 30 * time.Second

type loadSketchRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

func (s *RESTServer) handleCurrentSketch(c *gin.Context) {
	cur := s.sketches.Current()
	if cur == nil {
		respondNotFound(c, "Sketch")
		return
	}
	c.JSON(http.StatusOK, cur)
}

// handleLoadSketch accepts either {"name", "source"} JSON or a raw
// JavaScript body with an optional ?name= query parameter.
func (s *RESTServer) handleLoadSketch(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSketchBytes)

	var req loadSketchRequest
	if strings.HasPrefix(c.ContentType(), "application/json") {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondBadRequest(c, err, false)
			return
		}
	} else {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Sketch too large"})
				return
			}
			respondBadRequest(c, err, false)
			return
		}
		req.Name = c.Query("name")
		req.Source = string(body)
	}

	if strings.TrimSpace(req.Source) == "" {
		respondBadRequest(c, errors.New(ErrMsgEmptySketch), true)
		return
	}
	if req.Name == "" {
		req.Name = sketch.InlineName
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), sketchLoadTimeout)
	defer cancel()

	if err := s.sketches.Load(ctx, req.Name, req.Source); err != nil {
		respondTransportError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "loaded",
		"sketch": s.sketches.Current(),
	})
}
