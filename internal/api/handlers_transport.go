package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// transportTimeout bounds a single round trip to the scheduler loop.
const transportTimeout = 2 * time.Second

func (s *RESTServer) handleTransportStatus(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), transportTimeout)
	defer cancel()

	st, err := s.transport.Status(ctx)
	if err != nil {
		respondTransportError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *RESTServer) handleTransportStart(c *gin.Context) {
	s.transportCommand(c, s.transport.Start)
}

func (s *RESTServer) handleTransportStop(c *gin.Context) {
	s.transportCommand(c, s.transport.Stop)
}

func (s *RESTServer) handleTransportClear(c *gin.Context) {
	s.transportCommand(c, s.transport.Clear)
}

// transportCommand runs op and answers with the resulting status.
func (s *RESTServer) transportCommand(c *gin.Context, op func(context.Context) error) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), transportTimeout)
	defer cancel()

	if err := op(ctx); err != nil {
		respondTransportError(c, err)
		return
	}
	st, err := s.transport.Status(ctx)
	if err != nil {
		respondTransportError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
