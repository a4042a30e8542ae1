package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Cadence/internal/logger"
	"github.com/mescon/Cadence/internal/runloop"
	"github.com/mescon/Cadence/internal/scheduler"
	"github.com/mescon/Cadence/internal/sketch"
)

// Standard error messages (don't leak internal details)
const (
	ErrMsgInvalidRequest     = "Invalid request"
	ErrMsgNotFound           = "Not found"
	ErrMsgServiceUnavailable = "Service unavailable"
	ErrMsgInternalError      = "Internal server error"
	ErrMsgDatabaseError      = "Database error"
	ErrMsgTimeout            = "Timed out waiting for the transport"
	ErrMsgEmptySketch        = "Sketch source is empty"
)

// respondWithError sends a JSON error response and logs the actual error
func respondWithError(c *gin.Context, status int, publicMsg string, err error) {
	if err != nil {
		logger.Debugf("%s: %v", publicMsg, err)
	}
	c.JSON(status, gin.H{"error": publicMsg})
}

// respondDatabaseError handles database errors consistently
func respondDatabaseError(c *gin.Context, err error) {
	respondWithError(c, http.StatusInternalServerError, ErrMsgDatabaseError, err)
}

// respondBadRequest handles bad request errors, optionally exposing the error message
// Use exposeError=true only for validation errors safe to show users
func respondBadRequest(c *gin.Context, err error, exposeError bool) {
	if exposeError && err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	respondWithError(c, http.StatusBadRequest, ErrMsgInvalidRequest, err)
}

// respondNotFound handles not found errors
func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, gin.H{"error": resource + " not found"})
}

// respondServiceUnavailable handles service unavailable errors
func respondServiceUnavailable(c *gin.Context, service string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": service + " not available"})
}

// respondTransportError maps scheduler, sketch and loop errors to status codes.
func respondTransportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, scheduler.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, sketch.ErrCompile), errors.Is(err, sketch.ErrEvaluate):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		respondWithError(c, http.StatusGatewayTimeout, ErrMsgTimeout, err)
	case errors.Is(err, runloop.ErrLoopClosed):
		respondServiceUnavailable(c, "Transport")
	default:
		respondWithError(c, http.StatusInternalServerError, ErrMsgInternalError, err)
	}
}
