package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/Cadence/internal/config"
)

// formatUptime returns a human-readable uptime string
func formatUptime(uptime time.Duration) string {
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// handleHealth returns server health status for container orchestration.
// A transport loop that does not answer within a second reports degraded.
func (s *RESTServer) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), time.Second)
	defer cancel()

	status := "healthy"
	transport := gin.H{}
	if st, err := s.transport.Status(ctx); err != nil {
		status = "degraded"
		transport["error"] = err.Error()
	} else {
		transport["state"] = st.State
		transport["pending"] = st.Pending
		transport["rt_now_ms"] = st.RtNowMs
	}

	health := gin.H{
		"status":            status,
		"version":           config.Version,
		"uptime":            formatUptime(time.Since(s.startTime)),
		"transport":         transport,
		"websocket_clients": s.hub.ClientCount(),
	}
	if cur := s.sketches.Current(); cur != nil {
		health["sketch"] = cur
	}
	if s.eventBus != nil {
		health["dropped_events"] = s.eventBus.Dropped()
	}

	c.JSON(http.StatusOK, health)
}
