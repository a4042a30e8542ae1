// Package api provides the REST API and WebSocket server for Cadence.
// It exposes transport control, sketch loading, health, logs and a live
// stream of scheduler events and timecode.
package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mescon/Cadence/internal/config"
	"github.com/mescon/Cadence/internal/eventbus"
	"github.com/mescon/Cadence/internal/logger"
	"github.com/mescon/Cadence/internal/metrics"
)

type RESTServer struct {
	router       *gin.Engine
	httpServer   *http.Server
	eventBus     *eventbus.EventBus
	transport    Transport
	sketches     SketchLoader
	history      HistoryStore
	metrics      *metrics.MetricsService
	hub          *WebSocketHub
	sketchLimits *RateLimiter
	startTime    time.Time
}

// ServerDeps contains all dependencies required for the REST server
type ServerDeps struct {
	EventBus  *eventbus.EventBus
	Transport Transport
	Sketches  SketchLoader
	History   HistoryStore
	Metrics   *metrics.MetricsService
}

// maxSketchBytes caps uploaded sketch bodies.
const maxSketchBytes = 1 << 20

func NewRESTServer(deps ServerDeps) *RESTServer {
	// Set Gin to release mode for production (suppresses debug warnings)
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Request ID middleware for correlation/tracing
	r.Use(func(c *gin.Context) {
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      ErrMsgInternalError,
			"request_id": reqID,
		})
	}))

	r.Use(corsMiddleware(os.Getenv("CADENCE_CORS_ORIGIN")))

	cfg := config.Get()
	s := &RESTServer{
		router:       r,
		eventBus:     deps.EventBus,
		transport:    deps.Transport,
		sketches:     deps.Sketches,
		history:      deps.History,
		metrics:      deps.Metrics,
		hub:          NewWebSocketHub(deps.EventBus, deps.Transport, cfg.TimecodeInterval),
		sketchLimits: NewRateLimiter(cfg.SketchRateLimitRPS, cfg.SketchRateLimitBurst),
		startTime:    time.Now(),
	}

	s.setupRoutes()

	return s
}

// corsMiddleware applies CADENCE_CORS_ORIGIN. Empty means same-origin only,
// "*" allows everything, otherwise a comma-separated allow list.
func corsMiddleware(corsOrigins string) gin.HandlerFunc {
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if corsOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *RESTServer) setupRoutes() {
	// Prometheus metrics at root level (standard convention)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)

		api.GET("/transport", s.handleTransportStatus)
		api.POST("/transport/start", s.handleTransportStart)
		api.POST("/transport/stop", s.handleTransportStop)
		api.POST("/transport/clear", s.handleTransportClear)

		api.GET("/sketch", s.handleCurrentSketch)
		api.POST("/sketch", s.sketchLimits.Middleware(), s.handleLoadSketch)

		history := api.Group("/history")
		{
			history.GET("/sketches", s.handleListRevisions)
			history.GET("/sketches/:id", s.handleGetRevision)
			history.POST("/sketches/:id/restore", s.sketchLimits.Middleware(), s.handleRestoreRevision)
			history.GET("/events", s.handleListEvents)
		}

		api.GET("/ws", s.hub.HandleConnection)

		api.GET("/logs/recent", s.handleRecentLogs)
		api.GET("/logs/download", s.handleDownloadLogs)
	}

	s.router.NoRoute(func(c *gin.Context) {
		respondNotFound(c, "Endpoint")
	})
}

// Handler exposes the router, mainly for tests.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server and background workers
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.hub.Shutdown()
	s.sketchLimits.Shutdown()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
