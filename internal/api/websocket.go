package api

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/mescon/Cadence/internal/domain"
	"github.com/mescon/Cadence/internal/eventbus"
	"github.com/mescon/Cadence/internal/logger"
)

// getWebSocketUpgrader returns an upgrader with origin validation
// based on CADENCE_CORS_ORIGIN environment variable
func getWebSocketUpgrader() websocket.Upgrader {
	corsOrigins := os.Getenv("CADENCE_CORS_ORIGIN")
	allowedOrigins := make(map[string]bool)
	if corsOrigins != "" && corsOrigins != "*" {
		for _, origin := range strings.Split(corsOrigins, ",") {
			allowedOrigins[strings.TrimSpace(origin)] = true
		}
	}

	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if corsOrigins == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			if corsOrigins == "" {
				if origin == "" {
					return true // No origin header = same-origin request
				}
				return strings.Contains(origin, r.Host)
			}
			return allowedOrigins[origin]
		},
	}
}

var upgrader = getWebSocketUpgrader()

// streamedEvents are forwarded to every WebSocket client.
var streamedEvents = []domain.EventType{
	domain.TransportStarted,
	domain.TransportStopping,
	domain.TransportStopped,
	domain.EventsCleared,
	domain.EventScheduled,
	domain.EventTriggered,
	domain.EventCanceled,
	domain.ScheduleRejected,
	domain.ActionFailed,
	domain.SketchLoaded,
	domain.SketchFailed,
}

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	writeWait      = 5 * time.Second
	timecodeBudget = 250 * time.Millisecond
)

// Message is the envelope for everything sent to WebSocket clients.
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Timecode is broadcast periodically while clients are connected.
type Timecode struct {
	State   string   `json:"state"`
	NowMs   float64  `json:"now_ms"`
	RtNowMs float64  `json:"rt_now_ms"`
	Pending int      `json:"pending"`
	NextMs  *float64 `json:"next_due_ms,omitempty"`
}

type WebSocketHub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan Message
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	mu         sync.Mutex
	transport  Transport
	logCh      chan logger.LogEntry
}

// NewWebSocketHub streams bus events, log lines and, when transport is set and
// timecodeInterval is positive, periodic timecode.
func NewWebSocketHub(eventBus *eventbus.EventBus, transport Transport, timecodeInterval time.Duration) *WebSocketHub {
	h := &WebSocketHub{
		broadcast:  make(chan Message),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		clients:    make(map[*websocket.Conn]bool),
		transport:  transport,
	}

	if eventBus != nil {
		eventBus.SubscribeMany(streamedEvents, func(e domain.Event) {
			h.send(Message{Type: "event", Data: e})
		})
	}

	h.logCh = logger.Subscribe()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for entry := range h.logCh {
			h.send(Message{Type: "log", Data: entry})
		}
	}()

	if transport != nil && timecodeInterval > 0 {
		h.wg.Add(1)
		go h.timecode(timecodeInterval)
	}

	h.wg.Add(1)
	go h.run()
	return h
}

// send hands msg to the run loop unless the hub is shutting down.
func (h *WebSocketHub) send(msg Message) {
	select {
	case h.broadcast <- msg:
	case <-h.done:
	}
}

func (h *WebSocketHub) run() {
	defer h.wg.Done()
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			logger.Debugf("WebSocket client connected (Total: %d)", len(h.clients))
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				if err := client.Close(); err != nil {
					logger.Debugf("WebSocket close error: %v", err)
				}
				logger.Debugf("WebSocket client disconnected")
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				_ = client.SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.WriteJSON(message); err != nil {
					logger.Debugf("WebSocket write error: %v", err)
					if closeErr := client.Close(); closeErr != nil {
						logger.Debugf("WebSocket close error during broadcast: %v", closeErr)
					}
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// timecode polls the transport and broadcasts its clock while anyone listens.
func (h *WebSocketHub) timecode(interval time.Duration) {
	defer h.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			if h.ClientCount() == 0 {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), timecodeBudget)
			st, err := h.transport.Status(ctx)
			cancel()
			if err != nil {
				logger.Debugf("Timecode skipped: %v", err)
				continue
			}
			h.send(Message{Type: "timecode", Data: Timecode{
				State:   string(st.State),
				NowMs:   st.NowMs,
				RtNowMs: st.RtNowMs,
				Pending: st.Pending,
				NextMs:  st.NextDueMs,
			}})
		}
	}
}

// unregisterClient tolerates a hub that has already shut down.
func (h *WebSocketHub) unregisterClient(ws *websocket.Conn) {
	select {
	case h.unregister <- ws:
	case <-h.done:
	}
}

func (h *WebSocketHub) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Errorf("Failed to upgrade to WebSocket: %v", err)
		return
	}

	// Send the hello before registering so it cannot race a broadcast
	if err := ws.WriteJSON(Message{Type: "ping", Data: gin.H{"timestamp": time.Now()}}); err != nil {
		logger.Debugf("Failed to send initial ping: %v", err)
	}

	select {
	case h.register <- ws:
	case <-h.done:
		_ = ws.Close()
		return
	}

	if err := ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Debugf("Failed to set initial read deadline: %v", err)
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
			}
			h.mu.Lock()
			if _, exists := h.clients[ws]; !exists {
				h.mu.Unlock()
				return
			}
			// Write under the mutex so pings never interleave with broadcasts
			err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			h.mu.Unlock()
			if err != nil {
				logger.Debugf("WebSocket ping error: %v", err)
				h.unregisterClient(ws)
				return
			}
		}
	}()

	defer h.unregisterClient(ws)

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
}

// ClientCount returns the number of connected WebSocket clients
func (h *WebSocketHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown disconnects every client and stops the hub's goroutines.
// Safe to call more than once.
func (h *WebSocketHub) Shutdown() {
	h.stopOnce.Do(func() {
		close(h.done)
		logger.Unsubscribe(h.logCh)
	})
	h.wg.Wait()
}
