package api

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"arcade-server/server"

	"github.com/go-chi/chi/v5"
)

// HealthStatus represents the overall health of a process
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthWarning     HealthStatus = "warning"
	HealthCritical    HealthStatus = "critical"
	HealthDown        HealthStatus = "down"
	HealthMaintenance HealthStatus = "maintenance"
)

// WebSocketStatus represents the state of the WebSocket endpoint
type WebSocketStatus string

const (
	WebSocketRunning  WebSocketStatus = "running"
	WebSocketStopping WebSocketStatus = "stopping"
)

// RoomStats is the part of the room registry the metrics read.
type RoomStats interface {
	Stats() server.Stats
}

// ConnectionCounter reports open client sockets.
type ConnectionCounter interface {
	ConnectedClients() int
}

// WorkloadMetrics tracks seat usage against the configured capacity
type WorkloadMetrics struct {
	LoadPercentage float64 `json:"load_percentage"`
	Capacity       int     `json:"capacity"`
	Players        int     `json:"players"`
	CurrentLoad    string  `json:"current_load"` // "low", "medium", "high", "critical"
}

// WebSocketServerMetrics holds WebSocket endpoint status
type WebSocketServerMetrics struct {
	Status            WebSocketStatus `json:"status"`
	ActiveConnections int             `json:"active_connections"`
	UptimeSec         int64           `json:"uptime_sec"`
}

// MetricsResponse is the complete metrics response structure
type MetricsResponse struct {
	Timestamp         time.Time              `json:"timestamp"`
	Health            HealthStatus           `json:"health"`
	HealthDescription string                 `json:"health_description"`
	Rooms             server.Stats           `json:"rooms"`
	WebSocket         WebSocketServerMetrics `json:"websocket"`
	Workload          WorkloadMetrics        `json:"workload"`
	ServerUptime      int64                  `json:"server_uptime_sec"`
}

// MetricsHandler reports room and connection metrics of a backend.
type MetricsHandler struct {
	rooms           RoomStats
	conns           ConnectionCounter
	capacity        int
	mu              sync.RWMutex
	serverStartTime time.Time
	wsStatus        WebSocketStatus
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(rooms RoomStats, conns ConnectionCounter, capacity int) *MetricsHandler {
	if capacity <= 0 {
		capacity = 1
	}
	return &MetricsHandler{
		rooms:           rooms,
		conns:           conns,
		capacity:        capacity,
		serverStartTime: time.Now(),
		wsStatus:        WebSocketRunning,
	}
}

// Routes registers metrics routes
func (h *MetricsHandler) Routes(r chi.Router) {
	r.Get("/metrics", h.GetMetrics)
	r.Get("/metrics/rooms", h.GetRooms)
	r.Get("/metrics/websocket", h.GetWebSocket)
	r.Get("/metrics/workload", h.GetWorkload)
}

// GetMetrics returns complete metrics
func (h *MetricsHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collectMetrics())
}

// GetHealth returns only health status. A draining process answers 503 so
// probes take it out of rotation.
func (h *MetricsHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	metrics := h.collectMetrics()
	status := http.StatusOK
	if metrics.Health == HealthMaintenance {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"timestamp":   metrics.Timestamp,
		"health":      metrics.Health,
		"description": metrics.HealthDescription,
		"uptime_sec":  metrics.ServerUptime,
	})
}

// GetRooms returns only room stats
func (h *MetricsHandler) GetRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.rooms.Stats())
}

// GetWebSocket returns only WebSocket metrics
func (h *MetricsHandler) GetWebSocket(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp": time.Now(),
		"websocket": h.webSocketMetrics(),
	})
}

// GetWorkload returns only workload metrics
func (h *MetricsHandler) GetWorkload(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workload(h.rooms.Stats()))
}

// SetWebSocketStatus records a lifecycle change of the WebSocket endpoint.
func (h *MetricsHandler) SetWebSocketStatus(status WebSocketStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.wsStatus = status
}

func (h *MetricsHandler) collectMetrics() *MetricsResponse {
	stats := h.rooms.Stats()
	workload := h.workload(stats)
	ws := h.webSocketMetrics()
	health, desc := h.determineHealth(workload, ws)

	return &MetricsResponse{
		Timestamp:         time.Now(),
		Health:            health,
		HealthDescription: desc,
		Rooms:             stats,
		WebSocket:         ws,
		Workload:          workload,
		ServerUptime:      int64(time.Since(h.serverStartTime).Seconds()),
	}
}

func (h *MetricsHandler) webSocketMetrics() WebSocketServerMetrics {
	h.mu.RLock()
	defer h.mu.RUnlock()

	m := WebSocketServerMetrics{
		Status:    h.wsStatus,
		UptimeSec: int64(time.Since(h.serverStartTime).Seconds()),
	}
	if h.conns != nil {
		m.ActiveConnections = h.conns.ConnectedClients()
	}
	return m
}

func (h *MetricsHandler) workload(stats server.Stats) WorkloadMetrics {
	w := WorkloadMetrics{
		Capacity:       h.capacity,
		Players:        stats.TotalPlayers,
		LoadPercentage: float64(stats.TotalPlayers) / float64(h.capacity) * 100,
	}
	w.CurrentLoad = loadLevel(w.LoadPercentage)
	return w
}

func loadLevel(pct float64) string {
	switch {
	case pct < 40:
		return "low"
	case pct < 70:
		return "medium"
	case pct < 90:
		return "high"
	default:
		return "critical"
	}
}

// determineHealth determines overall health from workload and endpoint state
func (h *MetricsHandler) determineHealth(workload WorkloadMetrics, ws WebSocketServerMetrics) (HealthStatus, string) {
	if ws.Status == WebSocketStopping {
		return HealthMaintenance, "Server is performing graceful shutdown - no new connections accepted"
	}

	switch workload.CurrentLoad {
	case "critical":
		return HealthCritical, fmt.Sprintf("Player seats nearly exhausted (%d/%d) - new sessions should go elsewhere", workload.Players, workload.Capacity)
	case "high":
		return HealthWarning, "Workload is high (70-90%) - monitor closely"
	}

	if ws.ActiveConnections > 0 {
		connStr := "connection"
		if ws.ActiveConnections > 1 {
			connStr = "connections"
		}
		return HealthHealthy, fmt.Sprintf("All systems operational - %d active %s", ws.ActiveConnections, connStr)
	}
	return HealthHealthy, "Server ready and operational - awaiting connections"
}
