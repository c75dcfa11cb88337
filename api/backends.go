package api

import (
	"fmt"
	"net/http"
	"time"

	"arcade-server/balancer"

	"github.com/go-chi/chi/v5"
)

// BackendLister exposes the balancer pool state.
type BackendLister interface {
	Snapshot() []balancer.BackendInfo
	Saturated() bool
}

// BackendsResponse is the /backends payload.
type BackendsResponse struct {
	Timestamp time.Time              `json:"timestamp"`
	Active    int                    `json:"active"`
	Available int                    `json:"available"`
	Saturated bool                   `json:"saturated"`
	Sessions  int                    `json:"sessions"`
	Backends  []balancer.BackendInfo `json:"backends"`
}

// BackendsHandler serves the balancer's view of its backends.
type BackendsHandler struct {
	pool BackendLister
}

func NewBackendsHandler(pool BackendLister) *BackendsHandler {
	return &BackendsHandler{pool: pool}
}

func (h *BackendsHandler) Routes(r chi.Router) {
	r.Get("/backends", h.GetBackends)
}

func (h *BackendsHandler) GetBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.collect())
}

// GetHealth is down when no backend can take traffic.
func (h *BackendsHandler) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := h.collect()
	health, desc, status := HealthHealthy, fmt.Sprintf("%d of %d backends available", resp.Available, resp.Active), http.StatusOK
	switch {
	case resp.Available == 0:
		health, desc, status = HealthDown, "No backend available", http.StatusServiceUnavailable
	case resp.Saturated:
		health, desc = HealthCritical, "All backends are at capacity"
	case resp.Available < resp.Active:
		health = HealthWarning
	}
	writeJSON(w, status, map[string]any{
		"timestamp":   resp.Timestamp,
		"health":      health,
		"description": desc,
	})
}

func (h *BackendsHandler) collect() BackendsResponse {
	infos := h.pool.Snapshot()
	resp := BackendsResponse{
		Timestamp: time.Now(),
		Saturated: h.pool.Saturated(),
		Backends:  infos,
	}
	for _, b := range infos {
		if b.Active {
			resp.Active++
		}
		if b.Available {
			resp.Available++
		}
		resp.Sessions += len(b.Sessions)
	}
	return resp
}
