package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// newRouter applies the middleware shared by both processes.
func newRouter() chi.Router {
	r := chi.NewRouter()

	// Middlewares
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))
	return r
}

// NewServerRouter builds the /api router of a backend process.
func NewServerRouter(rooms RoomStats, conns ConnectionCounter, capacity int) (chi.Router, *MetricsHandler) {
	r := newRouter()
	mh := NewMetricsHandler(rooms, conns, capacity)
	r.Route("/v1", func(sub chi.Router) {
		sub.Get("/health", mh.GetHealth)
		mh.Routes(sub)
	})
	return r, mh
}

// NewBalancerRouter builds the /api router of the load balancer.
func NewBalancerRouter(pool BackendLister) chi.Router {
	r := newRouter()
	bh := NewBackendsHandler(pool)
	r.Route("/v1", func(sub chi.Router) {
		sub.Get("/health", bh.GetHealth)
		bh.Routes(sub)
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
