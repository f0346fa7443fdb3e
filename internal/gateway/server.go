package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public.
	r.Get("/health", g.handleHealth())
	if g.deps.Metrics != nil {
		r.Handle("/metrics", g.deps.Metrics)
	}

	// Admin endpoints are not mounted without auth.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth, g.limiter, g.logger))
			r.Get("/status", g.handleStatus())
			r.Get("/ws/events", g.handleEvents())
			r.Route("/api", func(r chi.Router) {
				r.Get("/builders", g.handleListBuilders())
				r.Get("/sessions", g.handleListSessions())
				r.Delete("/sessions/{builder}/{id}", g.handleDeleteSession())
				r.Get("/blacklist", g.handleListBlacklist())
				r.Post("/blacklist", g.handleAddBlacklist())
				r.Delete("/blacklist/{id}", g.handleDeleteBlacklist())
			})
		})
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
