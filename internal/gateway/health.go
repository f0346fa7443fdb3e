package gateway

import (
	"net/http"
	"time"
)

// HealthResponse is the JSON response for GET /health.
type HealthResponse struct {
	Status   string `json:"status"` // "ok" or "degraded"
	Builders int    `json:"builders"`
	Sessions int    `json:"sessions"`
}

// handleHealth reports 503 when no dispatcher is attached or no builder
// is registered, since no update could be handled.
func (g *Gateway) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if g.deps.Dispatcher != nil {
			for _, b := range g.deps.Dispatcher.Builders() {
				resp.Builders++
				resp.Sessions += b.Sessions
			}
		}

		status := http.StatusOK
		if resp.Builders == 0 {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}

// StatusResponse is the JSON response for GET /status.
type StatusResponse struct {
	Uptime        int64 `json:"uptime_seconds"`
	Offset        int   `json:"offset"`
	PendingEvents int   `json:"pending_events"`
	Builders      int   `json:"builders"`
	Sessions      int   `json:"sessions"`
	Blacklisted   int   `json:"blacklisted"`
	Subscribers   int   `json:"event_subscribers"`
}

func (g *Gateway) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		resp := StatusResponse{
			Uptime:      int64(g.now().Sub(g.startedAt).Truncate(time.Second).Seconds()),
			Subscribers: g.hub.len(),
		}
		if d := g.deps.Dispatcher; d != nil {
			resp.Offset = d.Offset()
			resp.PendingEvents = d.PendingEvents()
			for _, b := range d.Builders() {
				resp.Builders++
				resp.Sessions += b.Sessions
			}
		}
		if g.deps.Blacklist != nil {
			resp.Blacklisted = len(g.deps.Blacklist.Entries())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
