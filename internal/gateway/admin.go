package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/flemzord/pelican/internal/dispatch"
	"github.com/flemzord/pelican/internal/moderator"
	"github.com/go-chi/chi/v5"
)

// removalReason is recorded on sessions removed through the API.
const removalReason = "admin"

func (g *Gateway) handleListBuilders() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		builders := []dispatch.BuilderInfo{}
		if g.deps.Dispatcher != nil {
			builders = append(builders, g.deps.Dispatcher.Builders()...)
		}
		writeJSON(w, http.StatusOK, builders)
	}
}

// handleListSessions returns live sessions, optionally filtered by the
// builder query parameter.
func (g *Gateway) handleListSessions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		builder := r.URL.Query().Get("builder")
		sessions := []dispatch.SessionInfo{}
		if g.deps.Dispatcher != nil {
			for _, s := range g.deps.Dispatcher.Sessions() {
				if builder != "" && s.Builder != builder {
					continue
				}
				sessions = append(sessions, s)
			}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

// handleDeleteSession queues a session removal. The removal is applied on
// the dispatch goroutine, so the response is 202.
func (g *Gateway) handleDeleteSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid session id", http.StatusBadRequest)
			return
		}
		builder := chi.URLParam(r, "builder")

		if g.deps.Dispatcher == nil || !g.deps.Dispatcher.RequestRemoval(builder, id, removalReason) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		g.logger.Info("gateway: session removal requested", "builder", builder, "id", id)
		w.WriteHeader(http.StatusAccepted)
	}
}

func (g *Gateway) handleListBlacklist() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		entries := []moderator.Entry{}
		if g.deps.Blacklist != nil {
			entries = append(entries, g.deps.Blacklist.Entries()...)
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type blacklistRequest struct {
	ID     int64  `json:"id"`
	Reason string `json:"reason"`
}

func (g *Gateway) handleAddBlacklist() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.deps.Blacklist == nil {
			http.Error(w, "blacklist not available", http.StatusServiceUnavailable)
			return
		}

		var req blacklistRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		err := g.deps.Blacklist.Blacklist(r.Context(), req.ID, req.Reason)
		switch {
		case errors.Is(err, moderator.ErrInvalidID):
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		case err != nil:
			g.logger.Error("gateway: blacklist failed", "id", req.ID, "error", err)
			http.Error(w, "blacklist failed", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, req)
	}
}

func (g *Gateway) handleDeleteBlacklist() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if g.deps.Blacklist == nil {
			http.Error(w, "blacklist not available", http.StatusServiceUnavailable)
			return
		}
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		removed, err := g.deps.Blacklist.Unblacklist(r.Context(), id)
		if err != nil {
			g.logger.Error("gateway: unblacklist failed", "id", id, "error", err)
			http.Error(w, "unblacklist failed", http.StatusInternalServerError)
			return
		}
		if !removed {
			http.Error(w, "not blacklisted", http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
