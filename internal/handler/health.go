package handler

import (
	"net/http"
	"time"

	"unibus/internal/hub"
	"unibus/internal/store"
)

type HealthHandler struct {
	hub   *hub.Hub
	store *store.Store
}

func NewHealthHandler(h *hub.Hub, s *store.Store) *HealthHandler {
	return &HealthHandler{hub: h, store: s}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready         bool      `json:"ready"`
	PositionCount int       `json:"positionCount"`
	ClientCount   int       `json:"clientCount"`
	ServerTime    time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ReadyResponse{
		Ready:         true,
		PositionCount: h.store.Count(),
		ClientCount:   h.hub.ClientCount(),
		ServerTime:    time.Now(),
	})
}
