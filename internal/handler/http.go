package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"unibus/internal/alert"
	"unibus/internal/domain"
	"unibus/internal/store"
)

// HTTPHandler serves the pull fallback for clients that missed push events
// or poll instead of holding a channel open.
type HTTPHandler struct {
	store     *store.Store
	timetable alert.TimetableSource
	logger    *slog.Logger
}

func NewHTTPHandler(s *store.Store, timetable alert.TimetableSource, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{store: s, timetable: timetable, logger: logger}
}

type PositionsResponse struct {
	Positions  []domain.Position `json:"positions"`
	Count      int               `json:"count"`
	ServerTime time.Time         `json:"serverTime"`
}

func (h *HTTPHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	positions := h.store.List()
	respondJSON(w, http.StatusOK, PositionsResponse{
		Positions:  positions,
		Count:      len(positions),
		ServerTime: time.Now(),
	})
}

func (h *HTTPHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	busID := chi.URLParam(r, "busID")
	if busID == "" {
		respondError(w, http.StatusBadRequest, "missing bus id")
		return
	}

	// Absence is routine: the bus simply has not shared a position yet.
	position, ok := h.store.Get(busID)
	if !ok {
		respondError(w, http.StatusNotFound, "no known position for bus")
		return
	}

	respondJSON(w, http.StatusOK, position)
}

func (h *HTTPHandler) ListRoutePositions(w http.ResponseWriter, r *http.Request) {
	routeID := chi.URLParam(r, "routeID")
	if routeID == "" {
		respondError(w, http.StatusBadRequest, "missing route id")
		return
	}

	positions := h.store.ListByRoute(routeID)
	if positions == nil {
		positions = []domain.Position{}
	}
	respondJSON(w, http.StatusOK, PositionsResponse{
		Positions:  positions,
		Count:      len(positions),
		ServerTime: time.Now(),
	})
}

type TimetableResponse struct {
	Entries []domain.TimetableEntry `json:"entries"`
	Count   int                     `json:"count"`
}

func (h *HTTPHandler) GetTimetable(w http.ResponseWriter, r *http.Request) {
	if h.timetable == nil {
		respondJSON(w, http.StatusOK, TimetableResponse{Entries: []domain.TimetableEntry{}})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	entries, err := h.timetable.Load(ctx)
	if err != nil {
		h.logger.Error("timetable load failed", "error", err)
		respondError(w, http.StatusServiceUnavailable, "timetable unavailable")
		return
	}
	respondJSON(w, http.StatusOK, TimetableResponse{Entries: entries, Count: len(entries)})
}

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
