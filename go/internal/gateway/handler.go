package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Handler exposes the fanout over HTTP
type Handler struct {
	connectionManager *ConnectionManager
}

// NewHandler creates a new fanout HTTP handler
func NewHandler(cm *ConnectionManager) *Handler {
	return &Handler{
		connectionManager: cm,
	}
}

// HandleSocket handles GET /ws/events?event_id=...; event_id is optional
// since a socket may join later.
func (h *Handler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	var eventID uuid.UUID
	if raw := r.URL.Query().Get("event_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid event_id format", http.StatusBadRequest)
			return
		}
		eventID = id
	}

	if err := h.connectionManager.UpgradeConnection(w, r, eventID); err != nil {
		// Upgrade already wrote the HTTP error response.
		log.Error().
			Err(err).
			Str("event_id", eventID.String()).
			Msg("failed to upgrade socket connection")
	}
}

// HandleStream handles GET /api/events/{eventID}/stream
func (h *Handler) HandleStream(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(r.PathValue("eventID"))
	if err != nil {
		http.Error(w, "invalid event id format", http.StatusBadRequest)
		return
	}
	h.connectionManager.ServeStream(w, r, eventID)
}

// HandleStats handles GET /api/fanout/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.connectionManager.GetStats()); err != nil {
		log.Error().Err(err).Msg("failed to encode fanout stats")
	}
}

// RegisterRoutes registers fanout routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/events", h.HandleSocket)
	mux.HandleFunc("GET /api/events/{eventID}/stream", h.HandleStream)
	mux.HandleFunc("GET /api/fanout/stats", h.HandleStats)
}
