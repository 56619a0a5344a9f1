package changelog

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/mcdev12/showclock/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Lister reads the change log newest first
type Lister interface {
	List(ctx context.Context, eventID uuid.UUID, limit int) ([]models.ChangeLogEntry, error)
}

const maxListLimit = 1000

// Handler serves the change log over HTTP
type Handler struct {
	lister Lister
}

func NewHandler(lister Lister) *Handler {
	return &Handler{
		lister: lister,
	}
}

// HandleList handles GET /api/events/{eventID}/changes?limit=N
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(r.PathValue("eventID"))
	if err != nil {
		http.Error(w, "invalid event id format", http.StatusBadRequest)
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	entries, err := h.lister.List(r.Context(), eventID, limit)
	if err != nil {
		log.Error().Err(err).Str("event_id", eventID.String()).Msg("failed to list change log")
		http.Error(w, "failed to list change log", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.ChangeLogEntry{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"changes": entries}); err != nil {
		log.Error().Err(err).Msg("failed to encode change log response")
	}
}

// RegisterRoutes registers change log routes with an HTTP mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events/{eventID}/changes", h.HandleList)
}
