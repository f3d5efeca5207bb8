package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/coordinator"
	"github.com/fernwood/pushcenter/internal/models"
)

type PreferenceHandler struct {
	coord  *coordinator.Coordinator
	logger zerolog.Logger
}

func NewPreferenceHandler(coord *coordinator.Coordinator, logger zerolog.Logger) *PreferenceHandler {
	return &PreferenceHandler{
		coord:  coord,
		logger: logger.With().Str("handler", "preferences").Logger(),
	}
}

func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Snapshot().Preferences)
}

func (h *PreferenceHandler) Patch(w http.ResponseWriter, r *http.Request) {
	var patch models.PreferencesPatch
	if err := decodeJSON(r, &patch); err != nil {
		http.Error(w, "Invalid preferences patch", http.StatusBadRequest)
		return
	}
	prefs := h.coord.UpdatePreferences(r.Context(), patch)
	if prefs == nil {
		h.logger.Error().Str("last_error", h.coord.Snapshot().LastError).Msg("failed to update preferences")
		http.Error(w, "Failed to update preferences", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, prefs)
}
