package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/worker"
)

// maxPushBody bounds a single push payload; platform push services cap
// payloads well below this.
const maxPushBody = 64 * 1024

// PushHandler is the platform delivery boundary: pushes and surface
// interaction callbacks arrive here and activate the background worker.
type PushHandler struct {
	worker *worker.Worker
	logger zerolog.Logger
}

func NewPushHandler(w *worker.Worker, logger zerolog.Logger) *PushHandler {
	return &PushHandler{
		worker: w,
		logger: logger.With().Str("handler", "push").Logger(),
	}
}

// Receive accepts a raw push payload. Malformed bodies are still queued;
// the worker degrades them to fallback content rather than dropping them.
func (h *PushHandler) Receive(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPushBody))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to read push body")
		http.Error(w, "Failed to read push body", http.StatusBadRequest)
		return
	}
	h.worker.Deliver(raw)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *PushHandler) Click(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if id == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}
	h.worker.Click(id)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *PushHandler) Action(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if id == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}
	var req struct {
		ActionID   string `json:"action_id"`
		InputValue string `json:"input_value"`
	}
	if err := decodeJSON(r, &req); err != nil || strings.TrimSpace(req.ActionID) == "" {
		http.Error(w, "Action ID is required", http.StatusBadRequest)
		return
	}
	h.worker.ActionClick(id, req.ActionID, req.InputValue)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (h *PushHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if id == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}
	var req struct {
		Tag string `json:"tag"`
	}
	_ = decodeJSON(r, &req)
	h.worker.Closed(id, req.Tag)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}
