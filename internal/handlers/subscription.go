package handlers

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/coordinator"
)

type SubscriptionHandler struct {
	coord *coordinator.Coordinator
	// serverKey is the delivery server's public key configured at startup;
	// a request may override it.
	serverKey string
	logger    zerolog.Logger
}

func NewSubscriptionHandler(coord *coordinator.Coordinator, serverKey string, logger zerolog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		coord:     coord,
		serverKey: serverKey,
		logger:    logger.With().Str("handler", "subscription").Logger(),
	}
}

func (h *SubscriptionHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.coord.Snapshot())
}

func (h *SubscriptionHandler) RequestPermission(w http.ResponseWriter, r *http.Request) {
	state := h.coord.RequestPermission(r.Context())
	snapshot := h.coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"permission": state,
		"last_error": snapshot.LastError,
	})
}

func (h *SubscriptionHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerKey string `json:"server_key"`
	}
	_ = decodeJSON(r, &req)
	key := strings.TrimSpace(req.ServerKey)
	if key == "" {
		key = h.serverKey
	}

	sub := h.coord.Subscribe(r.Context(), key)
	snapshot := h.coord.Snapshot()
	if sub == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"subscription": nil,
			"permission":   snapshot.Permission,
			"last_error":   snapshot.LastError,
		})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"subscription": sub,
		"permission":   snapshot.Permission,
		"last_error":   snapshot.LastError,
	})
}

func (h *SubscriptionHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	ok := h.coord.Unsubscribe(r.Context())
	writeJSON(w, http.StatusOK, map[string]bool{"unsubscribed": ok})
}
