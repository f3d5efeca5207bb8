package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/coordinator"
)

type NotificationHandler struct {
	coord  *coordinator.Coordinator
	logger zerolog.Logger
}

func NewNotificationHandler(coord *coordinator.Coordinator, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		coord:  coord,
		logger: logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	snapshot := h.coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": snapshot.Notifications,
		"unread_count":  snapshot.UnreadCount,
		"active_ids":    snapshot.ActiveIDs,
	})
}

func (h *NotificationHandler) Show(w http.ResponseWriter, r *http.Request) {
	var input coordinator.NotificationInput
	if err := decodeJSON(r, &input); err != nil {
		http.Error(w, "Invalid notification body", http.StatusBadRequest)
		return
	}
	rec := h.coord.ShowNotification(r.Context(), input)
	if rec == nil {
		// Suppressed or failed; the mirrored state carries any error.
		writeJSON(w, http.StatusOK, map[string]interface{}{"notification": nil})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"notification": rec})
}

func (h *NotificationHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		coordinator.NotificationInput
		At time.Time `json:"at"`
	}
	if err := decodeJSON(r, &req); err != nil || req.At.IsZero() {
		http.Error(w, "Schedule time is required", http.StatusBadRequest)
		return
	}
	id, rec := h.coord.ScheduleNotification(r.Context(), req.NotificationInput, req.At)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"id":           id,
		"notification": rec,
	})
}

func (h *NotificationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if id == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": h.coord.CancelNotification(id)})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if id == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}
	if !h.coord.MarkAsRead(r.Context(), id) {
		http.Error(w, "Notification not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	updated := h.coord.MarkAllAsRead(r.Context())
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (h *NotificationHandler) Clear(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if id == "" {
		http.Error(w, "Notification ID is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": h.coord.ClearNotification(r.Context(), id)})
}

func (h *NotificationHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": h.coord.ClearAllNotifications(r.Context())})
}

func (h *NotificationHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"refreshed": h.coord.RefreshNotifications(r.Context())})
}

func (h *NotificationHandler) Sync(w http.ResponseWriter, r *http.Request) {
	ok := h.coord.SyncWithServer(r.Context())
	snapshot := h.coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"synced":       ok,
		"last_sync_at": snapshot.LastSyncAt,
		"last_error":   snapshot.LastError,
	})
}
