package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/fernwood/pushcenter/internal/handlers"
	"github.com/fernwood/pushcenter/internal/ws"
)

// NewRouter sets up the API routes
func NewRouter(push *handlers.PushHandler, notif *handlers.NotificationHandler,
	sub *handlers.SubscriptionHandler, prefs *handlers.PreferenceHandler, hub *ws.Hub) *mux.Router {
	router := mux.NewRouter()

	// Health check route
	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	// Platform delivery boundary: pushes and surface interaction callbacks.
	router.HandleFunc("/push", push.Receive).Methods(http.MethodPost)
	router.HandleFunc("/push/{notificationID}/click", push.Click).Methods(http.MethodPost)
	router.HandleFunc("/push/{notificationID}/action", push.Action).Methods(http.MethodPost)
	router.HandleFunc("/push/{notificationID}/close", push.Close).Methods(http.MethodPost)

	// Foreground operation set consumed by UI layers.
	router.HandleFunc("/api/state", sub.State).Methods(http.MethodGet)
	router.HandleFunc("/api/permission", sub.RequestPermission).Methods(http.MethodPost)
	router.HandleFunc("/api/subscribe", sub.Subscribe).Methods(http.MethodPost)
	router.HandleFunc("/api/unsubscribe", sub.Unsubscribe).Methods(http.MethodPost)

	router.HandleFunc("/api/notifications", notif.List).Methods(http.MethodGet)
	router.HandleFunc("/api/notifications", notif.Show).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/schedule", notif.Schedule).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/schedule/{notificationID}", notif.Cancel).Methods(http.MethodDelete)
	router.HandleFunc("/api/notifications/read-all", notif.MarkAllRead).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/refresh", notif.Refresh).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/sync", notif.Sync).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/{notificationID}/read", notif.MarkRead).Methods(http.MethodPost)
	router.HandleFunc("/api/notifications/{notificationID}", notif.Clear).Methods(http.MethodDelete)
	router.HandleFunc("/api/notifications", notif.ClearAll).Methods(http.MethodDelete)

	router.HandleFunc("/api/preferences", prefs.Get).Methods(http.MethodGet)
	router.HandleFunc("/api/preferences", prefs.Patch).Methods(http.MethodPatch)

	// Worker→foreground message stream.
	router.HandleFunc("/ws", hub.Handler).Methods(http.MethodGet)

	return router
}
