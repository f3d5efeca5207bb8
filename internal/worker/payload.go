package worker

import (
	"encoding/json"
	"strings"

	"github.com/fernwood/pushcenter/internal/models"
)

// PushPayload is the wire shape the delivery server encrypts into a push.
type PushPayload struct {
	Title    string       `json:"title,omitempty"`
	Body     string       `json:"body,omitempty"`
	Icon     string       `json:"icon,omitempty"`
	Badge    string       `json:"badge,omitempty"`
	Image    string       `json:"image,omitempty"`
	Tag      string       `json:"tag,omitempty"`
	Data     *PushData    `json:"data,omitempty"`
	Actions  []PushAction `json:"actions,omitempty"`
	Priority string       `json:"priority,omitempty"`
	Vibrate  []int        `json:"vibrate,omitempty"`
	Silent   bool         `json:"silent,omitempty"`
}

type PushData struct {
	ID          string            `json:"id,omitempty"`
	Type        string            `json:"type,omitempty"`
	ClickAction string            `json:"clickAction,omitempty"`
	TemplateID  string            `json:"templateId,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Payload     json.RawMessage   `json:"payload,omitempty"`
}

type PushAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
	Icon   string `json:"icon,omitempty"`
}

// decodePayload parses a raw push. A malformed payload never drops the
// event: the second return is false and the caller substitutes the generic
// fallback content.
func decodePayload(raw []byte) (PushPayload, bool) {
	var payload PushPayload
	if len(raw) == 0 {
		return PushPayload{}, false
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PushPayload{}, false
	}
	return payload, true
}

// resolveType coerces the payload's type to the closed set; anything
// unknown becomes a system notification.
func resolveType(p PushPayload) models.NotificationType {
	if p.Data != nil {
		t := models.NotificationType(strings.ToLower(strings.TrimSpace(p.Data.Type)))
		if t.Valid() {
			return t
		}
	}
	return models.NotificationTypeSystem
}

func resolvePriority(p PushPayload) models.NotificationPriority {
	switch models.NotificationPriority(strings.ToLower(strings.TrimSpace(p.Priority))) {
	case models.PriorityLow:
		return models.PriorityLow
	case models.PriorityHigh:
		return models.PriorityHigh
	case models.PriorityUrgent:
		return models.PriorityUrgent
	default:
		return models.PriorityNormal
	}
}

// actionVerb maps a payload action id onto a known verb, defaulting to
// custom for anything the closed set does not name.
func actionVerb(id string) models.ActionVerb {
	switch models.ActionVerb(strings.ToLower(strings.TrimSpace(id))) {
	case models.VerbReply:
		return models.VerbReply
	case models.VerbLike:
		return models.VerbLike
	case models.VerbView:
		return models.VerbView
	case models.VerbShare:
		return models.VerbShare
	case models.VerbDismiss:
		return models.VerbDismiss
	default:
		return models.VerbCustom
	}
}
