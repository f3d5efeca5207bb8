package models

import (
	"encoding/json"
	"time"
)

type NotificationType string

const (
	NotificationTypeMessage  NotificationType = "message"
	NotificationTypeAlert    NotificationType = "alert"
	NotificationTypeReminder NotificationType = "reminder"
	NotificationTypeSocial   NotificationType = "social"
	NotificationTypeSystem   NotificationType = "system"
)

// KnownNotificationTypes is the closed set of record types. Payloads carrying
// anything else are coerced to NotificationTypeSystem at the decode boundary.
var KnownNotificationTypes = []NotificationType{
	NotificationTypeMessage,
	NotificationTypeAlert,
	NotificationTypeReminder,
	NotificationTypeSocial,
	NotificationTypeSystem,
}

func (t NotificationType) Valid() bool {
	for _, known := range KnownNotificationTypes {
		if t == known {
			return true
		}
	}
	return false
}

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Rank orders priorities for eviction decisions; higher ranks survive longer.
func (p NotificationPriority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusSent      NotificationStatus = "sent"
	StatusDelivered NotificationStatus = "delivered"
	StatusRead      NotificationStatus = "read"
	StatusFailed    NotificationStatus = "failed"
)

// statusOrder encodes the delivery pipeline pending→sent→delivered→{read,failed}.
var statusOrder = map[NotificationStatus]int{
	StatusPending:   0,
	StatusSent:      1,
	StatusDelivered: 2,
	StatusRead:      3,
	StatusFailed:    3,
}

// CanAdvance reports whether moving from s to next is a forward move along the
// pipeline. read and failed are terminal; a status never reverses.
func (s NotificationStatus) CanAdvance(next NotificationStatus) bool {
	from, ok := statusOrder[s]
	if !ok {
		return false
	}
	to, ok := statusOrder[next]
	if !ok {
		return false
	}
	if s == StatusRead || s == StatusFailed {
		return false
	}
	return to > from
}

type ActionVerb string

const (
	VerbReply   ActionVerb = "reply"
	VerbLike    ActionVerb = "like"
	VerbView    ActionVerb = "view"
	VerbShare   ActionVerb = "share"
	VerbDismiss ActionVerb = "dismiss"
	VerbCustom  ActionVerb = "custom"
)

type Action struct {
	ID        string     `json:"id"`
	Label     string     `json:"label"`
	Verb      ActionVerb `json:"verb"`
	TextInput bool       `json:"text_input,omitempty"`
}

type NotificationRecord struct {
	ID          string               `json:"id"`
	OwnerID     string               `json:"owner_id"`
	Type        NotificationType     `json:"type"`
	Priority    NotificationPriority `json:"priority"`
	Status      NotificationStatus   `json:"status"`
	Title       string               `json:"title"`
	Body        string               `json:"body"`
	Icon        string               `json:"icon,omitempty"`
	Image       string               `json:"image,omitempty"`
	Badge       string               `json:"badge,omitempty"`
	Tag         string               `json:"tag,omitempty"`
	ClickTarget string               `json:"click_target,omitempty"`
	Actions     []Action             `json:"actions,omitempty"`
	Payload     json.RawMessage      `json:"payload,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
	ScheduledAt *time.Time           `json:"scheduled_at,omitempty"`
	DeliveredAt *time.Time           `json:"delivered_at,omitempty"`
	ReadAt      *time.Time           `json:"read_at,omitempty"`
	ExpiresAt   *time.Time           `json:"expires_at,omitempty"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// Advance moves the record to next only when the transition is legal, keeping
// the delivered/read timestamps consistent with the status. Pre-existing
// timestamps are never overwritten.
func (n *NotificationRecord) Advance(next NotificationStatus, now time.Time) bool {
	if !n.Status.CanAdvance(next) {
		return false
	}
	n.Status = next
	n.UpdatedAt = now
	switch next {
	case StatusDelivered:
		if n.DeliveredAt == nil {
			t := now
			n.DeliveredAt = &t
		}
	case StatusRead:
		if n.ReadAt == nil {
			t := now
			n.ReadAt = &t
		}
	}
	return true
}

func (n *NotificationRecord) Unread() bool {
	return n.Status != StatusRead && n.Status != StatusFailed
}

func (n *NotificationRecord) Expired(now time.Time) bool {
	return n.ExpiresAt != nil && !now.Before(*n.ExpiresAt)
}
