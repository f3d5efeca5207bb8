package models

import "time"

// Subscription is a push registration handed out by the platform push
// service. The key material is opaque to this process; it is generated by
// the platform and consumed by the delivery server when encrypting pushes.
type Subscription struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Endpoint   string     `json:"endpoint"`
	P256dhKey  string     `json:"p256dh_key"`
	AuthKey    string     `json:"auth_key"`
	Platform   string     `json:"platform"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	Active     bool       `json:"active"`
}
