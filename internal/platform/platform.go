// Package platform defines the boundary to the host notification platform:
// permission prompts, push registration, the notification surface, the badge
// indicator, and window focus. The core is written against these interfaces
// so real platform bindings stay out of scope and tests run hermetically.
package platform

import (
	"context"
	"errors"

	"github.com/fernwood/pushcenter/internal/models"
)

// ErrNotSupported means the capability is missing on this host. Callers
// hide the feature instead of treating this as a blocking error.
var ErrNotSupported = errors.New("platform: push not supported")

type PermissionState string

const (
	PermissionDefault PermissionState = "default"
	PermissionGranted PermissionState = "granted"
	PermissionDenied  PermissionState = "denied"
)

// Registrar drives the platform push service.
type Registrar interface {
	// Supported reports whether push registration exists at all on this host.
	Supported(ctx context.Context) bool
	// Permission returns the current permission state without prompting.
	Permission(ctx context.Context) (PermissionState, error)
	// RequestPermission prompts the user when the state is default. Once
	// resolved it returns the settled state without prompting again.
	RequestPermission(ctx context.Context) (PermissionState, error)
	// Register creates a push registration keyed to the delivery server's
	// public key and returns the endpoint plus platform-generated secrets.
	Register(ctx context.Context, serverKey string) (models.Subscription, error)
	// Deregister tears down the registration for an endpoint.
	Deregister(ctx context.Context, endpoint string) error
}

// ShowOptions carries surfacing hints resolved from payload and preferences.
type ShowOptions struct {
	Silent  bool
	Vibrate []int
	Preview bool
}

// Surface is the host's notification tray/center.
type Surface interface {
	Show(ctx context.Context, rec models.NotificationRecord, opts ShowOptions) error
	Close(ctx context.Context, id string) error
	// Active lists ids currently visible on the surface.
	Active(ctx context.Context) ([]string, error)
	// MaxActions is the platform cap on buttons per notification.
	MaxActions() int
}

// Badger controls the app-level unread indicator.
type Badger interface {
	SetBadge(ctx context.Context, count int) error
	ClearBadge(ctx context.Context) error
}

// Opener focuses an existing foreground context on a click target, or opens
// a new one when none matches.
type Opener interface {
	Focus(ctx context.Context, target string) (bool, error)
	Open(ctx context.Context, target string) error
}
