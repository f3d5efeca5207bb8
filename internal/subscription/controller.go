// Package subscription drives the permission/subscription state machine
// against the platform push service.
package subscription

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/models"
	"github.com/fernwood/pushcenter/internal/platform"
	"github.com/fernwood/pushcenter/internal/repository"
)

type State string

const (
	StateUnknown      State = "unknown"
	StateDefault      State = "default"
	StateDenied       State = "denied"
	StateUnsubscribed State = "granted-unsubscribed"
	StateSubscribed   State = "granted-subscribed"
)

var (
	// ErrPermissionDenied is terminal until the next startup resolve; the
	// caller must not silently re-prompt.
	ErrPermissionDenied = errors.New("subscription: permission denied")
	// ErrSubscriptionFailed covers platform registration rejections. The
	// caller must not auto-retry; only explicit user action may.
	ErrSubscriptionFailed = errors.New("subscription: registration failed")
)

// ServerSync uploads subscription changes to the remote delivery server.
// Failures are recorded, never fatal.
type ServerSync interface {
	UploadSubscription(ctx context.Context, sub models.Subscription) error
	RemoveSubscription(ctx context.Context, endpoint string) error
}

type Controller struct {
	mu        sync.Mutex
	state     State
	registrar platform.Registrar
	store     *repository.SubscriptionStore
	sync      ServerSync
	ownerID   string
	platform  string
	logger    zerolog.Logger

	lastSyncErr error
	now         func() time.Time
}

func NewController(registrar platform.Registrar, store *repository.SubscriptionStore, sync ServerSync, ownerID, platformTag string, logger zerolog.Logger) *Controller {
	return &Controller{
		state:     StateUnknown,
		registrar: registrar,
		store:     store,
		sync:      sync,
		ownerID:   ownerID,
		platform:  platformTag,
		logger:    logger.With().Str("component", "subscription_controller").Logger(),
		now:       time.Now,
	}
}

// Resolve settles the initial state by querying the platform and the stored
// subscription. It is the only path out of denied.
func (c *Controller) Resolve(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.registrar.Supported(ctx) {
		c.state = StateUnknown
		return c.state, platform.ErrNotSupported
	}

	perm, err := c.registrar.Permission(ctx)
	if err != nil {
		return c.state, errors.Wrap(err, "query platform permission")
	}
	switch perm {
	case platform.PermissionDenied:
		c.state = StateDenied
	case platform.PermissionGranted:
		c.state = StateUnsubscribed
		if sub, err := c.store.Get(ctx); err == nil && sub.Active {
			c.state = StateSubscribed
		}
	default:
		c.state = StateDefault
	}
	return c.state, nil
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestPermission prompts only from the default state. Once resolved the
// settled state is returned without prompting again; denied stays denied
// until the next Resolve.
func (c *Controller) RequestPermission(ctx context.Context) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateDenied:
		return c.state, ErrPermissionDenied
	case StateUnsubscribed, StateSubscribed:
		return c.state, nil
	}

	perm, err := c.registrar.RequestPermission(ctx)
	if err != nil {
		if errors.Is(err, platform.ErrNotSupported) {
			return c.state, err
		}
		return c.state, errors.Wrap(err, "request platform permission")
	}
	switch perm {
	case platform.PermissionGranted:
		c.state = StateUnsubscribed
		return c.state, nil
	case platform.PermissionDenied:
		c.state = StateDenied
		return c.state, ErrPermissionDenied
	default:
		c.state = StateDefault
		return c.state, nil
	}
}

// Subscribe registers with the platform push service, persists the derived
// Subscription superseding any prior one, and uploads it to the delivery
// server best-effort. Legal from granted-unsubscribed and, as a
// re-subscribe, from granted-subscribed.
func (c *Controller) Subscribe(ctx context.Context, serverKey string) (models.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateUnsubscribed, StateSubscribed:
	case StateDenied:
		return models.Subscription{}, ErrPermissionDenied
	default:
		return models.Subscription{}, errors.Wrapf(ErrSubscriptionFailed, "cannot subscribe from state %s", c.state)
	}

	registered, err := c.registrar.Register(ctx, serverKey)
	if err != nil {
		c.logger.Error().Err(err).Msg("platform registration rejected")
		return models.Subscription{}, errors.Wrap(ErrSubscriptionFailed, err.Error())
	}

	sub := registered
	sub.ID = uuid.NewString()
	sub.OwnerID = c.ownerID
	sub.Platform = c.platform
	sub.Active = true
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = c.now().UTC()
	}

	// Exactly one active subscription per (owner, platform): deregister the
	// superseded endpoint before overwriting the stored record.
	if prior, err := c.store.Get(ctx); err == nil && prior.Active && prior.Endpoint != sub.Endpoint {
		if err := c.registrar.Deregister(ctx, prior.Endpoint); err != nil {
			c.logger.Warn().Err(err).Msg("failed to deregister superseded subscription")
		}
	}

	if err := c.store.Save(ctx, sub); err != nil {
		return models.Subscription{}, errors.Wrap(err, "persist subscription")
	}
	c.state = StateSubscribed

	// Transport failure is a sync error, not a subscribe failure.
	c.lastSyncErr = nil
	if c.sync != nil {
		if err := c.sync.UploadSubscription(ctx, sub); err != nil {
			c.lastSyncErr = err
			c.logger.Warn().Err(err).Msg("failed to upload subscription to delivery server")
		}
	}
	return sub, nil
}

// Unsubscribe deregisters and deletes the local subscription. Calling it
// with nothing active succeeds as a no-op.
func (c *Controller) Unsubscribe(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub, err := c.store.Get(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		if c.state == StateSubscribed {
			c.state = StateUnsubscribed
		}
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "load subscription")
	}

	if err := c.registrar.Deregister(ctx, sub.Endpoint); err != nil {
		c.logger.Warn().Err(err).Msg("platform deregistration failed")
	}
	if c.sync != nil {
		if err := c.sync.RemoveSubscription(ctx, sub.Endpoint); err != nil {
			c.lastSyncErr = err
			c.logger.Warn().Err(err).Msg("failed to remove subscription from delivery server")
		}
	}
	if err := c.store.Delete(ctx); err != nil {
		return false, errors.Wrap(err, "delete subscription")
	}
	if c.state == StateSubscribed {
		c.state = StateUnsubscribed
	}
	return true, nil
}

// Subscription returns the stored active subscription, if any.
func (c *Controller) Subscription(ctx context.Context) (models.Subscription, bool) {
	sub, err := c.store.Get(ctx)
	if err != nil || !sub.Active {
		return models.Subscription{}, false
	}
	return sub, true
}

// LastSyncError reports the most recent best-effort server upload failure.
func (c *Controller) LastSyncError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSyncErr
}
