// Package coordinator is the foreground facade over the notification core.
// It mirrors permission, subscription, records and unread count in memory,
// delegates to the subscription controller, listens for background worker
// messages, and exposes the operation set consumed by UI layers. Every
// public operation is safe to call concurrently and never blocks on the
// background context.
package coordinator

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/bus"
	"github.com/fernwood/pushcenter/internal/models"
	"github.com/fernwood/pushcenter/internal/platform"
	"github.com/fernwood/pushcenter/internal/prefs"
	"github.com/fernwood/pushcenter/internal/repository"
	"github.com/fernwood/pushcenter/internal/subscription"
)

// Commander sends foreground→worker command messages.
type Commander interface {
	Send(msg bus.Message)
}

// Reconciler merges local records with the delivery server's view.
type Reconciler interface {
	ReconcileRecords(ctx context.Context, local []models.NotificationRecord) ([]models.NotificationRecord, error)
}

// State is the mirrored snapshot handed to UI layers.
type State struct {
	Supported     bool                        `json:"supported"`
	Permission    subscription.State          `json:"permission"`
	Subscription  *models.Subscription        `json:"subscription,omitempty"`
	Notifications []models.NotificationRecord `json:"notifications"`
	UnreadCount   int                         `json:"unread_count"`
	ActiveIDs     []string                    `json:"active_ids"`
	Preferences   models.Preferences          `json:"preferences"`
	LastError     string                      `json:"last_error,omitempty"`
	LastSyncAt    *time.Time                  `json:"last_sync_at,omitempty"`
}

type HintKind string

const (
	HintNavigate HintKind = "navigate"
	HintAction   HintKind = "action"
	HintRefresh  HintKind = "refresh"
)

// Hint tells the consuming UI layer what to do about a worker message.
type Hint struct {
	Kind           HintKind `json:"kind"`
	Target         string   `json:"target,omitempty"`
	NotificationID string   `json:"notification_id,omitempty"`
	ActionID       string   `json:"action_id,omitempty"`
}

// NotificationInput is the partial record accepted by Show/Schedule. Zero
// fields get defaults; the id is always assigned here.
type NotificationInput struct {
	Type        models.NotificationType     `json:"type"`
	Priority    models.NotificationPriority `json:"priority"`
	Title       string                      `json:"title"`
	Body        string                      `json:"body"`
	Icon        string                      `json:"icon,omitempty"`
	Image       string                      `json:"image,omitempty"`
	Tag         string                      `json:"tag,omitempty"`
	ClickTarget string                      `json:"click_target,omitempty"`
	Actions     []models.Action             `json:"actions,omitempty"`
	ExpiresAt   *time.Time                  `json:"expires_at,omitempty"`
}

type Coordinator struct {
	mu         sync.Mutex
	started    bool
	state      State
	controller *subscription.Controller
	store      *repository.NotificationStore
	prefStore  *repository.PreferenceStore
	engine     *prefs.Engine
	surface    platform.Surface
	commander  Commander
	sync       Reconciler
	bus        *bus.Bus
	logger     zerolog.Logger
	ownerID    string

	pending map[string]*pendingSchedule
	hints   chan Hint
	cancel  func()
	now     func() time.Time
}

type pendingSchedule struct {
	timer *time.Timer
	input NotificationInput
	at    time.Time
}

func New(controller *subscription.Controller, store *repository.NotificationStore, prefStore *repository.PreferenceStore,
	engine *prefs.Engine, surface platform.Surface, commander Commander, sync Reconciler, b *bus.Bus,
	ownerID string, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		controller: controller,
		store:      store,
		prefStore:  prefStore,
		engine:     engine,
		surface:    surface,
		commander:  commander,
		sync:       sync,
		bus:        b,
		ownerID:    ownerID,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		pending:    make(map[string]*pendingSchedule),
		hints:      make(chan Hint, 32),
		now:        time.Now,
	}
}

// Start resolves support and permission, loads persisted state, and begins
// listening for worker messages. It must be called before any operation.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return errors.New("coordinator already started")
	}

	c.state.Supported = true
	perm, err := c.controller.Resolve(ctx)
	if errors.Is(err, platform.ErrNotSupported) {
		// Capability missing: the feature is hidden, not broken.
		c.state.Supported = false
	} else if err != nil {
		c.state.LastError = err.Error()
	}
	c.state.Permission = perm

	if sub, ok := c.controller.Subscription(ctx); ok {
		c.state.Subscription = &sub
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.state.LastError = err.Error()
	}
	c.state.Preferences = c.engine.Current(ctx)

	msgs, cancelSub := c.bus.Subscribe(64)
	loopCtx, cancelLoop := context.WithCancel(context.Background())
	c.cancel = func() {
		cancelLoop()
		cancelSub()
	}
	go c.listen(loopCtx, msgs)

	c.started = true
	c.logger.Info().
		Bool("supported", c.state.Supported).
		Str("permission", string(perm)).
		Int("notifications", len(c.state.Notifications)).
		Msg("coordinator started")
	return nil
}

// Stop cancels the message loop and any pending scheduled notifications.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	for id, p := range c.pending {
		p.timer.Stop()
		delete(c.pending, id)
	}
	c.started = false
}

// Hints delivers navigation/action hints derived from worker messages.
func (c *Coordinator) Hints() <-chan Hint {
	return c.hints
}

// Snapshot returns a copy of the mirrored state.
func (c *Coordinator) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Coordinator) snapshotLocked() State {
	out := c.state
	out.Notifications = append([]models.NotificationRecord(nil), c.state.Notifications...)
	out.ActiveIDs = append([]string(nil), c.state.ActiveIDs...)
	if c.state.Subscription != nil {
		sub := *c.state.Subscription
		out.Subscription = &sub
	}
	return out
}

// mustBeStarted guards against use before initialization, which is a
// programmer error rather than a runtime failure.
func (c *Coordinator) mustBeStarted() {
	if !c.started {
		panic("coordinator: operation invoked before Start")
	}
}

func (c *Coordinator) RequestPermission(ctx context.Context) subscription.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	c.state.LastError = ""

	state, err := c.controller.RequestPermission(ctx)
	if err != nil {
		c.state.LastError = err.Error()
	}
	c.state.Permission = state
	return state
}

// Subscribe registers for push and mirrors the resulting subscription.
// Returns nil on failure with the error captured in the mirrored state.
func (c *Coordinator) Subscribe(ctx context.Context, serverKey string) *models.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	c.state.LastError = ""

	sub, err := c.controller.Subscribe(ctx, serverKey)
	if err != nil {
		c.state.LastError = err.Error()
		c.state.Permission = c.controller.State()
		return nil
	}
	c.state.Permission = c.controller.State()
	c.state.Subscription = &sub
	if syncErr := c.controller.LastSyncError(); syncErr != nil {
		c.state.LastError = syncErr.Error()
	}
	return &sub
}

func (c *Coordinator) Unsubscribe(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	c.state.LastError = ""

	ok, err := c.controller.Unsubscribe(ctx)
	if err != nil {
		c.state.LastError = err.Error()
		return false
	}
	c.state.Permission = c.controller.State()
	c.state.Subscription = nil
	return ok
}

// ShowNotification displays a locally-originated notification if permission
// is granted and the type is not suppressed; otherwise it returns nil
// without raising an error.
func (c *Coordinator) ShowNotification(ctx context.Context, input NotificationInput) *models.NotificationRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	return c.showLocked(ctx, input, nil)
}

func (c *Coordinator) showLocked(ctx context.Context, input NotificationInput, scheduledAt *time.Time) *models.NotificationRecord {
	now := c.now().UTC()

	if c.state.Permission != subscription.StateUnsubscribed && c.state.Permission != subscription.StateSubscribed {
		return nil
	}
	// An overdue or late-firing schedule surfaces now; the stored time never
	// predates the record it belongs to.
	if scheduledAt != nil && scheduledAt.Before(now) {
		t := now
		scheduledAt = &t
	}
	notifType := input.Type
	if !notifType.Valid() {
		notifType = models.NotificationTypeSystem
	}
	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !c.engine.MayDisplay(ctx, notifType, priority, now) {
		return nil
	}

	rec := models.NotificationRecord{
		ID:          uuid.NewString(),
		OwnerID:     c.ownerID,
		Type:        notifType,
		Priority:    priority,
		Status:      models.StatusPending,
		Title:       input.Title,
		Body:        input.Body,
		Icon:        input.Icon,
		Image:       input.Image,
		Tag:         input.Tag,
		ClickTarget: input.ClickTarget,
		Actions:     input.Actions,
		CreatedAt:   now,
		ScheduledAt: scheduledAt,
		ExpiresAt:   input.ExpiresAt,
		UpdatedAt:   now,
	}
	rec.Advance(models.StatusSent, now)

	if err := c.store.Save(ctx, rec); err != nil {
		c.state.LastError = err.Error()
		return nil
	}

	if err := c.surface.Show(ctx, rec, platform.ShowOptions{Preview: true}); err != nil {
		// Local display failed: record the failure, return nil, never throw.
		c.logger.Warn().Err(err).Str("notification_id", rec.ID).Msg("local display failed")
		rec.Advance(models.StatusFailed, c.now().UTC())
		if saveErr := c.store.Save(ctx, rec); saveErr != nil {
			c.logger.Error().Err(saveErr).Str("notification_id", rec.ID).Msg("failed to persist failed record")
		}
		c.state.LastError = "send failed"
		c.upsertMirrorLocked(rec)
		return nil
	}

	c.upsertMirrorLocked(rec)
	c.state.ActiveIDs = append(c.state.ActiveIDs, rec.ID)
	c.pushBadgeLocked()
	return &rec
}

// ScheduleNotification defers display until at. A past or current time
// behaves exactly like ShowNotification. The returned id cancels the
// pending notification; the record exists only once it fires.
func (c *Coordinator) ScheduleNotification(ctx context.Context, input NotificationInput, at time.Time) (string, *models.NotificationRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	now := c.now()

	if !at.After(now) {
		scheduled := at.UTC()
		rec := c.showLocked(ctx, input, &scheduled)
		if rec == nil {
			return "", nil
		}
		return rec.ID, rec
	}

	id := uuid.NewString()
	p := &pendingSchedule{input: input, at: at.UTC()}
	p.timer = time.AfterFunc(at.Sub(now), func() {
		c.fireScheduled(id)
	})
	c.pending[id] = p
	return id, nil
}

func (c *Coordinator) fireScheduled(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return // cancelled before firing
	}
	delete(c.pending, id)
	at := p.at
	c.showLocked(context.Background(), p.input, &at)
}

// CancelNotification stops a pending scheduled notification. It is
// synchronous and idempotent: false once fired or unknown, and the record
// of a fired notification is left untouched.
func (c *Coordinator) CancelNotification(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()

	p, ok := c.pending[id]
	if !ok {
		return false
	}
	p.timer.Stop()
	delete(c.pending, id)
	return true
}

func (c *Coordinator) MarkAsRead(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	return c.markReadLocked(ctx, id)
}

func (c *Coordinator) markReadLocked(ctx context.Context, id string) bool {
	rec, err := c.store.Get(ctx, id)
	if err != nil {
		return false
	}
	now := c.now().UTC()
	if rec.Advance(models.StatusRead, now) {
		if err := c.store.Save(ctx, rec); err != nil {
			c.state.LastError = err.Error()
			return false
		}
	}
	c.upsertMirrorLocked(rec)
	c.pushBadgeLocked()
	return true
}

// MarkAllAsRead drives every record to read. Pre-existing readAt values
// are preserved, not overwritten.
func (c *Coordinator) MarkAllAsRead(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()

	records, err := c.store.List(ctx)
	if err != nil {
		c.state.LastError = err.Error()
		return 0
	}
	now := c.now().UTC()
	updated := 0
	for i := range records {
		if !records[i].Advance(models.StatusRead, now) {
			continue
		}
		if err := c.store.Save(ctx, records[i]); err != nil {
			c.state.LastError = err.Error()
			continue
		}
		updated++
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.state.LastError = err.Error()
	}
	c.pushBadgeLocked()
	return updated
}

// ClearNotification removes the record from the store and any active
// surface; platform deregistration is best-effort.
func (c *Coordinator) ClearNotification(ctx context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()

	if err := c.store.Delete(ctx, id); err != nil {
		c.state.LastError = err.Error()
		return false
	}
	if err := c.surface.Close(ctx, id); err != nil {
		c.logger.Warn().Err(err).Str("notification_id", id).Msg("failed to close surfaced notification")
	}
	c.removeMirrorLocked(id)
	c.pushBadgeLocked()
	return true
}

func (c *Coordinator) ClearAllNotifications(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()

	if err := c.store.DeleteAll(ctx); err != nil {
		c.state.LastError = err.Error()
		return false
	}
	for _, id := range c.state.ActiveIDs {
		if err := c.surface.Close(ctx, id); err != nil {
			c.logger.Warn().Err(err).Str("notification_id", id).Msg("failed to close surfaced notification")
		}
	}
	c.state.Notifications = nil
	c.state.ActiveIDs = nil
	c.state.UnreadCount = 0
	c.commander.Send(bus.NewMessage(bus.MsgClearBadge, nil))
	return true
}

// UpdatePreferences merges the patch into the persisted preferences;
// subsequent delivery decisions honor the new policy immediately.
func (c *Coordinator) UpdatePreferences(ctx context.Context, patch models.PreferencesPatch) *models.Preferences {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()
	c.state.LastError = ""

	current, err := c.prefStore.Get(ctx)
	if err != nil {
		c.state.LastError = err.Error()
		return nil
	}
	current.Apply(patch, c.now().UTC())
	if err := c.prefStore.Save(ctx, current); err != nil {
		c.state.LastError = err.Error()
		return nil
	}
	c.state.Preferences = current
	c.pushBadgeLocked()
	return &current
}

// RefreshNotifications reloads the mirror from the store. Returns success,
// never throws.
func (c *Coordinator) RefreshNotifications(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()

	if err := c.reloadLocked(ctx); err != nil {
		c.state.LastError = err.Error()
		return false
	}
	return true
}

// SyncWithServer reconciles with the delivery server, last-write-wins per
// record id. Returns success, never throws.
func (c *Coordinator) SyncWithServer(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mustBeStarted()

	if c.sync == nil {
		c.state.LastError = "no delivery server configured"
		return false
	}
	local, err := c.store.List(ctx)
	if err != nil {
		c.state.LastError = err.Error()
		return false
	}
	merged, err := c.sync.ReconcileRecords(ctx, local)
	if err != nil {
		c.state.LastError = err.Error()
		return false
	}
	for _, remote := range merged {
		existing, err := c.store.Get(ctx, remote.ID)
		if err == nil && existing.UpdatedAt.After(remote.UpdatedAt) {
			continue
		}
		if err := c.store.Save(ctx, remote); err != nil {
			c.state.LastError = err.Error()
		}
	}
	if err := c.reloadLocked(ctx); err != nil {
		c.state.LastError = err.Error()
		return false
	}
	now := c.now().UTC()
	c.state.LastSyncAt = &now
	c.pushBadgeLocked()
	return true
}

func (c *Coordinator) reloadLocked(ctx context.Context) error {
	records, err := c.store.List(ctx)
	if err != nil {
		return err
	}
	c.state.Notifications = records
	unread := 0
	for i := range records {
		if records[i].Unread() {
			unread++
		}
	}
	c.state.UnreadCount = unread
	return nil
}

// upsertMirrorLocked replaces or prepends a record, keeping newest first,
// then recomputes the unread count.
func (c *Coordinator) upsertMirrorLocked(rec models.NotificationRecord) {
	replaced := false
	for i := range c.state.Notifications {
		if c.state.Notifications[i].ID == rec.ID {
			c.state.Notifications[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		c.state.Notifications = append([]models.NotificationRecord{rec}, c.state.Notifications...)
	}
	unread := 0
	for i := range c.state.Notifications {
		if c.state.Notifications[i].Unread() {
			unread++
		}
	}
	c.state.UnreadCount = unread
}

func (c *Coordinator) removeMirrorLocked(id string) {
	for i := range c.state.Notifications {
		if c.state.Notifications[i].ID == id {
			c.state.Notifications = append(c.state.Notifications[:i], c.state.Notifications[i+1:]...)
			break
		}
	}
	for i, active := range c.state.ActiveIDs {
		if active == id {
			c.state.ActiveIDs = append(c.state.ActiveIDs[:i], c.state.ActiveIDs[i+1:]...)
			break
		}
	}
	unread := 0
	for i := range c.state.Notifications {
		if c.state.Notifications[i].Unread() {
			unread++
		}
	}
	c.state.UnreadCount = unread
}

// pushBadgeLocked tells the worker context to re-derive the badge from the
// current unread count.
func (c *Coordinator) pushBadgeLocked() {
	if c.commander == nil {
		return
	}
	if c.state.UnreadCount == 0 {
		c.commander.Send(bus.NewMessage(bus.MsgClearBadge, nil))
		return
	}
	c.commander.Send(bus.NewMessage(bus.MsgUpdateBadge, bus.BadgeData{Count: c.state.UnreadCount}))
}

func (c *Coordinator) listen(ctx context.Context, msgs <-chan bus.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			c.apply(msg)
		}
	}
}

// apply mirrors a worker message into local state and emits a UI hint.
func (c *Coordinator) apply(msg bus.Message) {
	switch msg.Type {
	case bus.MsgNotificationReceived:
		var data bus.ReceivedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn().Err(err).Msg("malformed notification-received message")
			return
		}
		c.mu.Lock()
		c.upsertMirrorLocked(data.Notification)
		if data.Surfaced {
			c.state.ActiveIDs = append(c.state.ActiveIDs, data.Notification.ID)
		}
		c.mu.Unlock()
		c.hint(Hint{Kind: HintRefresh, NotificationID: data.Notification.ID})
	case bus.MsgNotificationClicked:
		var data bus.ClickedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn().Err(err).Msg("malformed notification-clicked message")
			return
		}
		c.mu.Lock()
		c.markReadLocked(context.Background(), data.ID)
		c.removeActiveLocked(data.ID)
		c.mu.Unlock()
		c.hint(Hint{Kind: HintNavigate, Target: data.ClickTarget, NotificationID: data.ID})
	case bus.MsgNotificationClosed:
		var data bus.ClosedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn().Err(err).Msg("malformed notification-closed message")
			return
		}
		c.mu.Lock()
		c.removeActiveLocked(data.ID)
		c.mu.Unlock()
	case bus.MsgActionClicked:
		var data bus.ActionClickedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn().Err(err).Msg("malformed action-clicked message")
			return
		}
		c.mu.Lock()
		c.removeActiveLocked(data.NotificationID)
		c.mu.Unlock()
		c.hint(Hint{Kind: HintAction, NotificationID: data.NotificationID, ActionID: data.ActionID})
	case bus.MsgSyncCompleted:
		var data bus.SyncCompletedData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			c.logger.Warn().Err(err).Msg("malformed sync-completed message")
			return
		}
		c.mu.Lock()
		now := c.now().UTC()
		c.state.LastSyncAt = &now
		if data.Error != "" {
			c.state.LastError = data.Error
		}
		if err := c.reloadLocked(context.Background()); err != nil {
			c.state.LastError = err.Error()
		}
		c.mu.Unlock()
		c.hint(Hint{Kind: HintRefresh})
	}
}

func (c *Coordinator) removeActiveLocked(id string) {
	for i, active := range c.state.ActiveIDs {
		if active == id {
			c.state.ActiveIDs = append(c.state.ActiveIDs[:i], c.state.ActiveIDs[i+1:]...)
			return
		}
	}
}

func (c *Coordinator) hint(h Hint) {
	select {
	case c.hints <- h:
	default:
		// UI layer is not draining hints; the mirror already carries the state.
	}
}
