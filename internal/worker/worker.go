// Package worker is the background delivery context. It runs independently
// of the foreground coordinator, renders incoming pushes onto the platform
// surface, persists them, and reports every user interaction back over the
// message bus.
package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/bus"
	"github.com/fernwood/pushcenter/internal/models"
	"github.com/fernwood/pushcenter/internal/platform"
	"github.com/fernwood/pushcenter/internal/prefs"
	"github.com/fernwood/pushcenter/internal/repository"
	"github.com/fernwood/pushcenter/internal/template"
)

const fallbackBody = "new notification"

// ActionEffects are the outbound side-effect calls for action clicks. All
// of them are best-effort: failures are logged, never retried, and never
// reopen the notification.
type ActionEffects interface {
	Reply(ctx context.Context, rec models.NotificationRecord, text string) error
	React(ctx context.Context, rec models.NotificationRecord, verb models.ActionVerb) error
}

// Reconciler merges local records with the delivery server's view.
type Reconciler interface {
	ReconcileRecords(ctx context.Context, local []models.NotificationRecord) ([]models.NotificationRecord, error)
}

type Config struct {
	AppName     string
	DefaultIcon string
	OwnerID     string
	QueueSize   int
	// EffectTimeout bounds each outbound side-effect call.
	EffectTimeout time.Duration
}

type eventKind int

const (
	eventPush eventKind = iota
	eventClick
	eventAction
	eventClose
	eventCommand
)

type event struct {
	kind     eventKind
	raw      []byte
	id       string
	tag      string
	actionID string
	input    string
	cmd      bus.Message
}

type Worker struct {
	cfg      Config
	store    *repository.NotificationStore
	prefs    *prefs.Engine
	renderer *template.Renderer
	surface  platform.Surface
	badger   platform.Badger
	opener   platform.Opener
	bus      *bus.Bus
	effects  ActionEffects
	sync     Reconciler
	logger   zerolog.Logger

	events chan event
	now    func() time.Time
}

func New(cfg Config, store *repository.NotificationStore, engine *prefs.Engine, renderer *template.Renderer,
	surface platform.Surface, badger platform.Badger, opener platform.Opener, b *bus.Bus,
	effects ActionEffects, sync Reconciler, logger zerolog.Logger) *Worker {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.EffectTimeout <= 0 {
		cfg.EffectTimeout = 10 * time.Second
	}
	if cfg.AppName == "" {
		cfg.AppName = "pushcenter"
	}
	return &Worker{
		cfg:      cfg,
		store:    store,
		prefs:    engine,
		renderer: renderer,
		surface:  surface,
		badger:   badger,
		opener:   opener,
		bus:      b,
		effects:  effects,
		sync:     sync,
		logger:   logger.With().Str("component", "delivery_worker").Logger(),
		events:   make(chan event, cfg.QueueSize),
		now:      time.Now,
	}
}

// Start consumes events until the context is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info().Msg("delivery worker started")
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("delivery worker stopped")
			return ctx.Err()
		case ev := <-w.events:
			w.dispatch(ctx, ev)
		}
	}
}

// Deliver queues a raw push event for processing.
func (w *Worker) Deliver(raw []byte) {
	copied := make([]byte, len(raw))
	copy(copied, raw)
	w.events <- event{kind: eventPush, raw: copied}
}

// Click reports a plain click on a surfaced notification.
func (w *Worker) Click(id string) {
	w.events <- event{kind: eventClick, id: id}
}

// ActionClick reports a click on a notification action button, with the
// captured text input for reply actions.
func (w *Worker) ActionClick(notificationID, actionID, input string) {
	w.events <- event{kind: eventAction, id: notificationID, actionID: actionID, input: input}
}

// Closed reports a notification dismissed without a click.
func (w *Worker) Closed(id, tag string) {
	w.events <- event{kind: eventClose, id: id, tag: tag}
}

// Send queues a foreground→worker command message.
func (w *Worker) Send(msg bus.Message) {
	w.events <- event{kind: eventCommand, cmd: msg}
}

func (w *Worker) dispatch(ctx context.Context, ev event) {
	switch ev.kind {
	case eventPush:
		w.handlePush(ctx, ev.raw)
	case eventClick:
		w.handleClick(ctx, ev.id)
	case eventAction:
		w.handleAction(ctx, ev.id, ev.actionID, ev.input)
	case eventClose:
		w.handleClose(ev.id, ev.tag)
	case eventCommand:
		w.handleCommand(ctx, ev.cmd)
	}
}

func (w *Worker) handlePush(ctx context.Context, raw []byte) {
	now := w.now().UTC()
	payload, decoded := decodePayload(raw)
	if !decoded {
		w.logger.Warn().Int("bytes", len(raw)).Msg("undecodable push payload, using fallback content")
		payload = PushPayload{Title: w.cfg.AppName, Body: fallbackBody, Icon: w.cfg.DefaultIcon}
	}

	notifType := resolveType(payload)
	priority := resolvePriority(payload)

	title, body := payload.Title, payload.Body
	actions := w.payloadActions(payload)
	if payload.Data != nil && payload.Data.TemplateID != "" {
		rendered, err := w.renderer.Render(payload.Data.TemplateID, payload.Data.Variables)
		if err != nil {
			w.logger.Warn().Err(err).Str("template_id", payload.Data.TemplateID).
				Msg("template render failed, falling back to literal content")
		} else {
			title, body = rendered.Title, rendered.Body
			if rendered.Priority != "" && payload.Priority == "" {
				priority = rendered.Priority
			}
			if len(actions) == 0 {
				actions = rendered.Actions
			}
		}
	}
	if title == "" {
		title = w.cfg.AppName
	}
	if body == "" {
		body = fallbackBody
	}

	rec := w.upsertRecord(ctx, payload, notifType, priority, title, body, actions, now)

	display := w.prefs.MayDisplay(ctx, notifType, priority, now)
	surfaced := false
	if display {
		if err := w.show(ctx, rec, payload); err != nil {
			w.logger.Error().Err(err).Str("notification_id", rec.ID).Msg("failed to surface notification")
		} else {
			surfaced = true
		}
	} else {
		w.logger.Debug().Str("notification_id", rec.ID).Msg("delivery suppressed by preferences, persisted only")
	}

	w.updateBadge(ctx)
	w.bus.Publish(bus.NewMessage(bus.MsgNotificationReceived, bus.ReceivedData{Notification: rec, Surfaced: surfaced}))
}

// upsertRecord treats the payload id as an idempotency key: a re-delivered
// push updates the stored record instead of appending a duplicate, and
// never regresses a status that already advanced.
func (w *Worker) upsertRecord(ctx context.Context, payload PushPayload, notifType models.NotificationType,
	priority models.NotificationPriority, title, body string, actions []models.Action, now time.Time) models.NotificationRecord {

	id := ""
	var clickTarget string
	var opaque json.RawMessage
	if payload.Data != nil {
		id = payload.Data.ID
		clickTarget = payload.Data.ClickAction
		opaque = payload.Data.Payload
	}
	if id == "" {
		id = uuid.NewString()
	}

	rec, err := w.store.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		rec = models.NotificationRecord{
			ID:        id,
			OwnerID:   w.cfg.OwnerID,
			Status:    models.StatusPending,
			CreatedAt: now,
		}
	} else if err != nil {
		w.logger.Error().Err(err).Str("notification_id", id).Msg("failed to load existing record, rebuilding")
		rec = models.NotificationRecord{ID: id, OwnerID: w.cfg.OwnerID, Status: models.StatusPending, CreatedAt: now}
	}

	rec.Type = notifType
	rec.Priority = priority
	rec.Title = title
	rec.Body = body
	rec.Icon = payload.Icon
	rec.Image = payload.Image
	rec.Badge = payload.Badge
	rec.Tag = payload.Tag
	rec.ClickTarget = clickTarget
	rec.Actions = actions
	rec.Payload = opaque
	rec.UpdatedAt = now
	rec.Advance(models.StatusDelivered, now)

	if err := w.store.Save(ctx, rec); err != nil {
		w.logger.Error().Err(err).Str("notification_id", rec.ID).Msg("failed to persist delivered record")
	}
	return rec
}

func (w *Worker) payloadActions(payload PushPayload) []models.Action {
	if len(payload.Actions) == 0 {
		return nil
	}
	actions := make([]models.Action, 0, len(payload.Actions))
	for _, a := range payload.Actions {
		verb := actionVerb(a.Action)
		actions = append(actions, models.Action{
			ID:        a.Action,
			Label:     a.Title,
			Verb:      verb,
			TextInput: verb == models.VerbReply,
		})
	}
	return actions
}

func (w *Worker) show(ctx context.Context, rec models.NotificationRecord, payload PushPayload) error {
	current := w.prefs.Current(ctx)
	tp := current.TypePreferenceFor(rec.Type)

	shown := rec
	if !tp.ActionsAllowed {
		shown.Actions = nil
	}
	shown.Actions = capActions(shown.Actions, w.surface.MaxActions())
	if !tp.Preview {
		shown.Body = ""
	}

	opts := platform.ShowOptions{
		Silent:  payload.Silent || !tp.Sound,
		Preview: tp.Preview,
	}
	if tp.Vibration {
		opts.Vibrate = payload.Vibrate
	}
	return w.surface.Show(ctx, shown, opts)
}

// capActions truncates to the platform maximum, replacing the tail with an
// overflow indicator when anything was cut.
func capActions(actions []models.Action, max int) []models.Action {
	if max <= 0 || len(actions) <= max {
		return actions
	}
	capped := append([]models.Action(nil), actions[:max-1]...)
	return append(capped, models.Action{ID: "_overflow", Label: "More…", Verb: models.VerbView})
}

func (w *Worker) handleClick(ctx context.Context, id string) {
	rec, err := w.store.Get(ctx, id)
	if err != nil {
		w.logger.Warn().Err(err).Str("notification_id", id).Msg("click on unknown notification")
	}
	if err := w.surface.Close(ctx, id); err != nil {
		w.logger.Warn().Err(err).Str("notification_id", id).Msg("failed to close surfaced notification")
	}

	w.bus.Publish(bus.NewMessage(bus.MsgNotificationClicked, bus.ClickedData{ID: id, ClickTarget: rec.ClickTarget}))
	w.focusOrOpen(ctx, rec.ClickTarget)
}

func (w *Worker) focusOrOpen(ctx context.Context, target string) {
	if target == "" {
		target = "/"
	}
	focused, err := w.opener.Focus(ctx, target)
	if err != nil {
		w.logger.Warn().Err(err).Str("target", target).Msg("failed to focus foreground context")
	}
	if focused {
		return
	}
	if err := w.opener.Open(ctx, target); err != nil {
		w.logger.Warn().Err(err).Str("target", target).Msg("failed to open foreground context")
	}
}

func (w *Worker) handleAction(ctx context.Context, notificationID, actionID, input string) {
	// The action-clicked broadcast goes out even when the record is gone;
	// foreground contexts still learn about the interaction.
	defer w.bus.Publish(bus.NewMessage(bus.MsgActionClicked, bus.ActionClickedData{
		ActionID:       actionID,
		NotificationID: notificationID,
		InputValue:     input,
	}))

	rec, err := w.store.Get(ctx, notificationID)
	if err != nil {
		w.logger.Warn().Err(err).Str("notification_id", notificationID).Msg("action click on unknown notification")
		return
	}

	verb := models.VerbCustom
	for _, a := range rec.Actions {
		if a.ID == actionID {
			verb = a.Verb
			break
		}
	}

	// Closure never waits on the side-effect call.
	if err := w.surface.Close(ctx, notificationID); err != nil {
		w.logger.Warn().Err(err).Str("notification_id", notificationID).Msg("failed to close surfaced notification")
	}

	switch verb {
	case models.VerbReply:
		w.runEffect(rec.ID, "reply", func(effectCtx context.Context) error {
			return w.effects.Reply(effectCtx, rec, input)
		})
	case models.VerbLike, models.VerbView, models.VerbShare:
		v := verb
		w.runEffect(rec.ID, string(v), func(effectCtx context.Context) error {
			return w.effects.React(effectCtx, rec, v)
		})
	case models.VerbDismiss:
		// Dismiss is a deliberate no-op beyond closing the surface item.
	default:
		// Unknown verb falls back to plain-click navigation.
		w.bus.Publish(bus.NewMessage(bus.MsgNotificationClicked, bus.ClickedData{ID: rec.ID, ClickTarget: rec.ClickTarget}))
		w.focusOrOpen(ctx, rec.ClickTarget)
	}
}

// runEffect fires a side-effect call in the background with its own
// timeout. Failures are logged and never retried.
func (w *Worker) runEffect(notificationID, name string, fn func(context.Context) error) {
	if w.effects == nil {
		return
	}
	go func() {
		effectCtx, cancel := context.WithTimeout(context.Background(), w.cfg.EffectTimeout)
		defer cancel()
		if err := fn(effectCtx); err != nil {
			w.logger.Warn().Err(err).
				Str("notification_id", notificationID).
				Str("effect", name).
				Msg("action side effect failed")
		}
	}()
}

func (w *Worker) handleClose(id, tag string) {
	w.bus.Publish(bus.NewMessage(bus.MsgNotificationClosed, bus.ClosedData{ID: id, Tag: tag}))
}

func (w *Worker) handleCommand(ctx context.Context, msg bus.Message) {
	switch msg.Type {
	case bus.MsgClearBadge:
		if err := w.badger.ClearBadge(ctx); err != nil {
			w.logger.Warn().Err(err).Msg("failed to clear badge")
		}
	case bus.MsgUpdateBadge:
		var data bus.BadgeData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			w.logger.Warn().Err(err).Msg("malformed update-badge command")
			return
		}
		w.applyBadge(ctx, data.Count)
	case bus.MsgSyncNotifications:
		w.runSync(ctx)
	case bus.MsgSkipWaiting:
		w.logger.Debug().Msg("skip-waiting acknowledged")
	default:
		w.logger.Warn().Str("type", string(msg.Type)).Msg("unexpected command message")
	}
}

func (w *Worker) runSync(ctx context.Context) {
	if w.sync == nil {
		w.bus.Publish(bus.NewMessage(bus.MsgSyncCompleted, bus.SyncCompletedData{Error: "no delivery server configured"}))
		return
	}
	local, err := w.store.List(ctx)
	if err != nil {
		w.bus.Publish(bus.NewMessage(bus.MsgSyncCompleted, bus.SyncCompletedData{Error: err.Error()}))
		return
	}
	merged, err := w.sync.ReconcileRecords(ctx, local)
	if err != nil {
		w.logger.Warn().Err(err).Msg("server reconciliation failed")
		w.bus.Publish(bus.NewMessage(bus.MsgSyncCompleted, bus.SyncCompletedData{Error: err.Error()}))
		return
	}

	synced, failed := 0, 0
	for _, remote := range merged {
		existing, err := w.store.Get(ctx, remote.ID)
		if err == nil && existing.UpdatedAt.After(remote.UpdatedAt) {
			continue // local write is newer; last write wins
		}
		if err := w.store.Save(ctx, remote); err != nil {
			failed++
			continue
		}
		synced++
	}
	w.updateBadge(ctx)
	w.bus.Publish(bus.NewMessage(bus.MsgSyncCompleted, bus.SyncCompletedData{Synced: synced, Failed: failed}))
}

func (w *Worker) updateBadge(ctx context.Context) {
	unread, err := w.store.UnreadCount(ctx)
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to compute unread count")
		return
	}
	w.applyBadge(ctx, unread)
}

func (w *Worker) applyBadge(ctx context.Context, unread int) {
	count := w.prefs.Badge(ctx, unread)
	var err error
	if count == 0 {
		err = w.badger.ClearBadge(ctx)
	} else {
		err = w.badger.SetBadge(ctx, count)
	}
	if err != nil {
		w.logger.Warn().Err(err).Msg("failed to update badge")
	}
}
