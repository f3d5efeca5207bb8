package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/pushcenter/internal/bus"
	"github.com/fernwood/pushcenter/internal/models"
	"github.com/fernwood/pushcenter/internal/platform"
	"github.com/fernwood/pushcenter/internal/prefs"
	"github.com/fernwood/pushcenter/internal/repository"
	"github.com/fernwood/pushcenter/internal/template"
)

type recordedEffect struct {
	notificationID string
	verb           models.ActionVerb
	text           string
}

type fakeEffects struct {
	mu      sync.Mutex
	done    chan struct{}
	effects []recordedEffect
}

func newFakeEffects() *fakeEffects {
	return &fakeEffects{done: make(chan struct{}, 8)}
}

func (f *fakeEffects) Reply(_ context.Context, rec models.NotificationRecord, text string) error {
	f.mu.Lock()
	f.effects = append(f.effects, recordedEffect{notificationID: rec.ID, verb: models.VerbReply, text: text})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeEffects) React(_ context.Context, rec models.NotificationRecord, verb models.ActionVerb) error {
	f.mu.Lock()
	f.effects = append(f.effects, recordedEffect{notificationID: rec.ID, verb: verb})
	f.mu.Unlock()
	f.done <- struct{}{}
	return nil
}

func (f *fakeEffects) recorded() []recordedEffect {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedEffect(nil), f.effects...)
}

type fakeReconciler struct {
	merged []models.NotificationRecord
	err    error
}

func (f *fakeReconciler) ReconcileRecords(_ context.Context, _ []models.NotificationRecord) ([]models.NotificationRecord, error) {
	return f.merged, f.err
}

type workerFixture struct {
	worker    *Worker
	store     *repository.NotificationStore
	prefStore *repository.PreferenceStore
	plat      *platform.Memory
	bus       *bus.Bus
	effects   *fakeEffects
	sync      *fakeReconciler
}

func newFixture(t *testing.T) *workerFixture {
	t.Helper()
	repo := repository.NewMemory()
	store := repository.NewNotificationStore(repo, 0, zerolog.Nop())
	prefStore := repository.NewPreferenceStore(repo)
	engine := prefs.NewEngine(prefStore, zerolog.Nop())
	renderer := template.NewRenderer(template.Defaults()...)
	plat := platform.NewMemory()
	b := bus.New(zerolog.Nop())
	effects := newFakeEffects()
	reconciler := &fakeReconciler{}

	w := New(Config{AppName: "pushcenter", OwnerID: "owner-1"}, store, engine, renderer,
		plat, plat, plat, b, effects, reconciler, zerolog.Nop())
	w.now = func() time.Time { return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC) }
	return &workerFixture{worker: w, store: store, prefStore: prefStore, plat: plat, bus: b, effects: effects, sync: reconciler}
}

func (f *workerFixture) setQuietHours(t *testing.T, start, end string) {
	t.Helper()
	prefs := models.DefaultPreferences()
	prefs.QuietHours = models.QuietHours{Enabled: true, Start: start, End: end}
	require.NoError(t, f.prefStore.Save(context.Background(), prefs))
}

func drain(t *testing.T, ch <-chan bus.Message, want bus.MessageType) bus.Message {
	t.Helper()
	select {
	case msg := <-ch:
		require.Equal(t, want, msg.Type)
		return msg
	default:
		t.Fatalf("expected %s message on bus", want)
		return bus.Message{}
	}
}

func TestPushPersistsAndSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1"}}`))

	rec, err := f.store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, rec.Status)
	assert.Equal(t, "Mom", rec.Title)
	assert.Equal(t, "Hi", rec.Body)
	assert.Equal(t, models.NotificationTypeMessage, rec.Type)
	require.NotNil(t, rec.DeliveredAt)

	shown, ok := f.plat.Shown("n1")
	require.True(t, ok)
	assert.Equal(t, "Mom", shown.Title)
	assert.Equal(t, 1, f.plat.Badge())

	msg := drain(t, ch, bus.MsgNotificationReceived)
	var data bus.ReceivedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.True(t, data.Surfaced)
	assert.Equal(t, "n1", data.Notification.ID)
}

func TestPushDuringQuietHoursIsPersistedNotSurfaced(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.setQuietHours(t, "10:00", "14:00") // fixture clock reads 12:00
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1"}}`))

	rec, err := f.store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, rec.Status, "suppressed deliveries still persist as delivered")

	_, shown := f.plat.Shown("n1")
	assert.False(t, shown)

	msg := drain(t, ch, bus.MsgNotificationReceived)
	var data bus.ReceivedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.False(t, data.Surfaced)
}

func TestUrgentPushBypassesQuietHours(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.setQuietHours(t, "10:00", "14:00")

	f.worker.handlePush(ctx, []byte(`{"title":"Alarm","body":"now","priority":"urgent","data":{"type":"alert","id":"n2"}}`))

	_, shown := f.plat.Shown("n2")
	assert.True(t, shown)
}

func TestMalformedPushFallsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.worker.handlePush(ctx, []byte(`{"title":`))

	records, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1, "a malformed payload is never dropped")
	assert.Equal(t, "pushcenter", records[0].Title)
	assert.Equal(t, "new notification", records[0].Body)
	assert.Equal(t, models.NotificationTypeSystem, records[0].Type)
}

func TestRedeliveredPushUpserts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1"}}`))
	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi again","data":{"type":"message","id":"n1"}}`))

	records, err := f.store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Hi again", records[0].Body)
	assert.Equal(t, models.StatusDelivered, records[0].Status)
}

func TestTemplatePushRendersContent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.worker.handlePush(ctx, []byte(`{"data":{"type":"message","id":"n1","templateId":"message","variables":{"sender":"Mom","text":"dinner at 7?"}}}`))

	rec, err := f.store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Mom", rec.Title)
	assert.Equal(t, "dinner at 7?", rec.Body)
	require.NotEmpty(t, rec.Actions)
}

func TestActionCapAddsOverflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	payload := `{"title":"Busy","body":"pick one","data":{"type":"message","id":"n1"},"actions":[` +
		`{"action":"reply","title":"Reply"},{"action":"like","title":"Like"},` +
		`{"action":"share","title":"Share"},{"action":"view","title":"View"},` +
		`{"action":"archive","title":"Archive"}]}`
	f.worker.handlePush(ctx, []byte(payload))

	// Record keeps the full set; only the surfaced copy is capped.
	rec, err := f.store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Len(t, rec.Actions, 5)

	shown, ok := f.plat.Shown("n1")
	require.True(t, ok)
	require.Len(t, shown.Actions, 3)
	assert.Equal(t, "reply", shown.Actions[0].ID)
	assert.Equal(t, "like", shown.Actions[1].ID)
	assert.Equal(t, "_overflow", shown.Actions[2].ID)
}

func TestClickClosesBroadcastsAndNavigates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1","clickAction":"/messages/1"}}`))
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handleClick(ctx, "n1")

	_, shown := f.plat.Shown("n1")
	assert.False(t, shown, "click closes the surfaced notification")

	msg := drain(t, ch, bus.MsgNotificationClicked)
	var data bus.ClickedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "n1", data.ID)
	assert.Equal(t, "/messages/1", data.ClickTarget)

	assert.Contains(t, f.plat.Opened(), "/messages/1")
}

func TestClickWithoutTargetOpensRoot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1"}}`))

	f.worker.handleClick(ctx, "n1")

	assert.Contains(t, f.plat.Opened(), "/")
}

func TestReplyActionRunsEffect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1"},"actions":[{"action":"reply","title":"Reply"}]}`))
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handleAction(ctx, "n1", "reply", "on my way")

	_, shown := f.plat.Shown("n1")
	assert.False(t, shown, "the surface closes without waiting on the effect")

	select {
	case <-f.effects.done:
	case <-time.After(2 * time.Second):
		t.Fatal("reply effect never ran")
	}
	effects := f.effects.recorded()
	require.Len(t, effects, 1)
	assert.Equal(t, models.VerbReply, effects[0].verb)
	assert.Equal(t, "on my way", effects[0].text)

	msg := drain(t, ch, bus.MsgActionClicked)
	var data bus.ActionClickedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "reply", data.ActionID)
	assert.Equal(t, "n1", data.NotificationID)
	assert.Equal(t, "on my way", data.InputValue)
}

func TestLikeActionReacts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.worker.handlePush(ctx, []byte(`{"title":"Post","body":"liked?","data":{"type":"social","id":"n1"},"actions":[{"action":"like","title":"Like"}]}`))

	f.worker.handleAction(ctx, "n1", "like", "")

	select {
	case <-f.effects.done:
	case <-time.After(2 * time.Second):
		t.Fatal("like effect never ran")
	}
	effects := f.effects.recorded()
	require.Len(t, effects, 1)
	assert.Equal(t, models.VerbLike, effects[0].verb)
}

func TestUnknownActionFallsBackToClick(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.worker.handlePush(ctx, []byte(`{"title":"Mom","body":"Hi","data":{"type":"message","id":"n1","clickAction":"/messages/1"}}`))
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handleAction(ctx, "n1", "mystery", "")

	msg := drain(t, ch, bus.MsgNotificationClicked)
	var clicked bus.ClickedData
	require.NoError(t, json.Unmarshal(msg.Data, &clicked))
	assert.Equal(t, "n1", clicked.ID)
	assert.Contains(t, f.plat.Opened(), "/messages/1")

	drain(t, ch, bus.MsgActionClicked)
	assert.Empty(t, f.effects.recorded())
}

func TestActionOnUnknownNotificationStillBroadcasts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handleAction(ctx, "no-such-id", "reply", "hello")

	msg := drain(t, ch, bus.MsgActionClicked)
	var data bus.ActionClickedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "reply", data.ActionID)
	assert.Equal(t, "no-such-id", data.NotificationID)
	assert.Equal(t, "hello", data.InputValue)
	assert.Empty(t, f.effects.recorded())
}

func TestCloseBroadcasts(t *testing.T) {
	f := newFixture(t)
	ch, cancel := f.bus.Subscribe(8)
	defer cancel()

	f.worker.handleClose("n1", "thread-42")

	msg := drain(t, ch, bus.MsgNotificationClosed)
	var data bus.ClosedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, "n1", data.ID)
	assert.Equal(t, "thread-42", data.Tag)
}

func TestSyncCommandReconciles(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	now := f.worker.now()

	local := models.NotificationRecord{
		ID: "n1", Type: models.NotificationTypeMessage, Priority: models.PriorityNormal,
		Status: models.StatusRead, Title: "local", CreatedAt: now, UpdatedAt: now.Add(time.Hour),
	}
	require.NoError(t, f.store.Save(ctx, local))

	remoteStale := local
	remoteStale.Title = "stale remote"
	remoteStale.UpdatedAt = now
	remoteNew := models.NotificationRecord{
		ID: "n2", Type: models.NotificationTypeMessage, Priority: models.PriorityNormal,
		Status: models.StatusDelivered, Title: "remote", CreatedAt: now, UpdatedAt: now,
	}
	f.sync.merged = []models.NotificationRecord{remoteStale, remoteNew}

	ch, cancel := f.bus.Subscribe(8)
	defer cancel()
	f.worker.handleCommand(ctx, bus.NewMessage(bus.MsgSyncNotifications, nil))

	// Last write wins: the newer local record survives, the new remote lands.
	got, err := f.store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "local", got.Title)
	got, err = f.store.Get(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, "remote", got.Title)

	msg := drain(t, ch, bus.MsgSyncCompleted)
	var data bus.SyncCompletedData
	require.NoError(t, json.Unmarshal(msg.Data, &data))
	assert.Equal(t, 1, data.Synced)
	assert.Equal(t, 0, data.Failed)
	assert.Empty(t, data.Error)
}

func TestBadgeCommands(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.worker.handleCommand(ctx, bus.NewMessage(bus.MsgUpdateBadge, bus.BadgeData{Count: 4}))
	assert.Equal(t, 4, f.plat.Badge())

	f.worker.handleCommand(ctx, bus.NewMessage(bus.MsgClearBadge, nil))
	assert.Equal(t, 0, f.plat.Badge())
}
