package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/pushcenter/internal/models"
)

func testRecord(id string, priority models.NotificationPriority, createdAt time.Time) models.NotificationRecord {
	return models.NotificationRecord{
		ID:        id,
		OwnerID:   "owner-1",
		Type:      models.NotificationTypeMessage,
		Priority:  priority,
		Status:    models.StatusDelivered,
		Title:     "title " + id,
		Body:      "body " + id,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewNotificationStore(NewMemory(), 0, zerolog.Nop())

	created := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	read := created.Add(time.Hour)
	rec := testRecord("n1", models.PriorityHigh, created)
	rec.Tag = "thread-42"
	rec.ClickTarget = "/messages/42"
	rec.Actions = []models.Action{{ID: "reply", Label: "Reply", Verb: models.VerbReply, TextInput: true}}
	rec.Payload = json.RawMessage(`{"thread":42}`)
	rec.ReadAt = &read
	rec.Status = models.StatusRead

	require.NoError(t, store.Save(ctx, rec))
	got, err := store.Get(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, rec, got)
}

func TestSubscriptionRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewSubscriptionStore(NewMemory())

	_, err := store.Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound, "absence on first read is uninitialized, not broken")

	sub := models.Subscription{
		ID:        "s1",
		OwnerID:   "owner-1",
		Endpoint:  "https://push.local/abc",
		P256dhKey: "p256dh-material",
		AuthKey:   "auth-material",
		Platform:  "web",
		CreatedAt: time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC),
		Active:    true,
	}
	require.NoError(t, store.Save(ctx, sub))
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, sub, got)

	require.NoError(t, store.Delete(ctx))
	_, err = store.Get(ctx)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPreferencesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewPreferenceStore(NewMemory())

	// Uninitialized state yields defaults.
	got, err := store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultPreferences(), got)

	prefs := models.DefaultPreferences()
	prefs.QuietHours = models.QuietHours{Enabled: true, Start: "22:00", End: "06:00"}
	prefs.Badge.MaxCount = 20
	prefs.UpdatedAt = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, prefs))

	got, err = store.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, prefs, got)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewNotificationStore(NewMemory(), 0, zerolog.Nop())

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, testRecord("old", models.PriorityNormal, base)))
	require.NoError(t, store.Save(ctx, testRecord("mid", models.PriorityNormal, base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, testRecord("new", models.PriorityNormal, base.Add(2*time.Minute))))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "new", records[0].ID)
	assert.Equal(t, "mid", records[1].ID)
	assert.Equal(t, "old", records[2].ID)
}

func TestSaveUpsertsByID(t *testing.T) {
	ctx := context.Background()
	store := NewNotificationStore(NewMemory(), 0, zerolog.Nop())

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, testRecord("n1", models.PriorityNormal, base)))

	redelivered := testRecord("n1", models.PriorityNormal, base)
	redelivered.Body = "updated body"
	require.NoError(t, store.Save(ctx, redelivered))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1, "re-delivered id must upsert, not append")
	assert.Equal(t, "updated body", records[0].Body)
}

func TestQuotaEvictsOldestLowestPriority(t *testing.T) {
	ctx := context.Background()
	store := NewNotificationStore(NewMemory(), 3, zerolog.Nop())

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, testRecord("urgent-old", models.PriorityUrgent, base)))
	require.NoError(t, store.Save(ctx, testRecord("low-old", models.PriorityLow, base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, testRecord("low-new", models.PriorityLow, base.Add(2*time.Minute))))

	// Fourth record exceeds the cap; the oldest of the lowest priority goes.
	require.NoError(t, store.Save(ctx, testRecord("normal", models.PriorityNormal, base.Add(3*time.Minute))))

	records, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	ids := []string{records[0].ID, records[1].ID, records[2].ID}
	assert.NotContains(t, ids, "low-old")
	assert.Contains(t, ids, "urgent-old")
	assert.Contains(t, ids, "low-new")
}

func TestUnreadCount(t *testing.T) {
	ctx := context.Background()
	store := NewNotificationStore(NewMemory(), 0, zerolog.Nop())

	base := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)
	read := testRecord("read", models.PriorityNormal, base)
	read.Status = models.StatusRead
	require.NoError(t, store.Save(ctx, read))
	require.NoError(t, store.Save(ctx, testRecord("unread-1", models.PriorityNormal, base.Add(time.Minute))))
	require.NoError(t, store.Save(ctx, testRecord("unread-2", models.PriorityNormal, base.Add(2*time.Minute))))

	count, err := store.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMemoryRepositoryQuota(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryWithLimit("things", 2)

	require.NoError(t, repo.Put(ctx, "things", "a", []byte("1")))
	require.NoError(t, repo.Put(ctx, "things", "b", []byte("2")))
	assert.ErrorIs(t, repo.Put(ctx, "things", "c", []byte("3")), ErrQuotaExceeded)
	// Overwriting an existing key is always allowed.
	require.NoError(t, repo.Put(ctx, "things", "a", []byte("1b")))
	// Other namespaces are not capped.
	require.NoError(t, repo.Put(ctx, "other", "c", []byte("3")))
}
