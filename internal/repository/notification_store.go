package repository

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/models"
)

// NotificationStore keeps notification records in the notifications
// namespace, one JSON value per record id. Saving an existing id replaces
// the stored record, so a re-delivered push upserts instead of appending.
type NotificationStore struct {
	repo   Repository
	limit  int
	logger zerolog.Logger
}

// NewNotificationStore caps the store at limit records (0 means unlimited).
// When the cap is hit the oldest record of the lowest present priority is
// evicted to make room.
func NewNotificationStore(repo Repository, limit int, logger zerolog.Logger) *NotificationStore {
	return &NotificationStore{
		repo:   repo,
		limit:  limit,
		logger: logger.With().Str("component", "notification_store").Logger(),
	}
}

func (s *NotificationStore) Save(ctx context.Context, rec models.NotificationRecord) error {
	if rec.ID == "" {
		return errors.New("notification id is required")
	}
	if s.limit > 0 {
		if _, err := s.repo.Get(ctx, NamespaceNotifications, rec.ID); errors.Is(err, ErrNotFound) {
			if err := s.evictIfFull(ctx); err != nil {
				return err
			}
		}
	}

	value, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "marshal notification record")
	}
	if err := s.repo.Put(ctx, NamespaceNotifications, rec.ID, value); err != nil {
		if !errors.Is(err, ErrQuotaExceeded) {
			return err
		}
		// Backing store enforces its own cap; evict and retry once.
		if err := s.evict(ctx); err != nil {
			return err
		}
		return s.repo.Put(ctx, NamespaceNotifications, rec.ID, value)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (models.NotificationRecord, error) {
	value, err := s.repo.Get(ctx, NamespaceNotifications, id)
	if err != nil {
		return models.NotificationRecord{}, err
	}
	var rec models.NotificationRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return models.NotificationRecord{}, errors.Wrap(err, "unmarshal notification record")
	}
	return rec, nil
}

// List returns all records newest first.
func (s *NotificationStore) List(ctx context.Context) ([]models.NotificationRecord, error) {
	values, err := s.repo.List(ctx, NamespaceNotifications)
	if err != nil {
		return nil, err
	}
	records := make([]models.NotificationRecord, 0, len(values))
	for key, value := range values {
		var rec models.NotificationRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("skipping undecodable notification record")
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, NamespaceNotifications, id)
}

func (s *NotificationStore) DeleteAll(ctx context.Context) error {
	values, err := s.repo.List(ctx, NamespaceNotifications)
	if err != nil {
		return err
	}
	for key := range values {
		if err := s.repo.Delete(ctx, NamespaceNotifications, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *NotificationStore) UnreadCount(ctx context.Context) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for i := range records {
		if records[i].Unread() {
			count++
		}
	}
	return count, nil
}

func (s *NotificationStore) evictIfFull(ctx context.Context) error {
	records, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(records) < s.limit {
		return nil
	}
	return s.evictFrom(ctx, records)
}

func (s *NotificationStore) evict(ctx context.Context) error {
	records, err := s.List(ctx)
	if err != nil {
		return err
	}
	return s.evictFrom(ctx, records)
}

// evictFrom drops the oldest record of the lowest priority present.
func (s *NotificationStore) evictFrom(ctx context.Context, records []models.NotificationRecord) error {
	if len(records) == 0 {
		return errors.Wrap(ErrQuotaExceeded, "nothing to evict")
	}
	victim := records[len(records)-1]
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Priority.Rank() < victim.Priority.Rank() {
			victim = records[i]
		}
	}
	s.logger.Warn().
		Str("notification_id", victim.ID).
		Str("priority", string(victim.Priority)).
		Msg("store quota exceeded, evicting oldest low-priority record")
	return s.repo.Delete(ctx, NamespaceNotifications, victim.ID)
}
