package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/fernwood/pushcenter/internal/models"
)

// activeSubscriptionKey holds the single active subscription; saving a new
// one supersedes the prior by overwriting it.
const activeSubscriptionKey = "active"

type SubscriptionStore struct {
	repo Repository
}

func NewSubscriptionStore(repo Repository) *SubscriptionStore {
	return &SubscriptionStore{repo: repo}
}

func (s *SubscriptionStore) Save(ctx context.Context, sub models.Subscription) error {
	value, err := json.Marshal(sub)
	if err != nil {
		return errors.Wrap(err, "marshal subscription")
	}
	return s.repo.Put(ctx, NamespaceSubscription, activeSubscriptionKey, value)
}

// Get returns ErrNotFound when no subscription has ever been stored.
func (s *SubscriptionStore) Get(ctx context.Context) (models.Subscription, error) {
	value, err := s.repo.Get(ctx, NamespaceSubscription, activeSubscriptionKey)
	if err != nil {
		return models.Subscription{}, err
	}
	var sub models.Subscription
	if err := json.Unmarshal(value, &sub); err != nil {
		return models.Subscription{}, errors.Wrap(err, "unmarshal subscription")
	}
	return sub, nil
}

func (s *SubscriptionStore) Delete(ctx context.Context) error {
	return s.repo.Delete(ctx, NamespaceSubscription, activeSubscriptionKey)
}
