package repository

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/fernwood/pushcenter/internal/models"
)

const preferencesKey = "current"

type PreferenceStore struct {
	repo Repository
}

func NewPreferenceStore(repo Repository) *PreferenceStore {
	return &PreferenceStore{repo: repo}
}

func (s *PreferenceStore) Save(ctx context.Context, prefs models.Preferences) error {
	value, err := json.Marshal(prefs)
	if err != nil {
		return errors.Wrap(err, "marshal preferences")
	}
	return s.repo.Put(ctx, NamespacePreferences, preferencesKey, value)
}

// Get falls back to DefaultPreferences when nothing has been stored yet;
// first read before any write is a valid uninitialized state.
func (s *PreferenceStore) Get(ctx context.Context) (models.Preferences, error) {
	value, err := s.repo.Get(ctx, NamespacePreferences, preferencesKey)
	if errors.Is(err, ErrNotFound) {
		return models.DefaultPreferences(), nil
	}
	if err != nil {
		return models.Preferences{}, err
	}
	var prefs models.Preferences
	if err := json.Unmarshal(value, &prefs); err != nil {
		return models.Preferences{}, errors.Wrap(err, "unmarshal preferences")
	}
	return prefs, nil
}
