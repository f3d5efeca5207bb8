// Package prefs decides whether and how a notification may be surfaced,
// given the stored preferences and the local clock.
package prefs

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/fernwood/pushcenter/internal/models"
	"github.com/fernwood/pushcenter/internal/repository"
)

// Evaluate is the pure core of the delivery policy:
//
//	enabled ∧ types[type].enabled ∧ (priority == urgent ∨ ¬inQuietHours(now))
//
// Identical (preferences, type, priority, now) always yields the same result.
func Evaluate(p models.Preferences, t models.NotificationType, priority models.NotificationPriority, now time.Time) bool {
	if !p.Enabled {
		return false
	}
	if !p.TypePreferenceFor(t).Enabled {
		return false
	}
	if priority == models.PriorityUrgent {
		return true
	}
	return !InQuietHours(p.QuietHours, now)
}

// InQuietHours reports whether now's local wall-clock time falls inside the
// configured window. A window with start > end wraps midnight:
// [start, 24:00) ∪ [00:00, end). Non-wrapping windows are [start, end).
func InQuietHours(q models.QuietHours, now time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, ok := parseMinutes(q.Start)
	if !ok {
		return false
	}
	end, ok := parseMinutes(q.End)
	if !ok {
		return false
	}
	minute := now.Hour()*60 + now.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// BadgeCount clamps the unread count to the badge policy. Zero means "no
// badge"; disabled badges always clear.
func BadgeCount(policy models.BadgePolicy, unread int) int {
	if !policy.Enabled || unread <= 0 {
		return 0
	}
	if !policy.ShowCount {
		// Indicator only; any positive value lights the badge.
		return 1
	}
	if policy.MaxCount > 0 && unread > policy.MaxCount {
		return policy.MaxCount
	}
	return unread
}

func parseMinutes(hhmm string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(hhmm), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, false
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// Engine loads the current preferences for each decision so policy updates
// take effect on the next delivery without restarts.
type Engine struct {
	store  *repository.PreferenceStore
	logger zerolog.Logger
}

func NewEngine(store *repository.PreferenceStore, logger zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		logger: logger.With().Str("component", "preference_engine").Logger(),
	}
}

// MayDisplay applies Evaluate against the stored preferences. A store
// failure degrades to the defaults rather than dropping the decision.
func (e *Engine) MayDisplay(ctx context.Context, t models.NotificationType, priority models.NotificationPriority, now time.Time) bool {
	prefs, err := e.store.Get(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to load preferences, using defaults")
		prefs = models.DefaultPreferences()
	}
	return Evaluate(prefs, t, priority, now)
}

func (e *Engine) Current(ctx context.Context) models.Preferences {
	prefs, err := e.store.Get(ctx)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to load preferences, using defaults")
		return models.DefaultPreferences()
	}
	return prefs
}

// Badge resolves the badge value for an unread count under the stored policy.
func (e *Engine) Badge(ctx context.Context, unread int) int {
	return BadgeCount(e.Current(ctx).Badge, unread)
}
