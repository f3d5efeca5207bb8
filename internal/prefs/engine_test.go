package prefs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwood/pushcenter/internal/models"
)

func clockAt(t *testing.T, hhmm string) time.Time {
	t.Helper()
	parsed, err := time.Parse("15:04", hhmm)
	require.NoError(t, err)
	return time.Date(2025, 6, 15, parsed.Hour(), parsed.Minute(), 0, 0, time.UTC)
}

func TestInQuietHours(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		now   string
		want  bool
	}{
		{"wrapping window, inside before midnight", "22:00", "06:00", "23:30", true},
		{"wrapping window, inside after midnight", "22:00", "06:00", "02:00", true},
		{"wrapping window, outside", "22:00", "06:00", "12:00", false},
		{"non-wrapping window, inside", "09:00", "17:00", "12:00", true},
		{"non-wrapping window, outside", "09:00", "17:00", "08:59", false},
		{"start boundary is inclusive", "22:00", "06:00", "22:00", true},
		{"end boundary is exclusive", "22:00", "06:00", "06:00", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := models.QuietHours{Enabled: true, Start: tt.start, End: tt.end}
			assert.Equal(t, tt.want, InQuietHours(q, clockAt(t, tt.now)))
		})
	}
}

func TestInQuietHoursDisabledOrInvalid(t *testing.T) {
	now := clockAt(t, "23:30")
	assert.False(t, InQuietHours(models.QuietHours{Enabled: false, Start: "22:00", End: "06:00"}, now))
	assert.False(t, InQuietHours(models.QuietHours{Enabled: true, Start: "late", End: "06:00"}, now))
	assert.False(t, InQuietHours(models.QuietHours{Enabled: true, Start: "25:00", End: "06:00"}, now))
}

func TestEvaluate(t *testing.T) {
	p := models.DefaultPreferences()
	p.QuietHours = models.QuietHours{Enabled: true, Start: "22:00", End: "06:00"}
	inside := clockAt(t, "23:30")
	outside := clockAt(t, "12:00")

	assert.False(t, Evaluate(p, models.NotificationTypeMessage, models.PriorityNormal, inside))
	assert.True(t, Evaluate(p, models.NotificationTypeMessage, models.PriorityNormal, outside))

	// Urgent always bypasses quiet hours.
	assert.True(t, Evaluate(p, models.NotificationTypeMessage, models.PriorityUrgent, inside))

	// Global and per-type switches win over everything, urgent included.
	disabled := p
	disabled.Enabled = false
	assert.False(t, Evaluate(disabled, models.NotificationTypeMessage, models.PriorityUrgent, outside))

	typeOff := models.DefaultPreferences()
	tp := typeOff.Types[models.NotificationTypeSocial]
	tp.Enabled = false
	typeOff.Types[models.NotificationTypeSocial] = tp
	assert.False(t, Evaluate(typeOff, models.NotificationTypeSocial, models.PriorityUrgent, outside))
	assert.True(t, Evaluate(typeOff, models.NotificationTypeMessage, models.PriorityNormal, outside))
}

func TestEvaluateIsPure(t *testing.T) {
	p := models.DefaultPreferences()
	p.QuietHours = models.QuietHours{Enabled: true, Start: "22:00", End: "06:00"}
	now := clockAt(t, "23:30")
	first := Evaluate(p, models.NotificationTypeAlert, models.PriorityNormal, now)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(p, models.NotificationTypeAlert, models.PriorityNormal, now))
	}
}

func TestBadgeCount(t *testing.T) {
	policy := models.BadgePolicy{Enabled: true, ShowCount: true, MaxCount: 99}

	assert.Equal(t, 0, BadgeCount(policy, 0))
	assert.Equal(t, 7, BadgeCount(policy, 7))
	assert.Equal(t, 99, BadgeCount(policy, 150))

	assert.Equal(t, 0, BadgeCount(models.BadgePolicy{Enabled: false, ShowCount: true, MaxCount: 99}, 7))
	assert.Equal(t, 1, BadgeCount(models.BadgePolicy{Enabled: true, ShowCount: false, MaxCount: 99}, 7))
}
