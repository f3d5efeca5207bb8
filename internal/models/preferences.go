package models

import "time"

type TypePreference struct {
	Enabled        bool                 `json:"enabled"`
	Priority       NotificationPriority `json:"priority"`
	Sound          bool                 `json:"sound"`
	Vibration      bool                 `json:"vibration"`
	Preview        bool                 `json:"preview"`
	ActionsAllowed bool                 `json:"actions_allowed"`
}

// QuietHours is a local-time window during which non-urgent notifications
// are persisted but not surfaced. Start/End are "HH:MM"; the window may
// wrap midnight (start > end).
type QuietHours struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type GroupingPolicy struct {
	Enabled        bool `json:"enabled"`
	MaxSize        int  `json:"max_size"`
	TimeoutSeconds int  `json:"timeout_seconds"`
}

type BadgePolicy struct {
	Enabled   bool `json:"enabled"`
	ShowCount bool `json:"show_count"`
	MaxCount  int  `json:"max_count"`
}

type PrivacyPolicy struct {
	HideContentWhenLocked bool `json:"hide_content_when_locked"`
	ShareInteractionData  bool `json:"share_interaction_data"`
}

type Preferences struct {
	Enabled    bool                                `json:"enabled"`
	Types      map[NotificationType]TypePreference `json:"types"`
	QuietHours QuietHours                          `json:"quiet_hours"`
	Grouping   GroupingPolicy                      `json:"grouping"`
	Badge      BadgePolicy                         `json:"badge"`
	Privacy    PrivacyPolicy                       `json:"privacy"`
	UpdatedAt  time.Time                           `json:"updated_at"`
}

func DefaultPreferences() Preferences {
	types := make(map[NotificationType]TypePreference, len(KnownNotificationTypes))
	for _, t := range KnownNotificationTypes {
		types[t] = TypePreference{
			Enabled:        true,
			Priority:       PriorityNormal,
			Sound:          true,
			Vibration:      true,
			Preview:        true,
			ActionsAllowed: true,
		}
	}
	return Preferences{
		Enabled:    true,
		Types:      types,
		QuietHours: QuietHours{Enabled: false, Start: "22:00", End: "07:00"},
		Grouping:   GroupingPolicy{Enabled: true, MaxSize: 5, TimeoutSeconds: 300},
		Badge:      BadgePolicy{Enabled: true, ShowCount: true, MaxCount: 99},
		Privacy:    PrivacyPolicy{},
	}
}

// PreferencesPatch is a field-mask style partial update. Nil fields leave
// the current value untouched; map entries replace the per-type settings
// they name and leave the rest alone.
type PreferencesPatch struct {
	Enabled    *bool                               `json:"enabled,omitempty"`
	Types      map[NotificationType]TypePreference `json:"types,omitempty"`
	QuietHours *QuietHours                         `json:"quiet_hours,omitempty"`
	Grouping   *GroupingPolicy                     `json:"grouping,omitempty"`
	Badge      *BadgePolicy                        `json:"badge,omitempty"`
	Privacy    *PrivacyPolicy                      `json:"privacy,omitempty"`
}

// Apply merges the patch into p and stamps UpdatedAt.
func (p *Preferences) Apply(patch PreferencesPatch, now time.Time) {
	if patch.Enabled != nil {
		p.Enabled = *patch.Enabled
	}
	if len(patch.Types) > 0 {
		if p.Types == nil {
			p.Types = make(map[NotificationType]TypePreference, len(patch.Types))
		}
		for t, tp := range patch.Types {
			p.Types[t] = tp
		}
	}
	if patch.QuietHours != nil {
		p.QuietHours = *patch.QuietHours
	}
	if patch.Grouping != nil {
		p.Grouping = *patch.Grouping
	}
	if patch.Badge != nil {
		p.Badge = *patch.Badge
	}
	if patch.Privacy != nil {
		p.Privacy = *patch.Privacy
	}
	p.UpdatedAt = now
}

// TypePreferenceFor returns the per-type settings, falling back to an
// enabled default for types the stored preferences have never seen.
func (p Preferences) TypePreferenceFor(t NotificationType) TypePreference {
	if tp, ok := p.Types[t]; ok {
		return tp
	}
	return TypePreference{Enabled: true, Priority: PriorityNormal, Sound: true, Vibration: true, Preview: true, ActionsAllowed: true}
}
