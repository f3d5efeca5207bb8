package models

type TemplateVariable struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// Template fills title/body patterns with named `{placeholder}` variables.
// Substitution is literal text replacement; patterns carry no executable
// content.
type Template struct {
	ID              string               `json:"id"`
	Type            NotificationType     `json:"type"`
	TitlePattern    string               `json:"title_pattern"`
	BodyPattern     string               `json:"body_pattern"`
	Variables       []TemplateVariable   `json:"variables,omitempty"`
	DefaultPriority NotificationPriority `json:"default_priority,omitempty"`
	DefaultActions  []Action             `json:"default_actions,omitempty"`
}
