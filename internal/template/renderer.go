// Package template fills named notification templates with variables.
// Substitution is literal text replacement only; patterns carry no
// executable content and substituted values are never re-expanded.
package template

import (
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/fernwood/pushcenter/internal/models"
)

// ErrInvalidTemplate covers an unknown template id and a missing required
// variable. Render fails atomically: no partial title/body is ever returned.
var ErrInvalidTemplate = errors.New("template: invalid template")

// Rendered is the fully-resolved output of a template.
type Rendered struct {
	Title    string
	Body     string
	Priority models.NotificationPriority
	Actions  []models.Action
}

type Renderer struct {
	mu        sync.RWMutex
	templates map[string]models.Template
}

func NewRenderer(templates ...models.Template) *Renderer {
	r := &Renderer{templates: make(map[string]models.Template, len(templates))}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

func (r *Renderer) Register(t models.Template) error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.Wrap(ErrInvalidTemplate, "template id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[t.ID] = t
	return nil
}

func (r *Renderer) Lookup(id string) (models.Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	return t, ok
}

// Render resolves the template's title and body patterns against vars.
// Every required variable must be present; missing ones fail the whole call
// before any output is produced. Unresolved optional placeholders fall back
// to their declared default or the empty string.
func (r *Renderer) Render(id string, vars map[string]string) (Rendered, error) {
	t, ok := r.Lookup(id)
	if !ok {
		return Rendered{}, errors.Wrapf(ErrInvalidTemplate, "unknown template %q", id)
	}

	values := make(map[string]string, len(t.Variables)+len(vars))
	var missing []string
	for _, v := range t.Variables {
		if got, ok := vars[v.Name]; ok {
			values[v.Name] = got
			continue
		}
		if v.Required {
			missing = append(missing, v.Name)
			continue
		}
		values[v.Name] = v.Default
	}
	if len(missing) > 0 {
		return Rendered{}, errors.Wrapf(ErrInvalidTemplate,
			"template %q missing required variables: %s", id, strings.Join(missing, ", "))
	}
	for name, value := range vars {
		if _, ok := values[name]; !ok {
			values[name] = value
		}
	}

	out := Rendered{
		Title:    substitute(t.TitlePattern, values),
		Body:     substitute(t.BodyPattern, values),
		Priority: t.DefaultPriority,
		Actions:  append([]models.Action(nil), t.DefaultActions...),
	}
	return out, nil
}

// substitute replaces {name} placeholders in a single pass so substituted
// values are never themselves expanded. Unmatched braces and placeholders
// that name no known variable pass through untouched.
func substitute(pattern string, values map[string]string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); {
		open := strings.IndexByte(pattern[i:], '{')
		if open < 0 {
			b.WriteString(pattern[i:])
			break
		}
		open += i
		end := strings.IndexByte(pattern[open:], '}')
		if end < 0 {
			b.WriteString(pattern[i:])
			break
		}
		end += open
		name := pattern[open+1 : end]
		value, ok := values[name]
		if !ok {
			b.WriteString(pattern[i : end+1])
			i = end + 1
			continue
		}
		b.WriteString(pattern[i:open])
		b.WriteString(value)
		i = end + 1
	}
	return b.String()
}

// Defaults returns the built-in templates registered by the composition
// root. One per record type that commonly arrives templated.
func Defaults() []models.Template {
	return []models.Template{
		{
			ID:           "message",
			Type:         models.NotificationTypeMessage,
			TitlePattern: "{sender}",
			BodyPattern:  "{text}",
			Variables: []models.TemplateVariable{
				{Name: "sender", Required: true},
				{Name: "text", Required: true},
			},
			DefaultPriority: models.PriorityNormal,
			DefaultActions: []models.Action{
				{ID: "reply", Label: "Reply", Verb: models.VerbReply, TextInput: true},
				{ID: "view", Label: "View", Verb: models.VerbView},
			},
		},
		{
			ID:           "reminder",
			Type:         models.NotificationTypeReminder,
			TitlePattern: "Reminder: {subject}",
			BodyPattern:  "{detail}",
			Variables: []models.TemplateVariable{
				{Name: "subject", Required: true},
				{Name: "detail", Required: false, Default: "It is time."},
			},
			DefaultPriority: models.PriorityHigh,
			DefaultActions: []models.Action{
				{ID: "view", Label: "Open", Verb: models.VerbView},
				{ID: "dismiss", Label: "Dismiss", Verb: models.VerbDismiss},
			},
		},
		{
			ID:           "social",
			Type:         models.NotificationTypeSocial,
			TitlePattern: "{actor} {activity}",
			BodyPattern:  "{summary}",
			Variables: []models.TemplateVariable{
				{Name: "actor", Required: true},
				{Name: "activity", Required: true},
				{Name: "summary", Required: false},
			},
			DefaultPriority: models.PriorityLow,
			DefaultActions: []models.Action{
				{ID: "like", Label: "Like", Verb: models.VerbLike},
				{ID: "view", Label: "View", Verb: models.VerbView},
			},
		},
	}
}
