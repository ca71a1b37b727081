// Package template validates and renders reminder content per channel.
package template

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/validation"
)

// ErrTemplateNotFound is returned when a template ID does not exist.
var ErrTemplateNotFound = errors.New("template not found")

// Variable names understood by the default templates.
const (
	VarEventTitle       = "eventTitle"
	VarEventDate        = "eventDate"
	VarEventType        = "eventType"
	VarEventDescription = "eventDescription"
	VarUserName         = "userName"
	VarReminderTime     = "reminderTime"
)

// Bounds are inclusive character-count limits.
type Bounds struct {
	Min int
	Max int
}

// ChannelRules are the content rules of one channel.
type ChannelRules struct {
	Required []string
	Body     Bounds
	// Subject is zero for channels whose subject is optional. A
	// notification's subject becomes its title.
	Subject Bounds
}

// Rules maps each channel to its content rules.
var Rules = map[string]ChannelRules{
	models.ChannelEmail: {
		Required: []string{VarEventTitle, VarEventDate, VarUserName},
		Body:     Bounds{Min: 10, Max: 1000},
		Subject:  Bounds{Min: 1, Max: 100},
	},
	models.ChannelNotification: {
		Required: []string{VarEventTitle, VarEventDate},
		Body:     Bounds{Min: 1, Max: 200},
	},
	models.ChannelSMS: {
		Required: []string{VarEventTitle, VarEventDate},
		Body:     Bounds{Min: 1, Max: 160},
	},
}

var placeholderRE = regexp.MustCompile(`\{\{\s*([A-Za-z][A-Za-z0-9_]*)\s*\}\}`)

// RenderedContent is the channel-ready text of one reminder.
type RenderedContent struct {
	TemplateID      string `json:"template_id"`
	TemplateVersion int    `json:"template_version"`
	Channel         string `json:"channel"`
	Subject         string `json:"subject,omitempty"`
	Body            string `json:"body"`
}

// Render substitutes vars into tpl for channel and validates the result.
// The output depends only on its inputs. Every problem is reported in a
// single *validation.Error.
func Render(tpl *models.ReminderTemplate, channel string, vars map[string]string) (*RenderedContent, error) {
	verr := &validation.Error{Scope: "template"}

	rules, ok := Rules[channel]
	if !ok {
		verr.Add("channel", "unknown channel %q", channel)
		return nil, verr
	}
	if tpl.Channel != channel {
		verr.Add("channel", "template is for %s, not %s", tpl.Channel, channel)
	}

	for _, name := range rules.Required {
		if strings.TrimSpace(vars[name]) == "" {
			verr.Add(name, "required variable is missing")
		}
	}

	// Checked against the source: substituted values may contain braces.
	for _, name := range placeholders(tpl.Subject + "\n" + tpl.Body) {
		if _, ok := vars[name]; !ok {
			verr.Add(name, "placeholder left unresolved")
		}
	}

	subject := substitute(tpl.Subject, vars)
	body := substitute(tpl.Body, vars)

	checkLength(verr, "body", body, rules.Body)
	if rules.Subject.Max > 0 {
		checkLength(verr, "subject", subject, rules.Subject)
	}

	if err := verr.Err(); err != nil {
		return nil, err
	}

	content := &RenderedContent{
		TemplateID:      tpl.ID,
		TemplateVersion: tpl.Version,
		Channel:         channel,
		Subject:         subject,
		Body:            body,
	}
	return content, nil
}

// ValidateDefinition checks a template before it is stored: the channel's
// required variables must be declared and every placeholder must name a
// declared variable.
func ValidateDefinition(tpl *models.ReminderTemplate) error {
	verr := validation.Struct("template", definition{
		Name:    tpl.Name,
		Channel: tpl.Channel,
		Body:    tpl.Body,
	})

	rules, ok := Rules[tpl.Channel]
	if !ok {
		return verr.Err()
	}

	declared := make(map[string]bool, len(tpl.Variables))
	for _, v := range tpl.Variables {
		declared[v] = true
	}

	for _, name := range rules.Required {
		if !declared[name] {
			verr.Add("variables", "must declare %s for %s templates", name, tpl.Channel)
		}
	}

	for _, name := range placeholders(tpl.Subject + "\n" + tpl.Body) {
		if !declared[name] {
			verr.Add("body", "placeholder %s is not declared", name)
		}
	}

	if rules.Subject.Max > 0 && strings.TrimSpace(tpl.Subject) == "" {
		verr.Add("subject", "is required for %s templates", tpl.Channel)
	}

	return verr.Err()
}

type definition struct {
	Name    string `validate:"required,max=100"`
	Channel string `validate:"required,oneof=email notification sms"`
	Body    string `validate:"required"`
}

func substitute(text string, vars map[string]string) string {
	return placeholderRE.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRE.FindStringSubmatch(match)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return match
	})
}

// placeholders returns the sorted distinct placeholder names in text.
func placeholders(text string) []string {
	seen := map[string]bool{}
	for _, m := range placeholderRE.FindAllStringSubmatch(text, -1) {
		seen[m[1]] = true
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func checkLength(verr *validation.Error, field, text string, b Bounds) {
	n := utf8.RuneCountInString(text)
	if n < b.Min {
		verr.Add(field, "rendered length %d is below the minimum of %d", n, b.Min)
	}
	if n > b.Max {
		verr.Add(field, "rendered length %d exceeds the maximum of %d", n, b.Max)
	}
}

// Engine renders stored templates and manages their lifecycle.
type Engine struct {
	repo *storage.TemplateRepository
}

// NewEngine creates a template engine backed by repo.
func NewEngine(repo *storage.TemplateRepository) *Engine {
	return &Engine{repo: repo}
}

// Render renders templateID for channel. An empty templateID selects the
// channel's default template.
func (e *Engine) Render(ctx context.Context, templateID, channel string, vars map[string]string) (*RenderedContent, error) {
	tpl, err := e.resolve(ctx, templateID, channel)
	if err != nil {
		return nil, err
	}
	return Render(tpl, channel, vars)
}

// Get returns a template by ID.
func (e *Engine) Get(ctx context.Context, id string) (*models.ReminderTemplate, error) {
	tpl, err := e.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, ErrTemplateNotFound
	}
	return tpl, nil
}

// List returns every template.
func (e *Engine) List(ctx context.Context) ([]models.ReminderTemplate, error) {
	return e.repo.List(ctx)
}

// Create validates and stores a new template.
func (e *Engine) Create(ctx context.Context, tpl *models.ReminderTemplate) error {
	tpl.IsDefault = false
	if err := ValidateDefinition(tpl); err != nil {
		return err
	}
	return e.repo.Create(ctx, tpl)
}

// Update replaces a template's content and bumps its version. The channel
// of a template is fixed at creation.
func (e *Engine) Update(ctx context.Context, id string, name, subject, body string, variables []string) (*models.ReminderTemplate, error) {
	tpl, err := e.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	tpl.Name = name
	tpl.Subject = subject
	tpl.Body = body
	tpl.Variables = variables

	if err := ValidateDefinition(tpl); err != nil {
		return nil, err
	}
	if err := e.repo.Update(ctx, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}

// Delete removes a template. Default templates cannot be deleted.
func (e *Engine) Delete(ctx context.Context, id string) (bool, error) {
	return e.repo.Delete(ctx, id)
}

func (e *Engine) resolve(ctx context.Context, templateID, channel string) (*models.ReminderTemplate, error) {
	if templateID == "" {
		tpl, err := e.repo.GetDefault(ctx, channel)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, ErrTemplateNotFound
		}
		return tpl, nil
	}
	return e.Get(ctx, templateID)
}
