package rules

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/validation"
)

var (
	// ErrRuleNotFound is returned when a rule ID does not exist.
	ErrRuleNotFound = errors.New("rule not found")
	// ErrEventNotFound is returned when the owning event does not exist for the user.
	ErrEventNotFound = errors.New("event not found")
)

// JobCanceller cancels queued deliveries of a rule.
type JobCanceller interface {
	CancelForRule(ctx context.Context, ruleID string) (cancelled, flagged int, err error)
}

// RuleSpec is the type-specific definition of a rule.
type RuleSpec struct {
	RuleType      string     `json:"rule_type" validate:"required,oneof=fixed interval custom"`
	Channel       string     `json:"channel" validate:"required,oneof=email notification sms"`
	FireAt        *time.Time `json:"fire_at,omitempty"`
	IntervalValue *int       `json:"interval_value,omitempty" validate:"omitempty,gt=0"`
	IntervalUnit  *string    `json:"interval_unit,omitempty" validate:"omitempty,oneof=minutes hours days weeks"`
	DaysOfWeek    []int      `json:"days_of_week,omitempty" validate:"omitempty,dive,gte=0,lte=6"`
	TimeOfDay     string     `json:"time_of_day,omitempty" validate:"omitempty,datetime=15:04"`
	TemplateID    *string    `json:"template_id,omitempty"`
}

// RulePatch carries the fields of an update; nil fields are left unchanged.
type RulePatch struct {
	RuleType      *string    `json:"rule_type,omitempty"`
	Channel       *string    `json:"channel,omitempty"`
	FireAt        *time.Time `json:"fire_at,omitempty"`
	IntervalValue *int       `json:"interval_value,omitempty"`
	IntervalUnit  *string    `json:"interval_unit,omitempty"`
	DaysOfWeek    []int      `json:"days_of_week,omitempty"`
	TimeOfDay     *string    `json:"time_of_day,omitempty"`
	TemplateID    *string    `json:"template_id,omitempty"`
}

// DueRule is a rule whose next occurrence falls inside the lookahead window.
type DueRule struct {
	Rule     models.RuleWithEvent
	FireTime time.Time
}

// RuleFault is a rule that could not be evaluated.
type RuleFault struct {
	RuleID  string
	EventID string
	Err     error
}

// DueScan is the result of one due-rule lookup.
type DueScan struct {
	Due    []DueRule
	Faults []RuleFault
}

// Store is the registry of reminder rules.
type Store struct {
	rules     *storage.RuleRepository
	events    *storage.EventRepository
	templates *storage.TemplateRepository
	jobs      JobCanceller
	evaluator *Evaluator
}

// NewStore creates a rule store.
func NewStore(
	rules *storage.RuleRepository,
	events *storage.EventRepository,
	templates *storage.TemplateRepository,
	jobs JobCanceller,
	evaluator *Evaluator,
) *Store {
	return &Store{
		rules:     rules,
		events:    events,
		templates: templates,
		jobs:      jobs,
		evaluator: evaluator,
	}
}

// CreateRule validates spec and attaches a new rule to the user's event.
func (s *Store) CreateRule(ctx context.Context, eventID, userID string, spec RuleSpec) (*models.ReminderRule, error) {
	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event == nil || event.UserID != userID {
		return nil, ErrEventNotFound
	}

	if err := s.validate(ctx, spec); err != nil {
		return nil, err
	}

	rule := &models.ReminderRule{
		EventID: eventID,
		UserID:  userID,
		Status:  models.RuleStatusPending,
		Active:  event.ReminderEnabled,
	}
	applySpec(rule, spec)

	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}

	return rule, nil
}

// GetRule returns a rule by ID.
func (s *Store) GetRule(ctx context.Context, id string) (*models.ReminderRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

// UpdateRule applies patch to a rule. The rule's schedule starts over: its
// delivery state is reset and queued deliveries are cancelled so the next
// scheduler tick recomputes them.
func (s *Store) UpdateRule(ctx context.Context, id string, patch RulePatch) (*models.ReminderRule, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	spec := specOf(rule)
	mergePatch(&spec, patch)

	if err := s.validate(ctx, spec); err != nil {
		return nil, err
	}

	if _, _, err := s.jobs.CancelForRule(ctx, rule.ID); err != nil {
		return nil, fmt.Errorf("cancelling queued deliveries: %w", err)
	}

	applySpec(rule, spec)
	rule.Status = models.RuleStatusPending
	rule.RetryCount = 0

	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}

	return rule, nil
}

// DeleteRule cancels the rule's queued deliveries and removes it.
// Reports false when the rule did not exist.
func (s *Store) DeleteRule(ctx context.Context, id string) (bool, error) {
	if err := s.rules.SetActive(ctx, id, false); err != nil {
		return false, err
	}
	if _, _, err := s.jobs.CancelForRule(ctx, id); err != nil {
		return false, fmt.Errorf("cancelling queued deliveries: %w", err)
	}
	return s.rules.Delete(ctx, id)
}

// ListByEvent returns the rules of an event.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]models.ReminderRule, error) {
	return s.rules.ListByEvent(ctx, eventID)
}

// ListDueRules returns the rules whose next fire time falls in
// [asOf, asOf+lookahead]. A storage failure aborts the lookup; a rule that
// cannot be evaluated is reported as a fault and the others are still scanned.
func (s *Store) ListDueRules(ctx context.Context, asOf time.Time, lookahead time.Duration) (*DueScan, error) {
	candidates, err := s.rules.ListSchedulable(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("listing schedulable rules: %w", err)
	}

	scan := &DueScan{}
	for _, rw := range candidates {
		fire, ok, err := s.evaluator.NextFireTime(&rw.ReminderRule, rw.EventDate, asOf)
		if err != nil {
			scan.Faults = append(scan.Faults, RuleFault{RuleID: rw.ID, EventID: rw.EventID, Err: err})
			continue
		}
		if !ok || !IsDue(fire, asOf, lookahead) {
			continue
		}
		scan.Due = append(scan.Due, DueRule{Rule: rw, FireTime: fire})
	}

	return scan, nil
}

func (s *Store) validate(ctx context.Context, spec RuleSpec) error {
	verr := validation.Struct("rule", spec)

	switch spec.RuleType {
	case models.RuleTypeFixed:
		if spec.FireAt == nil {
			verr.Add("fire_at", "is required for fixed rules")
		}
	case models.RuleTypeInterval:
		if spec.IntervalValue == nil {
			verr.Add("interval_value", "is required for interval rules")
		}
		if spec.IntervalUnit == nil {
			verr.Add("interval_unit", "is required for interval rules")
		}
		if spec.IntervalValue != nil && spec.IntervalUnit != nil && *spec.IntervalValue > 0 && knownUnit(*spec.IntervalUnit) {
			if _, err := intervalDuration(*spec.IntervalValue, *spec.IntervalUnit); err != nil {
				verr.Add("interval_value", "%v", err)
			}
		}
	case models.RuleTypeCustom:
		if len(spec.DaysOfWeek) == 0 {
			verr.Add("days_of_week", "is required for custom rules")
		}
		if spec.TimeOfDay == "" {
			verr.Add("time_of_day", "is required for custom rules")
		}
	}

	if spec.TemplateID != nil && *spec.TemplateID != "" {
		tpl, err := s.templates.GetByID(ctx, *spec.TemplateID)
		if err != nil {
			return err
		}
		switch {
		case tpl == nil:
			verr.Add("template_id", "does not exist")
		case tpl.Channel != spec.Channel:
			verr.Add("template_id", "belongs to channel %s, rule uses %s", tpl.Channel, spec.Channel)
		}
	}

	return verr.Err()
}

func knownUnit(unit string) bool {
	switch unit {
	case models.IntervalMinutes, models.IntervalHours, models.IntervalDays, models.IntervalWeeks:
		return true
	}
	return false
}

func applySpec(rule *models.ReminderRule, spec RuleSpec) {
	rule.RuleType = spec.RuleType
	rule.Channel = spec.Channel
	rule.TemplateID = spec.TemplateID
	if rule.TemplateID != nil && *rule.TemplateID == "" {
		rule.TemplateID = nil
	}

	// Only the payload of the chosen type is kept.
	rule.FireAt, rule.IntervalValue, rule.IntervalUnit = nil, nil, nil
	rule.DaysOfWeek, rule.TimeOfDay = nil, ""

	switch spec.RuleType {
	case models.RuleTypeFixed:
		rule.FireAt = spec.FireAt
	case models.RuleTypeInterval:
		rule.IntervalValue = spec.IntervalValue
		rule.IntervalUnit = spec.IntervalUnit
	case models.RuleTypeCustom:
		rule.DaysOfWeek = spec.DaysOfWeek
		rule.TimeOfDay = spec.TimeOfDay
	}
}

func specOf(rule *models.ReminderRule) RuleSpec {
	return RuleSpec{
		RuleType:      rule.RuleType,
		Channel:       rule.Channel,
		FireAt:        rule.FireAt,
		IntervalValue: rule.IntervalValue,
		IntervalUnit:  rule.IntervalUnit,
		DaysOfWeek:    rule.DaysOfWeek,
		TimeOfDay:     rule.TimeOfDay,
		TemplateID:    rule.TemplateID,
	}
}

func mergePatch(spec *RuleSpec, p RulePatch) {
	if p.RuleType != nil {
		spec.RuleType = *p.RuleType
	}
	if p.Channel != nil {
		spec.Channel = *p.Channel
	}
	if p.FireAt != nil {
		spec.FireAt = p.FireAt
	}
	if p.IntervalValue != nil {
		spec.IntervalValue = p.IntervalValue
	}
	if p.IntervalUnit != nil {
		spec.IntervalUnit = p.IntervalUnit
	}
	if p.DaysOfWeek != nil {
		spec.DaysOfWeek = p.DaysOfWeek
	}
	if p.TimeOfDay != nil {
		spec.TimeOfDay = *p.TimeOfDay
	}
	if p.TemplateID != nil {
		spec.TemplateID = p.TemplateID
	}
}
