// Package rules stores reminder rules and decides when they fire.
package rules

import (
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// Evaluator computes rule fire times. Custom weekly rules are interpreted in
// its location.
type Evaluator struct {
	location *time.Location
}

// NewEvaluator creates an evaluator for the given timezone (UTC when nil).
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{location: loc}
}

// NextFireTime returns the next instant the rule fires on or after asOf.
// ok is false when the rule has no further occurrence, which for custom rules
// includes every occurrence past the event date.
func (e *Evaluator) NextFireTime(rule *models.ReminderRule, eventDate, asOf time.Time) (next time.Time, ok bool, err error) {
	switch rule.RuleType {
	case models.RuleTypeFixed:
		if rule.FireAt == nil {
			return time.Time{}, false, fmt.Errorf("fixed rule %s has no fire time", rule.ID)
		}
		return *rule.FireAt, true, nil

	case models.RuleTypeInterval:
		if rule.IntervalValue == nil || rule.IntervalUnit == nil {
			return time.Time{}, false, fmt.Errorf("interval rule %s has no interval", rule.ID)
		}
		offset, err := intervalDuration(*rule.IntervalValue, *rule.IntervalUnit)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("interval rule %s: %w", rule.ID, err)
		}
		return eventDate.Add(-offset), true, nil

	case models.RuleTypeCustom:
		return e.nextWeekly(rule, eventDate, asOf)
	}

	return time.Time{}, false, fmt.Errorf("rule %s has unknown type %q", rule.ID, rule.RuleType)
}

// IsDue reports whether fire falls within [asOf, asOf+lookahead].
func IsDue(fire, asOf time.Time, lookahead time.Duration) bool {
	return !fire.Before(asOf) && !fire.After(asOf.Add(lookahead))
}

// nextWeekly finds the first (weekday, time of day) slot on or after asOf.
func (e *Evaluator) nextWeekly(rule *models.ReminderRule, eventDate, asOf time.Time) (time.Time, bool, error) {
	if len(rule.DaysOfWeek) == 0 {
		return time.Time{}, false, fmt.Errorf("custom rule %s has no days", rule.ID)
	}
	hour, minute, err := parseTime(rule.TimeOfDay)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("custom rule %s: %w", rule.ID, err)
	}

	days := make(map[int]bool, len(rule.DaysOfWeek))
	for _, d := range rule.DaysOfWeek {
		days[d] = true
	}

	localFrom := asOf.In(e.location)

	// Eight days so that today's weekday is reachable again next week when
	// today's slot has already passed.
	for dayOffset := 0; dayOffset <= 7; dayOffset++ {
		checkDate := localFrom.AddDate(0, 0, dayOffset)
		if !days[int(checkDate.Weekday())] {
			continue
		}

		candidate := time.Date(
			checkDate.Year(), checkDate.Month(), checkDate.Day(),
			hour, minute, 0, 0,
			e.location,
		)
		if candidate.Before(asOf) {
			continue
		}
		if candidate.After(eventDate) {
			return time.Time{}, false, nil
		}
		return candidate, true, nil
	}

	return time.Time{}, false, nil
}

// maxInterval bounds how far before an event an interval rule may fire.
const maxInterval = 10 * 365 * 24 * time.Hour

func intervalDuration(value int, unit string) (time.Duration, error) {
	if value <= 0 {
		return 0, fmt.Errorf("interval must be positive, got %d", value)
	}

	var step time.Duration
	switch unit {
	case models.IntervalMinutes:
		step = time.Minute
	case models.IntervalHours:
		step = time.Hour
	case models.IntervalDays:
		step = 24 * time.Hour
	case models.IntervalWeeks:
		step = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("unknown interval unit %q", unit)
	}

	if int64(value) > int64(maxInterval/step) {
		return 0, fmt.Errorf("interval of %d %s exceeds %d days", value, unit, int(maxInterval/(24*time.Hour)))
	}
	return time.Duration(value) * step, nil
}

// parseTime parses a "15:04" formatted time string.
func parseTime(timeStr string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", timeStr)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q", timeStr)
	}
	return t.Hour(), t.Minute(), nil
}
