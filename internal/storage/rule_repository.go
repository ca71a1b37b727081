package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// RuleRepository provides data access for reminder rules.
type RuleRepository struct {
	BaseRepository
}

// NewRuleRepository creates a new rule repository.
func NewRuleRepository(db *DB) *RuleRepository {
	return &RuleRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const ruleColumns = `r.id, r.event_id, r.user_id, r.rule_type, r.fire_at, r.interval_value,
	r.interval_unit, r.days_of_week, r.time_of_day, r.channel, r.template_id, r.status,
	r.retry_count, r.last_retry_at, r.active, r.created_at, r.updated_at`

// Create inserts a new rule.
func (r *RuleRepository) Create(ctx context.Context, rule *models.ReminderRule) error {
	rule.ID = GenerateID()
	rule.CreatedAt = r.Now()
	rule.UpdatedAt = rule.CreatedAt
	rule.FireAt = utcPtr(rule.FireAt)
	if rule.Status == "" {
		rule.Status = models.RuleStatusPending
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO reminder_rules (
			id, event_id, user_id, rule_type, fire_at, interval_value, interval_unit,
			days_of_week, time_of_day, channel, template_id, status, retry_count,
			last_retry_at, active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.ID, rule.EventID, rule.UserID, rule.RuleType, rule.FireAt, rule.IntervalValue,
		rule.IntervalUnit, models.FormatDays(rule.DaysOfWeek), rule.TimeOfDay, rule.Channel,
		rule.TemplateID, rule.Status, rule.RetryCount, rule.LastRetryAt, rule.Active,
		rule.CreatedAt, rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting rule: %w", err)
	}

	return nil
}

// GetByID retrieves a rule by its ID. Returns nil if it does not exist.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.ReminderRule, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM reminder_rules r WHERE r.id = ?`, id)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying rule: %w", err)
	}

	return rule, nil
}

// ListByEvent retrieves all rules attached to an event.
func (r *RuleRepository) ListByEvent(ctx context.Context, eventID string) ([]models.ReminderRule, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+ruleColumns+` FROM reminder_rules r
		WHERE r.event_id = ?
		ORDER BY r.created_at
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("querying rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ReminderRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rule: %w", err)
		}
		rules = append(rules, *rule)
	}

	return rules, rows.Err()
}

// ListSchedulable retrieves active rules whose event still wants reminders.
// One-shot rules drop out once they reach a terminal status; custom rules
// recur until their event date passes.
func (r *RuleRepository) ListSchedulable(ctx context.Context, asOf time.Time) ([]models.RuleWithEvent, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+ruleColumns+`, e.event_date, e.reminder_enabled
		FROM reminder_rules r
		JOIN events e ON e.id = r.event_id
		WHERE r.active = 1
		  AND e.reminder_enabled = 1
		  AND e.event_date >= ?
		  AND (r.rule_type = 'custom' OR r.status = 'pending')
		ORDER BY e.event_date
	`, utc(asOf))
	if err != nil {
		return nil, fmt.Errorf("querying schedulable rules: %w", err)
	}
	defer rows.Close()

	var rules []models.RuleWithEvent
	for rows.Next() {
		var rw models.RuleWithEvent
		var days string
		if err := rows.Scan(
			&rw.ID, &rw.EventID, &rw.UserID, &rw.RuleType, &rw.FireAt, &rw.IntervalValue,
			&rw.IntervalUnit, &days, &rw.TimeOfDay, &rw.Channel, &rw.TemplateID, &rw.Status,
			&rw.RetryCount, &rw.LastRetryAt, &rw.Active, &rw.CreatedAt, &rw.UpdatedAt,
			&rw.EventDate, &rw.ReminderEnabled,
		); err != nil {
			return nil, fmt.Errorf("scanning schedulable rule: %w", err)
		}
		rw.DaysOfWeek = models.ParseDays(days)
		rules = append(rules, rw)
	}

	return rules, rows.Err()
}

// Update writes the user-editable fields of a rule and resets its delivery state.
func (r *RuleRepository) Update(ctx context.Context, rule *models.ReminderRule) error {
	rule.UpdatedAt = r.Now()
	rule.FireAt = utcPtr(rule.FireAt)

	result, err := r.DB().ExecContext(ctx, `
		UPDATE reminder_rules SET
			rule_type = ?, fire_at = ?, interval_value = ?, interval_unit = ?,
			days_of_week = ?, time_of_day = ?, channel = ?, template_id = ?,
			status = ?, retry_count = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.RuleType, rule.FireAt, rule.IntervalValue, rule.IntervalUnit,
		models.FormatDays(rule.DaysOfWeek), rule.TimeOfDay, rule.Channel, rule.TemplateID,
		rule.Status, rule.RetryCount, rule.UpdatedAt, rule.ID,
	)
	if err != nil {
		return fmt.Errorf("updating rule: %w", err)
	}

	if rowsAffected(result) == 0 {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}

	return nil
}

// UpdateDeliveryState mirrors the outcome of a delivery attempt onto the rule.
func (r *RuleRepository) UpdateDeliveryState(ctx context.Context, q Queryable, ruleID, status string, retryCount int, lastRetryAt *time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE reminder_rules SET
			status = ?, retry_count = ?, last_retry_at = COALESCE(?, last_retry_at), updated_at = ?
		WHERE id = ?
	`, status, retryCount, utcPtr(lastRetryAt), r.Now(), ruleID)
	if err != nil {
		return fmt.Errorf("updating rule delivery state: %w", err)
	}

	return nil
}

// SetActiveByEvent activates or deactivates every rule of an event.
func (r *RuleRepository) SetActiveByEvent(ctx context.Context, eventID string, active bool) (int, error) {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE reminder_rules SET active = ?, updated_at = ? WHERE event_id = ?
	`, active, r.Now(), eventID)
	if err != nil {
		return 0, fmt.Errorf("updating rule activity: %w", err)
	}

	return int(rowsAffected(result)), nil
}

// SetActive activates or deactivates a single rule.
func (r *RuleRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.DB().ExecContext(ctx, `
		UPDATE reminder_rules SET active = ?, updated_at = ? WHERE id = ?
	`, active, r.Now(), id)
	if err != nil {
		return fmt.Errorf("updating rule activity: %w", err)
	}
	return nil
}

// Delete removes a rule by ID.
func (r *RuleRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM reminder_rules WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting rule: %w", err)
	}

	return rowsAffected(result) > 0, nil
}

func scanRule(s rowScanner) (*models.ReminderRule, error) {
	rule := &models.ReminderRule{}
	var days string
	err := s.Scan(
		&rule.ID, &rule.EventID, &rule.UserID, &rule.RuleType, &rule.FireAt, &rule.IntervalValue,
		&rule.IntervalUnit, &days, &rule.TimeOfDay, &rule.Channel, &rule.TemplateID, &rule.Status,
		&rule.RetryCount, &rule.LastRetryAt, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rule.DaysOfWeek = models.ParseDays(days)
	return rule, nil
}
