package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// TemplateRepository provides data access for reminder templates.
type TemplateRepository struct {
	BaseRepository
}

// NewTemplateRepository creates a new template repository.
func NewTemplateRepository(db *DB) *TemplateRepository {
	return &TemplateRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const templateColumns = `id, name, channel, version, subject, body, variables, is_default, created_at, updated_at`

// Create inserts a new template at version 1.
func (r *TemplateRepository) Create(ctx context.Context, t *models.ReminderTemplate) error {
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("encoding variables: %w", err)
	}

	t.ID = GenerateID()
	t.Version = 1
	t.CreatedAt = r.Now()
	t.UpdatedAt = t.CreatedAt

	_, err = r.DB().ExecContext(ctx, `
		INSERT INTO reminder_templates (`+templateColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Name, t.Channel, t.Version, t.Subject, t.Body, string(vars), t.IsDefault,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting template: %w", err)
	}

	return nil
}

// GetByID retrieves a template by its ID. Returns nil if it does not exist.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*models.ReminderTemplate, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+templateColumns+` FROM reminder_templates WHERE id = ?`, id)

	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying template: %w", err)
	}

	return t, nil
}

// GetDefault retrieves the default template of a channel.
func (r *TemplateRepository) GetDefault(ctx context.Context, channel string) (*models.ReminderTemplate, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+templateColumns+` FROM reminder_templates WHERE channel = ? AND is_default = 1
	`, channel)

	t, err := scanTemplate(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying default template: %w", err)
	}

	return t, nil
}

// List retrieves all templates ordered by channel and name.
func (r *TemplateRepository) List(ctx context.Context) ([]models.ReminderTemplate, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+templateColumns+` FROM reminder_templates ORDER BY channel, name
	`)
	if err != nil {
		return nil, fmt.Errorf("querying templates: %w", err)
	}
	defer rows.Close()

	var templates []models.ReminderTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning template: %w", err)
		}
		templates = append(templates, *t)
	}

	return templates, rows.Err()
}

// Update writes new content and bumps the version.
func (r *TemplateRepository) Update(ctx context.Context, t *models.ReminderTemplate) error {
	vars, err := json.Marshal(t.Variables)
	if err != nil {
		return fmt.Errorf("encoding variables: %w", err)
	}
	t.UpdatedAt = r.Now()

	err = r.DB().QueryRowContext(ctx, `
		UPDATE reminder_templates SET
			name = ?, subject = ?, body = ?, variables = ?, version = version + 1, updated_at = ?
		WHERE id = ?
		RETURNING version
	`, t.Name, t.Subject, t.Body, string(vars), t.UpdatedAt, t.ID).Scan(&t.Version)
	if err == sql.ErrNoRows {
		return fmt.Errorf("template not found: %s", t.ID)
	}
	if err != nil {
		return fmt.Errorf("updating template: %w", err)
	}

	return nil
}

// Delete removes a template by ID. Default templates are kept.
func (r *TemplateRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM reminder_templates WHERE id = ? AND is_default = 0", id)
	if err != nil {
		return false, fmt.Errorf("deleting template: %w", err)
	}

	return rowsAffected(result) > 0, nil
}

func scanTemplate(s rowScanner) (*models.ReminderTemplate, error) {
	t := &models.ReminderTemplate{}
	var vars string
	err := s.Scan(
		&t.ID, &t.Name, &t.Channel, &t.Version, &t.Subject, &t.Body, &vars, &t.IsDefault,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(vars), &t.Variables); err != nil {
		return nil, fmt.Errorf("decoding variables: %w", err)
	}
	return t, nil
}
