package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// ContactRepository stores the delivery addresses of users.
type ContactRepository struct {
	BaseRepository
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(db *DB) *ContactRepository {
	return &ContactRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Get retrieves a user's contact. Returns nil if none was stored.
func (r *ContactRepository) Get(ctx context.Context, userID string) (*models.Contact, error) {
	c := &models.Contact{}

	err := r.DB().QueryRowContext(ctx, `
		SELECT user_id, display_name, email, phone, updated_at FROM user_contacts WHERE user_id = ?
	`, userID).Scan(&c.UserID, &c.DisplayName, &c.Email, &c.Phone, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying contact: %w", err)
	}

	return c, nil
}

// Upsert creates or replaces a user's contact.
func (r *ContactRepository) Upsert(ctx context.Context, c *models.Contact) error {
	c.UpdatedAt = r.Now()

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO user_contacts (user_id, display_name, email, phone, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			display_name = excluded.display_name, email = excluded.email,
			phone = excluded.phone, updated_at = excluded.updated_at
	`, c.UserID, c.DisplayName, c.Email, c.Phone, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upserting contact: %w", err)
	}

	return nil
}
