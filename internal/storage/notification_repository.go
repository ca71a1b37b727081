package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// NotificationRepository provides the per-user in-app notification history.
type NotificationRepository struct {
	BaseRepository
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *DB) *NotificationRepository {
	return &NotificationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// InsertCapped stores a notification and trims the user's history to the
// most recent limit entries in the same transaction. Reports false, and
// leaves the history untouched, when the notification's job already has one.
func (r *NotificationRepository) InsertCapped(ctx context.Context, n *models.Notification, limit int) (bool, error) {
	n.ID = GenerateID()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = r.Now()
	}
	n.CreatedAt = utc(n.CreatedAt)

	inserted := false
	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO notifications (id, user_id, job_id, event_id, title, body, read, created_at)
			VALUES (?, ?, ?, ?, ?, ?, 0, ?)
		`, n.ID, n.UserID, n.JobID, n.EventID, n.Title, n.Body, n.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting notification: %w", err)
		}
		if rowsAffected(result) == 0 {
			return nil
		}
		inserted = true

		_, err = tx.ExecContext(ctx, `
			DELETE FROM notifications
			WHERE user_id = ? AND rowid NOT IN (
				SELECT rowid FROM notifications WHERE user_id = ?
				ORDER BY created_at DESC, rowid DESC LIMIT ?
			)
		`, n.UserID, n.UserID, limit)
		if err != nil {
			return fmt.Errorf("trimming notifications: %w", err)
		}

		return nil
	})
	return inserted, err
}

// ListByUser retrieves a user's notifications, newest first.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.Notification, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id, user_id, job_id, event_id, title, body, read, created_at
		FROM notifications WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.JobID, &n.EventID, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

// MarkRead flags one of the user's notifications as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	result, err := r.DB().ExecContext(ctx, `
		UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?
	`, id, userID)
	if err != nil {
		return false, fmt.Errorf("marking notification read: %w", err)
	}
	return rowsAffected(result) > 0, nil
}

// PurgeBefore deletes notifications created before the cutoff.
func (r *NotificationRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `DELETE FROM notifications WHERE created_at < ?`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("purging notifications: %w", err)
	}
	return rowsAffected(result), nil
}
