package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// EventRepository provides data access for investment events.
type EventRepository struct {
	BaseRepository
}

// NewEventRepository creates a new event repository.
func NewEventRepository(db *DB) *EventRepository {
	return &EventRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const eventColumns = `id, user_id, title, description, event_date, event_type,
	reminder_enabled, reminder_time, feed_id, external_uid, created_at, updated_at`

// Create inserts a new event.
func (r *EventRepository) Create(ctx context.Context, e *models.Event) error {
	e.ID = GenerateID()
	e.CreatedAt = r.Now()
	e.UpdatedAt = e.CreatedAt
	e.EventDate = utc(e.EventDate)
	e.ReminderTime = utcPtr(e.ReminderTime)

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.ID, e.UserID, e.Title, e.Description, e.EventDate, e.EventType,
		e.ReminderEnabled, e.ReminderTime, e.FeedID, e.ExternalUID, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}

	return nil
}

// GetByID retrieves an event by its ID. Returns nil if it does not exist.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying event: %w", err)
	}

	return e, nil
}

// GetByFeedUID retrieves the event imported from a feed entry.
func (r *EventRepository) GetByFeedUID(ctx context.Context, feedID, uid string) (*models.Event, error) {
	row := r.DB().QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE feed_id = ? AND external_uid = ?
	`, feedID, uid)

	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed event: %w", err)
	}

	return e, nil
}

// ListByUser retrieves a user's events ordered by date.
func (r *EventRepository) ListByUser(ctx context.Context, userID string) ([]models.Event, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events WHERE user_id = ? ORDER BY event_date
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, *e)
	}

	return events, rows.Err()
}

// Update writes every mutable field of an event.
func (r *EventRepository) Update(ctx context.Context, e *models.Event) error {
	e.UpdatedAt = r.Now()
	e.EventDate = utc(e.EventDate)
	e.ReminderTime = utcPtr(e.ReminderTime)

	result, err := r.DB().ExecContext(ctx, `
		UPDATE events SET
			title = ?, description = ?, event_date = ?, event_type = ?,
			reminder_enabled = ?, reminder_time = ?, updated_at = ?
		WHERE id = ?
	`,
		e.Title, e.Description, e.EventDate, e.EventType,
		e.ReminderEnabled, e.ReminderTime, e.UpdatedAt, e.ID,
	)
	if err != nil {
		return fmt.Errorf("updating event: %w", err)
	}

	if rowsAffected(result) == 0 {
		return fmt.Errorf("event not found: %s", e.ID)
	}

	return nil
}

// Delete removes an event. Its rules go with it through the foreign key.
func (r *EventRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting event: %w", err)
	}

	return rowsAffected(result) > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(s rowScanner) (*models.Event, error) {
	e := &models.Event{}
	err := s.Scan(
		&e.ID, &e.UserID, &e.Title, &e.Description, &e.EventDate, &e.EventType,
		&e.ReminderEnabled, &e.ReminderTime, &e.FeedID, &e.ExternalUID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}
