package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// FeedRepository provides data access for ICS feed subscriptions.
type FeedRepository struct {
	BaseRepository
}

// NewFeedRepository creates a new feed repository.
func NewFeedRepository(db *DB) *FeedRepository {
	return &FeedRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const feedColumns = `id, user_id, name, url, default_event_type, sync_interval_min, last_sync_at,
	sync_status, sync_error, enabled, created_at, updated_at`

// Create inserts a new feed subscription.
func (r *FeedRepository) Create(ctx context.Context, feed *models.CalendarFeed) error {
	feed.ID = GenerateID()
	feed.CreatedAt = r.Now()
	feed.UpdatedAt = feed.CreatedAt
	feed.SyncStatus = models.SyncStatusPending

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO calendar_feeds (
			id, user_id, name, url, default_event_type, sync_interval_min,
			sync_status, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		feed.ID, feed.UserID, feed.Name, feed.URL, feed.DefaultEventType, feed.SyncIntervalMin,
		feed.SyncStatus, feed.Enabled, feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting feed: %w", err)
	}

	return nil
}

// GetByID retrieves a feed by its ID. Returns nil if it does not exist.
func (r *FeedRepository) GetByID(ctx context.Context, id string) (*models.CalendarFeed, error) {
	feed := &models.CalendarFeed{}

	err := r.DB().QueryRowContext(ctx, `SELECT `+feedColumns+` FROM calendar_feeds WHERE id = ?`, id).Scan(
		&feed.ID, &feed.UserID, &feed.Name, &feed.URL, &feed.DefaultEventType, &feed.SyncIntervalMin,
		&feed.LastSyncAt, &feed.SyncStatus, &feed.SyncError, &feed.Enabled, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying feed: %w", err)
	}

	return feed, nil
}

// ListByUser retrieves a user's feeds.
func (r *FeedRepository) ListByUser(ctx context.Context, userID string) ([]models.CalendarFeed, error) {
	return r.list(ctx, `
		SELECT `+feedColumns+` FROM calendar_feeds WHERE user_id = ? ORDER BY name
	`, userID)
}

// ListEnabled retrieves all enabled feeds, least recently synced first.
func (r *FeedRepository) ListEnabled(ctx context.Context) ([]models.CalendarFeed, error) {
	return r.list(ctx, `
		SELECT `+feedColumns+` FROM calendar_feeds
		WHERE enabled = 1
		ORDER BY last_sync_at ASC NULLS FIRST
	`)
}

// UpdateSyncStatus records the outcome of a sync.
func (r *FeedRepository) UpdateSyncStatus(ctx context.Context, id string, status string, syncError *string) error {
	now := r.Now()
	var lastSyncAt any
	if status == models.SyncStatusSuccess {
		lastSyncAt = now
	}

	_, err := r.DB().ExecContext(ctx, `
		UPDATE calendar_feeds SET
			sync_status = ?, sync_error = ?, last_sync_at = COALESCE(?, last_sync_at), updated_at = ?
		WHERE id = ?
	`, status, syncError, lastSyncAt, now, id)
	if err != nil {
		return fmt.Errorf("updating sync status: %w", err)
	}

	return nil
}

// Delete removes a feed. Events already imported from it are kept.
func (r *FeedRepository) Delete(ctx context.Context, id string) (bool, error) {
	result, err := r.DB().ExecContext(ctx, "DELETE FROM calendar_feeds WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("deleting feed: %w", err)
	}

	return rowsAffected(result) > 0, nil
}

func (r *FeedRepository) list(ctx context.Context, query string, args ...any) ([]models.CalendarFeed, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying feeds: %w", err)
	}
	defer rows.Close()

	var feeds []models.CalendarFeed
	for rows.Next() {
		var feed models.CalendarFeed
		if err := rows.Scan(
			&feed.ID, &feed.UserID, &feed.Name, &feed.URL, &feed.DefaultEventType, &feed.SyncIntervalMin,
			&feed.LastSyncAt, &feed.SyncStatus, &feed.SyncError, &feed.Enabled, &feed.CreatedAt, &feed.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning feed: %w", err)
		}
		feeds = append(feeds, feed)
	}

	return feeds, rows.Err()
}
