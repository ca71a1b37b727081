package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// HistoryRepository provides append-only access to delivery history.
type HistoryRepository struct {
	BaseRepository
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *DB) *HistoryRepository {
	return &HistoryRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const historyColumns = `id, job_id, event_id, rule_id, user_id, channel, status, error,
	attempt, response_time_ms, sent_at`

// Append writes a history entry using q, which may be a transaction.
func (r *HistoryRepository) Append(ctx context.Context, q Queryable, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = GenerateID()
	}
	entry.SentAt = utc(entry.SentAt)

	_, err := q.ExecContext(ctx, `
		INSERT INTO reminder_history (`+historyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.JobID, entry.EventID, entry.RuleID, entry.UserID, entry.Channel,
		entry.Status, entry.Error, entry.Attempt, entry.ResponseTimeMs, entry.SentAt,
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}

	return nil
}

// ListByUser retrieves a user's entries with sent_at in [from, to), newest first.
func (r *HistoryRepository) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]models.HistoryEntry, error) {
	return r.list(ctx, `
		SELECT `+historyColumns+` FROM reminder_history
		WHERE user_id = ? AND sent_at >= ? AND sent_at < ?
		ORDER BY sent_at DESC
	`, userID, utc(from), utc(to))
}

// ListByJob retrieves the entries written for one job.
func (r *HistoryRepository) ListByJob(ctx context.Context, jobID string) ([]models.HistoryEntry, error) {
	return r.list(ctx, `
		SELECT `+historyColumns+` FROM reminder_history WHERE job_id = ? ORDER BY sent_at
	`, jobID)
}

// ListUnaggregated retrieves entries since the given instant that the stats
// aggregator has not applied yet.
func (r *HistoryRepository) ListUnaggregated(ctx context.Context, since time.Time) ([]models.HistoryEntry, error) {
	return r.list(ctx, `
		SELECT `+historyColumns+` FROM reminder_history h
		WHERE h.sent_at >= ?
		  AND NOT EXISTS (SELECT 1 FROM reminder_stats_applied a WHERE a.entry_id = h.id)
		ORDER BY h.sent_at
	`, utc(since))
}

// PurgeBefore deletes entries sent before the cutoff.
func (r *HistoryRepository) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `DELETE FROM reminder_history WHERE sent_at < ?`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("purging history: %w", err)
	}
	return rowsAffected(result), nil
}

func (r *HistoryRepository) list(ctx context.Context, query string, args ...any) ([]models.HistoryEntry, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []models.HistoryEntry
	for rows.Next() {
		var e models.HistoryEntry
		if err := rows.Scan(
			&e.ID, &e.JobID, &e.EventID, &e.RuleID, &e.UserID, &e.Channel, &e.Status, &e.Error,
			&e.Attempt, &e.ResponseTimeMs, &e.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}
