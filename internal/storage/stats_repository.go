package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// StatsRepository provides data access for per-user daily reminder stats.
type StatsRepository struct {
	BaseRepository
}

// NewStatsRepository creates a new stats repository.
func NewStatsRepository(db *DB) *StatsRepository {
	return &StatsRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Apply folds one history entry into the (userID, date) bucket exactly once.
// The bucket is loaded (zero value when absent), passed to fold and written
// back in the same transaction that records entryID. Reports false when the
// entry had already been applied.
func (r *StatsRepository) Apply(ctx context.Context, entryID, userID, date string, fold func(*models.DailyStats)) (bool, error) {
	applied := false

	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO reminder_stats_applied (entry_id, bucket_date) VALUES (?, ?)
			ON CONFLICT (entry_id) DO NOTHING
		`, entryID, date)
		if err != nil {
			return fmt.Errorf("recording applied entry: %w", err)
		}
		if rowsAffected(res) == 0 {
			return nil
		}

		bucket := models.DailyStats{UserID: userID, Date: date}
		err = tx.QueryRowContext(ctx, `
			SELECT total, sent, failed, avg_response_ms FROM reminder_stats
			WHERE user_id = ? AND bucket_date = ?
		`, userID, date).Scan(&bucket.Total, &bucket.Sent, &bucket.Failed, &bucket.AvgResponseMs)
		if err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("loading stats bucket: %w", err)
		}

		fold(&bucket)

		_, err = tx.ExecContext(ctx, `
			INSERT INTO reminder_stats (user_id, bucket_date, total, sent, failed, avg_response_ms, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, bucket_date) DO UPDATE SET
				total = excluded.total, sent = excluded.sent, failed = excluded.failed,
				avg_response_ms = excluded.avg_response_ms, updated_at = excluded.updated_at
		`, userID, date, bucket.Total, bucket.Sent, bucket.Failed, bucket.AvgResponseMs, r.Now())
		if err != nil {
			return fmt.Errorf("writing stats bucket: %w", err)
		}

		applied = true
		return nil
	})

	return applied, err
}

// ListRange retrieves a user's buckets with from <= date <= to, oldest first.
func (r *StatsRepository) ListRange(ctx context.Context, userID, from, to string) ([]models.DailyStats, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT user_id, bucket_date, total, sent, failed, avg_response_ms
		FROM reminder_stats
		WHERE user_id = ? AND bucket_date >= ? AND bucket_date <= ?
		ORDER BY bucket_date
	`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("querying stats: %w", err)
	}
	defer rows.Close()

	var days []models.DailyStats
	for rows.Next() {
		var d models.DailyStats
		if err := rows.Scan(&d.UserID, &d.Date, &d.Total, &d.Sent, &d.Failed, &d.AvgResponseMs); err != nil {
			return nil, fmt.Errorf("scanning stats: %w", err)
		}
		days = append(days, d)
	}

	return days, rows.Err()
}

// PurgeBefore deletes buckets and applied markers dated before the cutoff date.
func (r *StatsRepository) PurgeBefore(ctx context.Context, date string) (int64, error) {
	var purged int64

	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM reminder_stats WHERE bucket_date < ?`, date)
		if err != nil {
			return fmt.Errorf("purging stats: %w", err)
		}
		purged = rowsAffected(res)

		if _, err := tx.ExecContext(ctx, `DELETE FROM reminder_stats_applied WHERE bucket_date < ?`, date); err != nil {
			return fmt.Errorf("purging applied entries: %w", err)
		}
		return nil
	})

	return purged, err
}
