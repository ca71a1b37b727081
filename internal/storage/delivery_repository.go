package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage/models"
)

// DeliveryRepository persists the delivery queue. Every status change is a
// conditional UPDATE so concurrent workers can never both own a job.
type DeliveryRepository struct {
	BaseRepository
}

// NewDeliveryRepository creates a new delivery queue repository.
func NewDeliveryRepository(db *DB) *DeliveryRepository {
	return &DeliveryRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

const jobColumns = `id, event_id, rule_id, user_id, channel, template_id, status,
	scheduled_time, next_eligible_at, sent_time, error, retry_count, max_retries,
	worker_id, claimed_at, cancel_requested, last_retry_at, created_at, updated_at`

// JobTransition describes the fields written when a processing job settles.
type JobTransition struct {
	Status         string
	RetryCount     int
	NextEligibleAt time.Time
	SentTime       *time.Time
	Error          *string
	LastRetryAt    *time.Time
}

// Enqueue inserts a pending job unless its rule is inactive, another
// non-terminal job exists for the same (event, rule) pair, or the same
// occurrence was already queued. Reports whether a row was written.
func (r *DeliveryRepository) Enqueue(ctx context.Context, job *models.DeliveryJob) (bool, error) {
	job.ID = GenerateID()
	job.Status = models.JobStatusPending
	job.CreatedAt = r.Now()
	job.UpdatedAt = job.CreatedAt
	job.ScheduledTime = utc(job.ScheduledTime)
	if job.NextEligibleAt.IsZero() {
		job.NextEligibleAt = job.ScheduledTime
	}
	job.NextEligibleAt = utc(job.NextEligibleAt)

	result, err := r.DB().ExecContext(ctx, `
		INSERT INTO delivery_queue (
			id, event_id, rule_id, user_id, channel, template_id, status,
			scheduled_time, next_eligible_at, retry_count, max_retries,
			cancel_requested, created_at, updated_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, 0, ?, ?
		WHERE EXISTS (SELECT 1 FROM reminder_rules WHERE id = ? AND active = 1)
		ON CONFLICT DO NOTHING
	`,
		job.ID, job.EventID, job.RuleID, job.UserID, job.Channel, job.TemplateID, job.Status,
		job.ScheduledTime, job.NextEligibleAt, job.MaxRetries, job.CreatedAt, job.UpdatedAt,
		job.RuleID,
	)
	if err != nil {
		return false, fmt.Errorf("enqueueing job: %w", err)
	}

	return rowsAffected(result) == 1, nil
}

// GetByID retrieves a job by its ID. Returns nil if it does not exist.
func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*models.DeliveryJob, error) {
	row := r.DB().QueryRowContext(ctx, `SELECT `+jobColumns+` FROM delivery_queue WHERE id = ?`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying job: %w", err)
	}

	return job, nil
}

// ListByEvent retrieves every job ever queued for an event, newest first.
func (r *DeliveryRepository) ListByEvent(ctx context.Context, eventID string) ([]models.DeliveryJob, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM delivery_queue
		WHERE event_id = ?
		ORDER BY scheduled_time DESC, created_at DESC
	`, eventID)
}

// ListEligibleIDs returns up to limit claimable job IDs, oldest eligibility first.
func (r *DeliveryRepository) ListEligibleIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.DB().QueryContext(ctx, `
		SELECT id FROM delivery_queue
		WHERE status IN ('pending', 'failed_retryable')
		  AND next_eligible_at <= ?
		  AND cancel_requested = 0
		ORDER BY next_eligible_at
		LIMIT ?
	`, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("querying eligible jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning job id: %w", err)
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// Claim moves an eligible job to processing on behalf of workerID.
// Reports false when another worker won the job or it is no longer eligible.
func (r *DeliveryRepository) Claim(ctx context.Context, id, workerID string, now time.Time) (bool, error) {
	now = utc(now)
	result, err := r.DB().ExecContext(ctx, `
		UPDATE delivery_queue SET
			status = 'processing', worker_id = ?, claimed_at = ?, updated_at = ?
		WHERE id = ?
		  AND status IN ('pending', 'failed_retryable')
		  AND next_eligible_at <= ?
		  AND cancel_requested = 0
	`, workerID, now, now, id, now)
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}

	return rowsAffected(result) == 1, nil
}

// Transition settles a processing job owned by workerID.
// Reports false when the job is no longer held by that worker.
func (r *DeliveryRepository) Transition(ctx context.Context, q Queryable, id, workerID string, t JobTransition) (bool, error) {
	result, err := q.ExecContext(ctx, `
		UPDATE delivery_queue SET
			status = ?, retry_count = ?, next_eligible_at = ?, sent_time = ?, error = ?,
			last_retry_at = COALESCE(?, last_retry_at),
			worker_id = NULL, claimed_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'processing' AND worker_id = ?
	`,
		t.Status, t.RetryCount, utc(t.NextEligibleAt), utcPtr(t.SentTime), t.Error,
		utcPtr(t.LastRetryAt), r.Now(), id, workerID,
	)
	if err != nil {
		return false, fmt.Errorf("transitioning job: %w", err)
	}

	return rowsAffected(result) == 1, nil
}

// CancelRequested reports whether cancellation was requested for a job
// while it was being processed.
func (r *DeliveryRepository) CancelRequested(ctx context.Context, q Queryable, id string) (bool, error) {
	var requested bool
	err := q.QueryRowContext(ctx, `SELECT cancel_requested FROM delivery_queue WHERE id = ?`, id).Scan(&requested)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("querying cancel flag: %w", err)
	}
	return requested, nil
}

// ListStuck retrieves processing jobs claimed before the given instant.
func (r *DeliveryRepository) ListStuck(ctx context.Context, claimedBefore time.Time) ([]models.DeliveryJob, error) {
	return r.list(ctx, `
		SELECT `+jobColumns+` FROM delivery_queue
		WHERE status = 'processing' AND claimed_at < ?
		ORDER BY claimed_at
	`, utc(claimedBefore))
}

// CancelByEvent cancels every non-terminal job of an event. Jobs that are
// mid-attempt are only flagged; the worker settles them when it finishes.
func (r *DeliveryRepository) CancelByEvent(ctx context.Context, eventID string) (cancelled, flagged int, err error) {
	return r.cancel(ctx, "event_id", eventID)
}

// CancelByRule cancels every non-terminal job of a rule.
func (r *DeliveryRepository) CancelByRule(ctx context.Context, ruleID string) (cancelled, flagged int, err error) {
	return r.cancel(ctx, "rule_id", ruleID)
}

func (r *DeliveryRepository) cancel(ctx context.Context, column, value string) (int, int, error) {
	var cancelled, flagged int

	err := r.Transaction(ctx, func(tx *sql.Tx) error {
		now := r.Now()

		res, err := tx.ExecContext(ctx, `
			UPDATE delivery_queue SET status = 'cancelled', updated_at = ?
			WHERE `+column+` = ? AND status IN ('pending', 'failed_retryable')
		`, now, value)
		if err != nil {
			return fmt.Errorf("cancelling jobs: %w", err)
		}
		cancelled = int(rowsAffected(res))

		res, err = tx.ExecContext(ctx, `
			UPDATE delivery_queue SET cancel_requested = 1, updated_at = ?
			WHERE `+column+` = ? AND status = 'processing'
		`, now, value)
		if err != nil {
			return fmt.Errorf("flagging in-flight jobs: %w", err)
		}
		flagged = int(rowsAffected(res))

		return nil
	})

	return cancelled, flagged, err
}

// CountByStatus returns the number of jobs in each status.
func (r *DeliveryRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB().QueryContext(ctx, `SELECT status, COUNT(*) FROM delivery_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scanning job count: %w", err)
		}
		counts[status] = n
	}

	return counts, rows.Err()
}

// PurgeTerminalBefore deletes settled jobs last touched before the cutoff.
func (r *DeliveryRepository) PurgeTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx, `
		DELETE FROM delivery_queue
		WHERE status IN ('sent', 'failed', 'cancelled') AND updated_at < ?
	`, utc(before))
	if err != nil {
		return 0, fmt.Errorf("purging jobs: %w", err)
	}

	return rowsAffected(result), nil
}

func (r *DeliveryRepository) list(ctx context.Context, query string, args ...any) ([]models.DeliveryJob, error) {
	rows, err := r.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.DeliveryJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job: %w", err)
		}
		jobs = append(jobs, *job)
	}

	return jobs, rows.Err()
}

func scanJob(s rowScanner) (*models.DeliveryJob, error) {
	job := &models.DeliveryJob{}
	err := s.Scan(
		&job.ID, &job.EventID, &job.RuleID, &job.UserID, &job.Channel, &job.TemplateID, &job.Status,
		&job.ScheduledTime, &job.NextEligibleAt, &job.SentTime, &job.Error, &job.RetryCount,
		&job.MaxRetries, &job.WorkerID, &job.ClaimedAt, &job.CancelRequested, &job.LastRetryAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return job, nil
}
