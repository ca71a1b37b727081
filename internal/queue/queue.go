// Package queue is the durable delivery queue: jobs move from pending to a
// terminal state through compare-and-set transitions, with per-channel retry
// backoff for transient failures.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/fanout"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// ErrClaimConflict is returned when another worker owns the job or it is no
// longer eligible. It is expected under concurrency.
var ErrClaimConflict = errors.New("job claimed by another worker")

// Finalizer records terminal attempts. Finalize runs inside the transaction
// that settles the job; Completed runs after it commits.
type Finalizer interface {
	Finalize(ctx context.Context, q storage.Queryable, job *models.DeliveryJob, outcome fanout.Outcome) (*models.HistoryEntry, error)
	Completed(ctx context.Context, entry *models.HistoryEntry)
}

// EnqueueRequest describes one rule occurrence to deliver.
type EnqueueRequest struct {
	EventID       string
	RuleID        string
	UserID        string
	Channel       string
	TemplateID    *string
	ScheduledTime time.Time
}

// Config tunes the queue.
type Config struct {
	MaxRetries   int
	StuckTimeout time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Queue manages delivery jobs.
type Queue struct {
	jobs      *storage.DeliveryRepository
	rules     *storage.RuleRepository
	finalizer Finalizer
	cfg       Config
	now       func() time.Time
	log       zerolog.Logger
}

// New creates a delivery queue.
func New(jobs *storage.DeliveryRepository, rules *storage.RuleRepository, finalizer Finalizer, cfg Config, log zerolog.Logger) *Queue {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Queue{
		jobs:      jobs,
		rules:     rules,
		finalizer: finalizer,
		cfg:       cfg,
		now:       cfg.Clock,
		log:       log,
	}
}

// Enqueue adds a pending job for an occurrence. created is false when the
// pair already has a job in flight, the occurrence was already queued, or
// the rule is no longer active.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*models.DeliveryJob, bool, error) {
	job := &models.DeliveryJob{
		EventID:       req.EventID,
		RuleID:        req.RuleID,
		UserID:        req.UserID,
		Channel:       req.Channel,
		TemplateID:    req.TemplateID,
		ScheduledTime: req.ScheduledTime,
		MaxRetries:    q.cfg.MaxRetries,
	}

	created, err := q.jobs.Enqueue(ctx, job)
	if err != nil {
		return nil, false, err
	}
	if !created {
		return nil, false, nil
	}
	return job, true, nil
}

// Claim moves an eligible job to processing for workerID.
func (q *Queue) Claim(ctx context.Context, jobID, workerID string) (*models.DeliveryJob, error) {
	ok, err := q.jobs.Claim(ctx, jobID, workerID, q.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrClaimConflict
	}

	job, err := q.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("claimed job %s vanished", jobID)
	}
	return job, nil
}

// Resolve settles a processing job with the outcome of its attempt and
// returns the job's new status. The job transition, the rule's delivery
// state and the history entry are written in one transaction.
func (q *Queue) Resolve(ctx context.Context, job *models.DeliveryJob, outcome fanout.Outcome) (string, error) {
	if job.WorkerID == nil {
		return "", fmt.Errorf("job %s is not claimed", job.ID)
	}
	now := q.now().UTC()

	var (
		d     decision
		entry *models.HistoryEntry
	)
	err := q.jobs.Transaction(ctx, func(tx *sql.Tx) error {
		cancelRequested, err := q.jobs.CancelRequested(ctx, tx, job.ID)
		if err != nil {
			return err
		}
		d = decide(job, outcome, cancelRequested, now)

		ok, err := q.jobs.Transition(ctx, tx, job.ID, *job.WorkerID, d.transition)
		if err != nil {
			return err
		}
		if !ok {
			return ErrClaimConflict
		}

		if d.ruleStatus != "" {
			err := q.rules.UpdateDeliveryState(ctx, tx, job.RuleID, d.ruleStatus, d.transition.RetryCount, d.transition.LastRetryAt)
			if err != nil {
				return err
			}
		}

		if d.record {
			entry, err = q.finalizer.Finalize(ctx, tx, job, outcome)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log := q.log.With().Str("job_id", job.ID).Str("status", d.transition.Status).Logger()
	switch d.transition.Status {
	case models.JobStatusFailedRetryable:
		log.Info().Err(outcome.Err).Int("retry", d.transition.RetryCount).
			Time("next_eligible_at", d.transition.NextEligibleAt).Msg("delivery will be retried")
	case models.JobStatusFailed:
		log.Warn().Err(outcome.Err).Msg("delivery failed")
	default:
		log.Debug().Msg("delivery settled")
	}

	if entry != nil {
		q.finalizer.Completed(ctx, entry)
	}
	return d.transition.Status, nil
}

// ReclaimStuck settles jobs held in processing longer than the stuck timeout
// as a transient "processing timeout" failure.
func (q *Queue) ReclaimStuck(ctx context.Context) (int, error) {
	stuck, err := q.jobs.ListStuck(ctx, q.now().Add(-q.cfg.StuckTimeout))
	if err != nil {
		return 0, err
	}

	reclaimed := 0
	for i := range stuck {
		job := &stuck[i]
		outcome := fanout.Failure(fanout.Transient(errors.New("processing timeout")), 0)
		if _, err := q.Resolve(ctx, job, outcome); err != nil {
			if errors.Is(err, ErrClaimConflict) {
				continue
			}
			return reclaimed, fmt.Errorf("reclaiming job %s: %w", job.ID, err)
		}
		reclaimed++
	}

	if reclaimed > 0 {
		q.log.Warn().Int("count", reclaimed).Msg("reclaimed stuck jobs")
	}
	return reclaimed, nil
}

// ListEligible returns up to limit claimable job IDs.
func (q *Queue) ListEligible(ctx context.Context, limit int) ([]string, error) {
	return q.jobs.ListEligibleIDs(ctx, q.now(), limit)
}

// CancelForEvent cancels the event's non-terminal jobs. Jobs mid-attempt
// are flagged and settle when the attempt finishes.
func (q *Queue) CancelForEvent(ctx context.Context, eventID string) (cancelled, flagged int, err error) {
	return q.jobs.CancelByEvent(ctx, eventID)
}

// CancelForRule cancels the rule's non-terminal jobs.
func (q *Queue) CancelForRule(ctx context.Context, ruleID string) (cancelled, flagged int, err error) {
	return q.jobs.CancelByRule(ctx, ruleID)
}

// ListByEvent returns the jobs of an event.
func (q *Queue) ListByEvent(ctx context.Context, eventID string) ([]models.DeliveryJob, error) {
	return q.jobs.ListByEvent(ctx, eventID)
}

// Get returns a job by ID, or nil.
func (q *Queue) Get(ctx context.Context, id string) (*models.DeliveryJob, error) {
	return q.jobs.GetByID(ctx, id)
}

// Counts returns the number of jobs per status.
func (q *Queue) Counts(ctx context.Context) (map[string]int, error) {
	return q.jobs.CountByStatus(ctx)
}
