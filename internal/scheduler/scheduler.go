// Package scheduler turns due reminder rules into queued deliveries on a
// fixed interval and runs periodic housekeeping.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/rules"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// ErrTickInProgress is returned when a tick starts while another is running.
var ErrTickInProgress = errors.New("scheduler tick already in progress")

// RuleSource lists rules whose next occurrence is due.
type RuleSource interface {
	ListDueRules(ctx context.Context, asOf time.Time, lookahead time.Duration) (*rules.DueScan, error)
}

// Enqueuer queues one rule occurrence.
type Enqueuer interface {
	Enqueue(ctx context.Context, req queue.EnqueueRequest) (*models.DeliveryJob, bool, error)
}

// RuleError is a failure confined to one rule. The tick carries on with the
// remaining rules.
type RuleError struct {
	RuleID  string
	EventID string
	Err     error
}

func (e *RuleError) Error() string {
	return fmt.Sprintf("rule %s (event %s): %v", e.RuleID, e.EventID, e.Err)
}

func (e *RuleError) Unwrap() error { return e.Err }

// TickResult summarises one tick.
type TickResult struct {
	AsOf       time.Time    `json:"as_of"`
	Due        int          `json:"due"`
	Created    int          `json:"created"`
	Duplicates int          `json:"duplicates"`
	Errors     []*RuleError `json:"-"`
}

// Config tunes the scheduler.
type Config struct {
	Interval  time.Duration
	Lookahead time.Duration
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Scheduler runs Tick on a fixed interval.
type Scheduler struct {
	cron    *cron.Cron
	rules   RuleSource
	queue   Enqueuer
	cfg     Config
	running atomic.Bool
	log     zerolog.Logger
}

// New creates a scheduler.
func New(rules RuleSource, q Enqueuer, cfg Config, log zerolog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = 30 * time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Scheduler{
		cron:  cron.New(),
		rules: rules,
		queue: q,
		cfg:   cfg,
		log:   log,
	}
}

// Start begins ticking every interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.log.Info().Dur("interval", s.cfg.Interval).Dur("lookahead", s.cfg.Lookahead).Msg("starting reminder scheduler")

	_, err := s.cron.AddFunc("@every "+s.cfg.Interval.String(), func() {
		if _, err := s.Tick(ctx); err != nil && !errors.Is(err, ErrTickInProgress) {
			s.log.Error().Err(err).Msg("scheduler tick aborted")
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling tick: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop stops ticking and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.log.Info().Msg("stopping reminder scheduler")
	<-s.cron.Stop().Done()
	s.log.Info().Msg("reminder scheduler stopped")
}

// Tick enqueues a delivery for every due rule. A tick that overlaps a
// running one is skipped with ErrTickInProgress. A failure to list rules
// aborts the tick; per-rule failures are collected in the result.
func (s *Scheduler) Tick(ctx context.Context) (*TickResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug().Msg("skipping overlapping scheduler tick")
		return nil, ErrTickInProgress
	}
	defer s.running.Store(false)

	asOf := s.cfg.Clock().UTC()
	result := &TickResult{AsOf: asOf}

	scan, err := s.rules.ListDueRules(ctx, asOf, s.cfg.Lookahead)
	if err != nil {
		return nil, err
	}

	for _, fault := range scan.Faults {
		result.Errors = append(result.Errors, &RuleError{RuleID: fault.RuleID, EventID: fault.EventID, Err: fault.Err})
	}

	result.Due = len(scan.Due)
	for _, due := range scan.Due {
		rule := due.Rule
		_, created, err := s.queue.Enqueue(ctx, queue.EnqueueRequest{
			EventID:       rule.EventID,
			RuleID:        rule.ID,
			UserID:        rule.UserID,
			Channel:       rule.Channel,
			TemplateID:    rule.TemplateID,
			ScheduledTime: due.FireTime,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			result.Errors = append(result.Errors, &RuleError{RuleID: rule.ID, EventID: rule.EventID, Err: err})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Duplicates++
		}
	}

	for _, rerr := range result.Errors {
		s.log.Warn().Err(rerr.Err).Str("rule_id", rerr.RuleID).Str("event_id", rerr.EventID).Msg("rule skipped")
	}

	s.log.Info().
		Int("due", result.Due).
		Int("created", result.Created).
		Int("duplicates", result.Duplicates).
		Int("errors", len(result.Errors)).
		Msg("scheduler tick complete")

	return result, nil
}
