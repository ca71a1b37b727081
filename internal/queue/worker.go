package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/fanout"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// Handler performs one delivery attempt for a claimed job.
type Handler interface {
	Handle(ctx context.Context, job *models.DeliveryJob) fanout.Outcome
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	DispatchTimeout time.Duration
}

// Pool polls the queue and processes eligible jobs with bounded concurrency.
type Pool struct {
	queue    *Queue
	handler  Handler
	limiter  *Limiter
	cfg      PoolConfig
	workerID string
	log      zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewPool creates a worker pool. limiter may be nil.
func NewPool(queue *Queue, handler Handler, limiter *Limiter, cfg PoolConfig, log zerolog.Logger) *Pool {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = 30 * time.Second
	}

	workerID := "worker-" + uuid.NewString()
	return &Pool{
		queue:    queue,
		handler:  handler,
		limiter:  limiter,
		cfg:      cfg,
		workerID: workerID,
		log:      log.With().Str("worker_id", workerID).Logger(),
	}
}

// Start begins polling in the background.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	p.log.Info().Int("concurrency", p.cfg.Concurrency).Dur("poll_interval", p.cfg.PollInterval).Msg("starting delivery workers")

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.cfg.PollInterval)
		defer ticker.Stop()

		for {
			if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
				p.log.Error().Err(err).Msg("delivery poll failed")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Stop stops polling and waits for in-flight attempts to settle.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.log.Info().Msg("stopping delivery workers")
	p.cancel()
	<-p.done
	p.log.Info().Msg("delivery workers stopped")
}

// RunOnce reclaims stuck jobs and processes one batch of eligible jobs. It
// returns the number of jobs this pool settled.
func (p *Pool) RunOnce(ctx context.Context) (int, error) {
	if _, err := p.queue.ReclaimStuck(ctx); err != nil {
		return 0, err
	}

	ids, err := p.queue.ListEligible(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		processed int
	)
	sem := make(chan struct{}, p.cfg.Concurrency)

	for i, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.log.Debug().Int("deferred", len(ids)-i).Msg("dispatch rate limit reached")
			break
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			claimed, settled := p.process(ctx, id)
			if !claimed && p.limiter != nil {
				p.limiter.Refund()
			}
			if settled {
				mu.Lock()
				processed++
				mu.Unlock()
			}
		}(id)
	}

	wg.Wait()
	return processed, nil
}

// process claims and attempts one job.
func (p *Pool) process(ctx context.Context, id string) (claimed, settled bool) {
	// Attempts outlive a Stop so they can settle; the dispatch timeout
	// bounds them.
	base := context.WithoutCancel(ctx)

	job, err := p.queue.Claim(base, id, p.workerID)
	if err != nil {
		if !errors.Is(err, ErrClaimConflict) {
			p.log.Error().Err(err).Str("job_id", id).Msg("claiming job")
		}
		return false, false
	}

	dctx, cancel := context.WithTimeout(base, p.cfg.DispatchTimeout)
	outcome := p.handler.Handle(dctx, job)
	cancel()

	if _, err := p.queue.Resolve(base, job, outcome); err != nil {
		if errors.Is(err, ErrClaimConflict) {
			p.log.Warn().Str("job_id", id).Msg("job was reclaimed before its attempt settled")
		} else {
			p.log.Error().Err(err).Str("job_id", id).Msg("settling job")
		}
		return true, false
	}
	return true, true
}
