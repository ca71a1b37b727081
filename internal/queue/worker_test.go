package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/fanout"
	"github.com/investment-reminders/backend/internal/storage/models"
)

type countingHandler struct {
	mu   sync.Mutex
	jobs []string
	out  fanout.Outcome
}

func (h *countingHandler) Handle(_ context.Context, job *models.DeliveryJob) fanout.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.jobs = append(h.jobs, job.ID)
	return h.out
}

func TestLimiterWindow(t *testing.T) {
	c := &clock{now: t0}
	l := NewLimiter(2, time.Minute)
	l.now = c.Now

	if !l.Allow() || !l.Allow() {
		t.Fatal("first two calls refused")
	}
	if l.Allow() {
		t.Error("third call allowed inside the window")
	}

	l.Refund()
	if !l.Allow() {
		t.Error("refunded slot not reusable")
	}

	c.Advance(time.Minute)
	if !l.Allow() {
		t.Error("new window refused")
	}
}

func TestPoolRunOnceSettlesEligibleJobs(t *testing.T) {
	f := newFixture(t, models.ChannelNotification)
	job := f.enqueue(t)

	h := &countingHandler{out: fanout.Success(time.Millisecond)}
	pool := NewPool(f.queue, h, NewLimiter(10, time.Minute), PoolConfig{Concurrency: 2}, zerolog.Nop())

	n, err := pool.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if n != 1 || len(h.jobs) != 1 || h.jobs[0] != job.ID {
		t.Errorf("processed=%d handled=%v", n, h.jobs)
	}
	if got := f.job(t, job.ID); got.Status != models.JobStatusSent {
		t.Errorf("status = %s", got.Status)
	}

	// Nothing left to do.
	if n, _ := pool.RunOnce(context.Background()); n != 0 {
		t.Errorf("second run processed %d", n)
	}
}

func TestPoolLeavesRateLimitedJobsPending(t *testing.T) {
	f := newFixture(t, models.ChannelSMS)
	job := f.enqueue(t)

	limiter := NewLimiter(1, time.Minute)
	limiter.Allow()

	h := &countingHandler{out: fanout.Success(0)}
	pool := NewPool(f.queue, h, limiter, PoolConfig{}, zerolog.Nop())

	if n, err := pool.RunOnce(context.Background()); err != nil || n != 0 {
		t.Fatalf("RunOnce = %d, %v", n, err)
	}

	got := f.job(t, job.ID)
	if got.Status != models.JobStatusPending || got.RetryCount != 0 {
		t.Errorf("status=%s retry_count=%d", got.Status, got.RetryCount)
	}
}
