package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/fanout"
	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/stats"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/storage/storagetest"
	"github.com/investment-reminders/backend/internal/template"
)

// flakyTransport fails the first fails sends with a transient error.
type flakyTransport struct {
	mu    sync.Mutex
	fails int
	sent  []fanout.Message
}

func (f *flakyTransport) Send(_ context.Context, msg fanout.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return fanout.Transient(errors.New("smtp relay unavailable"))
	}
	f.sent = append(f.sent, msg)
	return nil
}

// Weekly Monday 09:00 email reminder, evaluated Monday 08:45: queued, one
// transient failure, retried after the email backoff, then delivered.
func TestMondayReminderEndToEnd(t *testing.T) {
	db := storagetest.NewDB(t)
	ctx := context.Background()

	history := storage.NewHistoryRepository(db)
	aggregator := stats.NewAggregator(storage.NewStatsRepository(db))
	transport := &flakyTransport{fails: 1}

	var c *clock
	dispatcher := fanout.NewDispatcher(fanout.DispatcherConfig{
		Transports:    map[string]fanout.Transport{models.ChannelEmail: transport},
		Notifications: storage.NewNotificationRepository(db),
		History:       history,
		Stats:         aggregator,
		Clock:         func() time.Time { return c.Now() },
		Log:           zerolog.Nop(),
	})

	p := newPipeline(t, dispatcher, db)
	c = p.clock

	email := "dana@example.com"
	contacts := storage.NewContactRepository(db)
	if err := contacts.Upsert(ctx, &models.Contact{UserID: "u1", DisplayName: "Dana", Email: &email}); err != nil {
		t.Fatalf("upserting contact: %v", err)
	}
	e, rule := p.eventWithRule(t, weeklyMonday0900())

	processor := fanout.NewProcessor(p.events, contacts, template.NewEngine(storage.NewTemplateRepository(db)), dispatcher, time.UTC, zerolog.Nop())
	pool := queue.NewPool(p.queue, processor, nil, queue.PoolConfig{}, zerolog.Nop())

	// 08:45: the 09:00 occurrence is inside the lookahead.
	tick, err := p.sched.Tick(ctx)
	if err != nil || tick.Created != 1 {
		t.Fatalf("Tick = %+v, %v", tick, err)
	}

	// Not eligible before its scheduled time.
	if n, _ := pool.RunOnce(ctx); n != 0 {
		t.Fatalf("processed %d jobs before 09:00", n)
	}

	// 09:00: first attempt fails transiently.
	nineAM := monday0845.Add(15 * time.Minute)
	p.clock.Set(nineAM)
	if _, err := pool.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	jobs, err := p.queue.ListByEvent(ctx, e.ID)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("ListByEvent = %d, %v", len(jobs), err)
	}
	job := jobs[0]
	if job.Status != models.JobStatusFailedRetryable || job.RetryCount != 1 {
		t.Fatalf("after failure: status=%s retry_count=%d", job.Status, job.RetryCount)
	}
	if want := nineAM.Add(5 * time.Minute); !job.NextEligibleAt.Equal(want) {
		t.Errorf("next_eligible_at = %v, want %v", job.NextEligibleAt, want)
	}
	if entries, _ := history.ListByJob(ctx, job.ID); len(entries) != 0 {
		t.Errorf("history written for a retryable failure: %+v", entries)
	}

	// 09:05: retry succeeds.
	p.clock.Set(nineAM.Add(5 * time.Minute))
	if n, err := pool.RunOnce(ctx); err != nil || n != 1 {
		t.Fatalf("retry RunOnce = %d, %v", n, err)
	}

	sent, err := p.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sent.Status != models.JobStatusSent {
		t.Fatalf("status = %s, want sent", sent.Status)
	}

	if len(transport.sent) != 1 {
		t.Fatalf("transport accepted %d messages", len(transport.sent))
	}
	msg := transport.sent[0]
	if msg.Recipient != email || len(msg.Body) > 1000 || !strings.Contains(msg.Body, "ACME Q3 earnings") {
		t.Errorf("message = %+v", msg)
	}

	entries, err := history.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(entries) != 1 || entries[0].Status != models.HistoryStatusSent || entries[0].Attempt != 2 {
		t.Errorf("history = %+v", entries)
	}

	summary, err := aggregator.GetStats(ctx, "u1", monday0845, monday0845)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if summary.Sent != 1 || summary.SuccessRate != 1 {
		t.Errorf("stats = %+v", summary)
	}

	updated, err := p.store.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if updated.Status != models.RuleStatusSent {
		t.Errorf("rule status = %s", updated.Status)
	}

	// The next Monday is past the event date, so nothing more is queued.
	tick, err = p.sched.Tick(ctx)
	if err != nil || tick.Due != 0 {
		t.Errorf("follow-up Tick = %+v, %v", tick, err)
	}
}

func TestHousekeeperBackfillsAndPurges(t *testing.T) {
	db := storagetest.NewDB(t)
	ctx := context.Background()

	history := storage.NewHistoryRepository(db)
	statsRepo := storage.NewStatsRepository(db)
	aggregator := stats.NewAggregator(statsRepo)

	h := NewHousekeeper(history, statsRepo, storage.NewDeliveryRepository(db), storage.NewNotificationRepository(db), aggregator, 90, zerolog.Nop())
	h.now = func() time.Time { return monday0845 }

	old := &models.HistoryEntry{JobID: "j-old", UserID: "u1", Status: models.HistoryStatusSent, SentAt: monday0845.AddDate(0, 0, -120)}
	recent := &models.HistoryEntry{JobID: "j-new", UserID: "u1", Status: models.HistoryStatusFailed, SentAt: monday0845.Add(-time.Hour)}
	for _, e := range []*models.HistoryEntry{old, recent} {
		if err := history.Append(ctx, db, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := h.Backfill(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Backfill = %d, %v", n, err)
	}
	if n, _ := h.Backfill(ctx); n != 0 {
		t.Errorf("second Backfill applied %d", n)
	}

	if _, err := aggregator.Record(ctx, old); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := h.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}

	if got, _ := history.ListByJob(ctx, "j-old"); len(got) != 0 {
		t.Error("expired history kept")
	}
	if got, _ := history.ListByJob(ctx, "j-new"); len(got) != 1 {
		t.Error("recent history purged")
	}

	oldStats, err := aggregator.GetStats(ctx, "u1", old.SentAt, old.SentAt)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if oldStats.Total != 0 {
		t.Errorf("expired stats kept: %+v", oldStats)
	}
}
