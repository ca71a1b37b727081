package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/rules"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/storage/storagetest"
)

// 2026-10-19 is a Monday.
var monday0845 = time.Date(2026, 10, 19, 8, 45, 0, 0, time.UTC)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type fakeSource struct {
	scan  *rules.DueScan
	err   error
	block chan struct{}
	calls chan struct{}
}

func (f *fakeSource) ListDueRules(ctx context.Context, _ time.Time, _ time.Duration) (*rules.DueScan, error) {
	if f.calls != nil {
		f.calls <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	return f.scan, f.err
}

type fakeEnqueuer struct {
	failRule string
	got      []queue.EnqueueRequest
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, req queue.EnqueueRequest) (*models.DeliveryJob, bool, error) {
	if req.RuleID == f.failRule {
		return nil, false, errors.New("disk full")
	}
	f.got = append(f.got, req)
	return &models.DeliveryJob{RuleID: req.RuleID}, true, nil
}

func dueRule(id string) rules.DueRule {
	return rules.DueRule{
		Rule: models.RuleWithEvent{ReminderRule: models.ReminderRule{
			ID: id, EventID: "e-" + id, UserID: "u1", Channel: models.ChannelSMS,
		}},
		FireTime: monday0845.Add(15 * time.Minute),
	}
}

func TestTickContinuesPastRuleFailures(t *testing.T) {
	src := &fakeSource{scan: &rules.DueScan{
		Due:    []rules.DueRule{dueRule("r1"), dueRule("r2"), dueRule("r3")},
		Faults: []rules.RuleFault{{RuleID: "r4", EventID: "e-r4", Err: errors.New("bad time of day")}},
	}}
	enq := &fakeEnqueuer{failRule: "r2"}
	s := New(src, enq, Config{Clock: func() time.Time { return monday0845 }}, zerolog.Nop())

	result, err := s.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if result.Created != 2 || len(enq.got) != 2 {
		t.Errorf("created=%d enqueued=%d, want 2", result.Created, len(enq.got))
	}
	if len(result.Errors) != 2 {
		t.Fatalf("errors = %v, want 2", result.Errors)
	}
	failed := map[string]bool{}
	for _, e := range result.Errors {
		failed[e.RuleID] = true
	}
	if !failed["r2"] || !failed["r4"] {
		t.Errorf("failed rules = %v", failed)
	}
}

func TestTickAbortsWhenRulesUnavailable(t *testing.T) {
	src := &fakeSource{err: errors.New("database is locked")}
	enq := &fakeEnqueuer{}
	s := New(src, enq, Config{}, zerolog.Nop())

	if _, err := s.Tick(context.Background()); err == nil {
		t.Fatal("Tick succeeded without rules")
	}
	if len(enq.got) != 0 {
		t.Error("jobs enqueued by an aborted tick")
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	src := &fakeSource{
		scan:  &rules.DueScan{},
		block: make(chan struct{}),
		calls: make(chan struct{}, 2),
	}
	s := New(src, &fakeEnqueuer{}, Config{}, zerolog.Nop())

	done := make(chan error)
	go func() {
		_, err := s.Tick(context.Background())
		done <- err
	}()
	<-src.calls

	if _, err := s.Tick(context.Background()); !errors.Is(err, ErrTickInProgress) {
		t.Errorf("overlapping Tick = %v, want ErrTickInProgress", err)
	}

	close(src.block)
	if err := <-done; err != nil {
		t.Errorf("first Tick: %v", err)
	}
	if len(src.calls) != 0 {
		t.Error("overlapping tick listed rules")
	}
}

type pipeline struct {
	clock  *clock
	events *storage.EventRepository
	store  *rules.Store
	queue  *queue.Queue
	sched  *Scheduler
	jobs   *storage.DeliveryRepository
}

func newPipeline(t *testing.T, finalizer queue.Finalizer, db *storage.DB) *pipeline {
	t.Helper()
	c := &clock{now: monday0845}

	p := &pipeline{
		clock:  c,
		events: storage.NewEventRepository(db),
		jobs:   storage.NewDeliveryRepository(db),
	}
	ruleRepo := storage.NewRuleRepository(db)
	p.queue = queue.New(p.jobs, ruleRepo, finalizer, queue.Config{MaxRetries: 3, Clock: c.Now}, zerolog.Nop())
	p.store = rules.NewStore(ruleRepo, p.events, storage.NewTemplateRepository(db), p.queue, rules.NewEvaluator(time.UTC))
	p.sched = New(p.store, p.queue, Config{Lookahead: 30 * time.Minute, Clock: c.Now}, zerolog.Nop())
	return p
}

func (p *pipeline) eventWithRule(t *testing.T, spec rules.RuleSpec) (*models.Event, *models.ReminderRule) {
	t.Helper()
	ctx := context.Background()
	e := &models.Event{
		UserID:          "u1",
		Title:           "ACME Q3 earnings",
		EventDate:       time.Date(2026, 10, 23, 14, 0, 0, 0, time.UTC),
		EventType:       models.EventTypeEarnings,
		ReminderEnabled: true,
	}
	if err := p.events.Create(ctx, e); err != nil {
		t.Fatalf("creating event: %v", err)
	}
	r, err := p.store.CreateRule(ctx, e.ID, "u1", spec)
	if err != nil {
		t.Fatalf("creating rule: %v", err)
	}
	return e, r
}

func weeklyMonday0900() rules.RuleSpec {
	return rules.RuleSpec{
		RuleType:   models.RuleTypeCustom,
		Channel:    models.ChannelEmail,
		DaysOfWeek: []int{1},
		TimeOfDay:  "09:00",
	}
}

func TestTwoTicksEnqueueOnce(t *testing.T) {
	p := newPipeline(t, nil, storagetest.NewDB(t))
	ctx := context.Background()
	e, _ := p.eventWithRule(t, weeklyMonday0900())

	first, err := p.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("first Tick: %v", err)
	}
	p.clock.Set(monday0845.Add(time.Minute))
	second, err := p.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("second Tick: %v", err)
	}

	if first.Created != 1 || second.Created != 0 || second.Duplicates != 1 {
		t.Errorf("first=%+v second=%+v", first, second)
	}

	jobs, err := p.queue.ListByEvent(ctx, e.ID)
	if err != nil {
		t.Fatalf("ListByEvent: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(jobs))
	}
	if want := monday0845.Add(15 * time.Minute); !jobs[0].ScheduledTime.Equal(want) {
		t.Errorf("scheduled %v, want %v", jobs[0].ScheduledTime, want)
	}
}

func TestRuleOutsideLookaheadIsNotQueued(t *testing.T) {
	p := newPipeline(t, nil, storagetest.NewDB(t))
	ctx := context.Background()
	p.clock.Set(monday0845.Add(-2 * time.Hour))
	p.eventWithRule(t, weeklyMonday0900())

	result, err := p.sched.Tick(ctx)
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if result.Due != 0 || result.Created != 0 {
		t.Errorf("result = %+v", result)
	}
}
