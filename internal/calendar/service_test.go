package calendar

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/storage/storagetest"
	"github.com/investment-reminders/backend/internal/validation"
)

type fixture struct {
	svc     *Service
	events  *storage.EventRepository
	rules   *storage.RuleRepository
	history *storage.HistoryRepository
	feeds   *storage.FeedRepository
	queue   *queue.Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewDB(t)

	f := &fixture{
		events:  storage.NewEventRepository(db),
		rules:   storage.NewRuleRepository(db),
		history: storage.NewHistoryRepository(db),
		feeds:   storage.NewFeedRepository(db),
	}
	f.queue = queue.New(storage.NewDeliveryRepository(db), f.rules, nil, queue.Config{MaxRetries: 3}, zerolog.Nop())
	f.svc = NewService(f.events, f.rules, f.queue, zerolog.Nop())
	return f
}

var eventDate = time.Date(2026, 10, 23, 14, 0, 0, 0, time.UTC)

func earningsInput() EventInput {
	return EventInput{
		Title:     "ACME Q3 earnings",
		EventDate: eventDate,
		EventType: models.EventTypeEarnings,
	}
}

// withQueuedJob attaches a fixed rule to a new event and queues its delivery.
func (f *fixture) withQueuedJob(t *testing.T) (*models.Event, *models.ReminderRule, *models.DeliveryJob) {
	t.Helper()
	ctx := context.Background()

	event, err := f.svc.Create(ctx, "u1", earningsInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fireAt := eventDate.Add(-time.Hour)
	rule := &models.ReminderRule{
		EventID:  event.ID,
		UserID:   "u1",
		RuleType: models.RuleTypeFixed,
		FireAt:   &fireAt,
		Channel:  models.ChannelEmail,
		Status:   models.RuleStatusPending,
		Active:   true,
	}
	if err := f.rules.Create(ctx, rule); err != nil {
		t.Fatalf("creating rule: %v", err)
	}

	job, created, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{
		EventID:       event.ID,
		RuleID:        rule.ID,
		UserID:        "u1",
		Channel:       rule.Channel,
		ScheduledTime: fireAt,
	})
	if err != nil || !created {
		t.Fatalf("Enqueue: created=%v err=%v", created, err)
	}
	return event, rule, job
}

func TestCreateValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), "u1", EventInput{EventType: "party"})
	verr, ok := validation.As(err)
	if !ok {
		t.Fatalf("err = %v, want validation error", err)
	}
	if len(verr.Problems) != 3 {
		t.Errorf("problems = %+v, want title, event_date and event_type", verr.Problems)
	}
}

func TestCreateEnablesRemindersByDefault(t *testing.T) {
	f := newFixture(t)

	event, err := f.svc.Create(context.Background(), "u1", earningsInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !event.ReminderEnabled {
		t.Error("reminders should default to enabled")
	}
}

func TestGetHidesOtherUsersEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	event, err := f.svc.Create(ctx, "u1", earningsInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := f.svc.Get(ctx, "u2", event.ID); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("err = %v, want ErrEventNotFound", err)
	}
	deleted, err := f.svc.Delete(ctx, "u2", event.ID)
	if err != nil || deleted {
		t.Errorf("Delete by another user = %v, %v", deleted, err)
	}
}

func TestDeleteWhilePendingCancelsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event, rule, job := f.withQueuedJob(t)

	deleted, err := f.svc.Delete(ctx, "u1", event.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}

	got, err := f.queue.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Status != models.JobStatusCancelled {
		t.Fatalf("job = %+v, want cancelled", got)
	}

	history, err := f.history.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(history) != 0 {
		t.Errorf("history = %+v, want none", history)
	}

	if r, err := f.rules.GetByID(ctx, rule.ID); err != nil || r != nil {
		t.Errorf("rule still present: %+v, %v", r, err)
	}
	if e, err := f.events.GetByID(ctx, event.ID); err != nil || e != nil {
		t.Errorf("event still present: %+v, %v", e, err)
	}
}

func TestDisablingRemindersCascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event, rule, job := f.withQueuedJob(t)

	if _, err := f.svc.SetReminders(ctx, "u1", event.ID, false); err != nil {
		t.Fatalf("SetReminders(false): %v", err)
	}

	got, _ := f.queue.Get(ctx, job.ID)
	if got.Status != models.JobStatusCancelled {
		t.Errorf("job status = %s, want cancelled", got.Status)
	}
	r, _ := f.rules.GetByID(ctx, rule.ID)
	if r.Active {
		t.Error("rule should be inactive")
	}

	// Inactive rules are not enqueued.
	_, created, err := f.queue.Enqueue(ctx, queue.EnqueueRequest{
		EventID: event.ID, RuleID: rule.ID, UserID: "u1", Channel: rule.Channel, ScheduledTime: *rule.FireAt,
	})
	if err != nil || created {
		t.Errorf("Enqueue on inactive rule = %v, %v", created, err)
	}

	updated, err := f.svc.SetReminders(ctx, "u1", event.ID, true)
	if err != nil {
		t.Fatalf("SetReminders(true): %v", err)
	}
	if !updated.ReminderEnabled {
		t.Error("event reminders should be enabled")
	}
	r, _ = f.rules.GetByID(ctx, rule.ID)
	if !r.Active {
		t.Error("rule should be active again")
	}
}

func TestMovingEventDateCancelsQueuedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event, _, job := f.withQueuedJob(t)

	in := earningsInput()
	in.EventDate = eventDate.Add(48 * time.Hour)
	if _, err := f.svc.Update(ctx, "u1", event.ID, in); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := f.queue.Get(ctx, job.ID)
	if got.Status != models.JobStatusCancelled {
		t.Errorf("job status = %s, want cancelled", got.Status)
	}
}

func TestUpdateKeepingDateLeavesJobsQueued(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	event, _, job := f.withQueuedJob(t)

	in := earningsInput()
	in.Title = "ACME Q3 earnings (confirmed)"
	updated, err := f.svc.Update(ctx, "u1", event.ID, in)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Title != in.Title {
		t.Errorf("title = %q", updated.Title)
	}

	got, _ := f.queue.Get(ctx, job.ID)
	if got.Status != models.JobStatusPending {
		t.Errorf("job status = %s, want pending", got.Status)
	}
}

func TestImportCreatesThenUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	feed := &models.CalendarFeed{UserID: "u1", Name: "ACME IR", URL: "http://ir.example/feed.ics", DefaultEventType: models.EventTypeOther, Enabled: true}
	if err := f.feeds.Create(ctx, feed); err != nil {
		t.Fatalf("creating feed: %v", err)
	}

	entry := models.CalendarEvent{UID: "acme-div", Summary: "ACME dividend payment", Start: eventDate}

	created, updated, err := f.svc.Import(ctx, feed, entry)
	if err != nil || !created || updated {
		t.Fatalf("first Import = %v, %v, %v", created, updated, err)
	}

	created, updated, err = f.svc.Import(ctx, feed, entry)
	if err != nil || created || updated {
		t.Fatalf("unchanged Import = %v, %v, %v", created, updated, err)
	}

	entry.Start = eventDate.Add(24 * time.Hour)
	created, updated, err = f.svc.Import(ctx, feed, entry)
	if err != nil || created || !updated {
		t.Fatalf("changed Import = %v, %v, %v", created, updated, err)
	}

	event, err := f.events.GetByFeedUID(ctx, feed.ID, "acme-div")
	if err != nil || event == nil {
		t.Fatalf("GetByFeedUID: %+v, %v", event, err)
	}
	if event.EventType != models.EventTypeDividend || !event.EventDate.Equal(entry.Start) || event.UserID != "u1" {
		t.Errorf("event = %+v", event)
	}
}
