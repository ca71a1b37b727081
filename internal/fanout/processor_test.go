package fanout

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/events"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/storage/storagetest"
	"github.com/investment-reminders/backend/internal/template"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return f.err
}

type fakeNotifier struct {
	got []*models.Notification
}

func (f *fakeNotifier) NotifyUser(n *models.Notification) bool {
	f.got = append(f.got, n)
	return false
}

type fakeStats struct {
	entries []*models.HistoryEntry
}

func (f *fakeStats) Record(_ context.Context, e *models.HistoryEntry) (bool, error) {
	f.entries = append(f.entries, e)
	return true, nil
}

type fakePublisher struct {
	got []events.Event
}

func (f *fakePublisher) Publish(_ context.Context, e events.Event) error {
	f.got = append(f.got, e)
	return nil
}

type fixture struct {
	db            *storage.DB
	events        *storage.EventRepository
	contacts      *storage.ContactRepository
	notifications *storage.NotificationRepository
	history       *storage.HistoryRepository
	email         *fakeTransport
	sms           *fakeTransport
	notifier      *fakeNotifier
	stats         *fakeStats
	publisher     *fakePublisher
	dispatcher    *Dispatcher
	processor     *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storagetest.NewDB(t)

	f := &fixture{
		db:            db,
		events:        storage.NewEventRepository(db),
		contacts:      storage.NewContactRepository(db),
		notifications: storage.NewNotificationRepository(db),
		history:       storage.NewHistoryRepository(db),
		email:         &fakeTransport{},
		sms:           &fakeTransport{},
		notifier:      &fakeNotifier{},
		stats:         &fakeStats{},
		publisher:     &fakePublisher{},
	}

	f.dispatcher = NewDispatcher(DispatcherConfig{
		Transports:    map[string]Transport{models.ChannelEmail: f.email, models.ChannelSMS: f.sms},
		Notifications: f.notifications,
		History:       f.history,
		Notifier:      f.notifier,
		Stats:         f.stats,
		Publisher:     f.publisher,
		HistoryCap:    2,
		Log:           zerolog.Nop(),
	})
	engine := template.NewEngine(storage.NewTemplateRepository(db))
	f.processor = NewProcessor(f.events, f.contacts, engine, f.dispatcher, time.UTC, zerolog.Nop())
	return f
}

func (f *fixture) event(t *testing.T) *models.Event {
	t.Helper()
	e := &models.Event{
		UserID:          "u1",
		Title:           "ACME Q3 earnings",
		EventDate:       time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC),
		EventType:       models.EventTypeEarnings,
		ReminderEnabled: true,
	}
	if err := f.events.Create(context.Background(), e); err != nil {
		t.Fatalf("creating event: %v", err)
	}
	return e
}

func (f *fixture) contact(t *testing.T, email, phone string) {
	t.Helper()
	c := &models.Contact{UserID: "u1", DisplayName: "Dana"}
	if email != "" {
		c.Email = &email
	}
	if phone != "" {
		c.Phone = &phone
	}
	if err := f.contacts.Upsert(context.Background(), c); err != nil {
		t.Fatalf("upserting contact: %v", err)
	}
}

func jobFor(e *models.Event, channel string) *models.DeliveryJob {
	return &models.DeliveryJob{
		ID:            "job-" + channel,
		EventID:       e.ID,
		RuleID:        "r1",
		UserID:        e.UserID,
		Channel:       channel,
		Status:        models.JobStatusProcessing,
		ScheduledTime: e.EventDate.Add(-24 * time.Hour),
		MaxRetries:    3,
	}
}

func TestHandleSendsEmail(t *testing.T) {
	f := newFixture(t)
	e := f.event(t)
	f.contact(t, "dana@example.com", "")

	out := f.processor.Handle(context.Background(), jobFor(e, models.ChannelEmail))
	if out.Result != ResultSuccess {
		t.Fatalf("outcome = %s (%v)", out.Result, out.Err)
	}

	if len(f.email.sent) != 1 {
		t.Fatalf("email transport got %d messages", len(f.email.sent))
	}
	msg := f.email.sent[0]
	if msg.Recipient != "dana@example.com" {
		t.Errorf("recipient = %q", msg.Recipient)
	}
	if msg.Subject != "Reminder: ACME Q3 earnings" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Hi Dana") || !strings.Contains(msg.Body, "Tue, 20 Oct 2026 09:00 UTC") {
		t.Errorf("body = %q", msg.Body)
	}
}

func TestHandleWithoutRecipientIsTerminal(t *testing.T) {
	f := newFixture(t)
	e := f.event(t)
	f.contact(t, "dana@example.com", "")

	out := f.processor.Handle(context.Background(), jobFor(e, models.ChannelSMS))
	if out.Result != ResultTerminal {
		t.Errorf("outcome = %s, want terminal", out.Result)
	}
	if !errors.Is(out.Err, errNoRecipient) {
		t.Errorf("err = %v", out.Err)
	}
	if len(f.sms.sent) != 0 {
		t.Error("message sent without a recipient")
	}
}

func TestHandleMissingEventIsTerminal(t *testing.T) {
	f := newFixture(t)

	job := jobFor(&models.Event{ID: "gone", UserID: "u1"}, models.ChannelNotification)
	if out := f.processor.Handle(context.Background(), job); out.Result != ResultTerminal {
		t.Errorf("outcome = %s, want terminal", out.Result)
	}
}

func TestHandleRenderFailureIsTerminal(t *testing.T) {
	f := newFixture(t)
	e := f.event(t)
	f.contact(t, "", "+15550100")

	// A template with a placeholder no delivery can fill.
	tplRepo := storage.NewTemplateRepository(f.db)
	tpl := &models.ReminderTemplate{
		Name:      "broken",
		Channel:   models.ChannelSMS,
		Body:      "{{eventTitle}} {{eventDate}} {{ticker}}",
		Variables: []string{"eventTitle", "eventDate", "ticker"},
	}
	if err := tplRepo.Create(context.Background(), tpl); err != nil {
		t.Fatalf("creating template: %v", err)
	}

	job := jobFor(e, models.ChannelSMS)
	job.TemplateID = &tpl.ID
	if out := f.processor.Handle(context.Background(), job); out.Result != ResultTerminal {
		t.Errorf("outcome = %s, want terminal", out.Result)
	}
}

func TestTransportFailureIsTransient(t *testing.T) {
	f := newFixture(t)
	e := f.event(t)
	f.contact(t, "", "+15550100")
	f.sms.err = Transient(errors.New("gateway timeout"))

	if out := f.processor.Handle(context.Background(), jobFor(e, models.ChannelSMS)); out.Result != ResultTransient {
		t.Errorf("outcome = %s, want transient", out.Result)
	}
}

func TestNotificationIsStoredAndCapped(t *testing.T) {
	f := newFixture(t)
	e := f.event(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		job := jobFor(e, models.ChannelNotification)
		job.ID = job.ID + string(rune('a'+i))
		if out := f.processor.Handle(ctx, job); out.Result != ResultSuccess {
			t.Fatalf("attempt %d: %s (%v)", i, out.Result, out.Err)
		}
	}

	stored, err := f.notifications.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("listing notifications: %v", err)
	}
	if len(stored) != 2 {
		t.Errorf("kept %d notifications, want 2", len(stored))
	}
	if stored[0].Title != "Upcoming earnings" {
		t.Errorf("title = %q", stored[0].Title)
	}
	if len(f.notifier.got) != 3 {
		t.Errorf("live pushes = %d, want 3", len(f.notifier.got))
	}
}

func TestRepeatedAttemptStoresOneNotification(t *testing.T) {
	f := newFixture(t)
	e := f.event(t)
	ctx := context.Background()
	job := jobFor(e, models.ChannelNotification)

	for i := 0; i < 2; i++ {
		if out := f.processor.Handle(ctx, job); out.Result != ResultSuccess {
			t.Fatalf("attempt %d: %s (%v)", i, out.Result, out.Err)
		}
	}

	stored, err := f.notifications.ListByUser(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("listing notifications: %v", err)
	}
	if len(stored) != 1 {
		t.Errorf("stored %d notifications for one job, want 1", len(stored))
	}
	if len(f.notifier.got) != 1 {
		t.Errorf("live pushes = %d, want 1", len(f.notifier.got))
	}
}

func TestFinalizeAndCompleted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := jobFor(&models.Event{ID: "e1", UserID: "u1"}, models.ChannelSMS)
	job.RetryCount = 2

	outcome := Failure(Terminal(errors.New("number blocked")), 40*time.Millisecond)
	entry, err := f.dispatcher.Finalize(ctx, f.db, job, outcome)
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	f.dispatcher.Completed(ctx, entry)

	stored, err := f.history.ListByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListByJob: %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("history rows = %d, want 1", len(stored))
	}
	got := stored[0]
	if got.Status != models.HistoryStatusFailed || got.Attempt != 3 || got.ResponseTimeMs != 40 {
		t.Errorf("entry = %+v", got)
	}
	if got.Error == nil || !strings.Contains(*got.Error, "number blocked") {
		t.Errorf("error = %v", got.Error)
	}

	if len(f.stats.entries) != 1 {
		t.Errorf("stats recorded %d entries", len(f.stats.entries))
	}
	if len(f.publisher.got) != 1 || f.publisher.got[0].Type != events.TypeReminderFailed {
		t.Errorf("published = %+v", f.publisher.got)
	}
}
