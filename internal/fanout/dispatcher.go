package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/events"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/template"
)

var errNoRecipient = errors.New("no recipient address for channel")

// Recipient is the addressee of a reminder.
type Recipient struct {
	UserID string
	Name   string
	Email  string
	Phone  string
}

// Notifier pushes an in-app notification to the user's live sessions.
type Notifier interface {
	NotifyUser(n *models.Notification) bool
}

// StatsRecorder folds a terminal history entry into the user's stats.
type StatsRecorder interface {
	Record(ctx context.Context, entry *models.HistoryEntry) (bool, error)
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	// Transports by channel; email and sms need one.
	Transports    map[string]Transport
	Notifications *storage.NotificationRepository
	History       *storage.HistoryRepository
	Notifier      Notifier
	Stats         StatsRecorder
	Publisher     events.Publisher
	// HistoryCap is how many in-app notifications are kept per user.
	HistoryCap int
	// Clock defaults to time.Now.
	Clock func() time.Time
	Log   zerolog.Logger
}

// Dispatcher sends rendered reminders and records terminal outcomes.
type Dispatcher struct {
	cfg DispatcherConfig
	now func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.HistoryCap <= 0 {
		cfg.HistoryCap = 100
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &Dispatcher{cfg: cfg, now: cfg.Clock}
}

// Dispatch delivers content for job to recipient over the job's channel.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.DeliveryJob, to Recipient, content *template.RenderedContent) Outcome {
	start := d.now()
	err := d.send(ctx, job, to, content)
	rt := d.now().Sub(start)

	if err != nil {
		return Failure(err, rt)
	}
	return Success(rt)
}

func (d *Dispatcher) send(ctx context.Context, job *models.DeliveryJob, to Recipient, content *template.RenderedContent) error {
	if job.Channel == models.ChannelNotification {
		return d.notify(ctx, job, content)
	}

	var address string
	switch job.Channel {
	case models.ChannelEmail:
		address = to.Email
	case models.ChannelSMS:
		address = to.Phone
	default:
		return Terminal(fmt.Errorf("unknown channel %q", job.Channel))
	}
	if address == "" {
		return Terminal(fmt.Errorf("%w %s", errNoRecipient, job.Channel))
	}

	transport, ok := d.cfg.Transports[job.Channel]
	if !ok {
		return Terminal(fmt.Errorf("no transport configured for %s", job.Channel))
	}

	return transport.Send(ctx, Message{
		JobID:     job.ID,
		UserID:    job.UserID,
		Channel:   job.Channel,
		Recipient: address,
		Subject:   content.Subject,
		Body:      content.Body,
	})
}

// notify stores the notification durably; the live push is best effort.
func (d *Dispatcher) notify(ctx context.Context, job *models.DeliveryJob, content *template.RenderedContent) error {
	jobID, eventID := job.ID, job.EventID
	n := &models.Notification{
		UserID:  job.UserID,
		JobID:   &jobID,
		EventID: &eventID,
		Title:   content.Subject,
		Body:    content.Body,
	}

	inserted, err := d.cfg.Notifications.InsertCapped(ctx, n, d.cfg.HistoryCap)
	if err != nil {
		return Transient(err)
	}
	if !inserted {
		d.cfg.Log.Debug().Str("job_id", job.ID).Msg("notification already stored for job")
		return nil
	}

	if d.cfg.Notifier != nil && !d.cfg.Notifier.NotifyUser(n) {
		d.cfg.Log.Debug().Str("job_id", job.ID).Str("user_id", job.UserID).Msg("no live session for notification")
	}
	return nil
}

// Finalize appends the history entry of a terminal attempt using q, which is
// the transaction that settles the job.
func (d *Dispatcher) Finalize(ctx context.Context, q storage.Queryable, job *models.DeliveryJob, outcome Outcome) (*models.HistoryEntry, error) {
	entry := &models.HistoryEntry{
		JobID:          job.ID,
		EventID:        job.EventID,
		RuleID:         job.RuleID,
		UserID:         job.UserID,
		Channel:        job.Channel,
		Status:         models.HistoryStatusSent,
		Attempt:        job.RetryCount + 1,
		ResponseTimeMs: outcome.ResponseTime.Milliseconds(),
		SentAt:         d.now().UTC(),
	}
	if outcome.Result != ResultSuccess {
		entry.Status = models.HistoryStatusFailed
		if msg := outcome.Message(); msg != "" {
			entry.Error = &msg
		}
	}

	if err := d.cfg.History.Append(ctx, q, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Completed runs after the settling transaction commits: it feeds the stats
// aggregator and publishes the outcome. Failures are logged; stats missed
// here are backfilled by housekeeping.
func (d *Dispatcher) Completed(ctx context.Context, entry *models.HistoryEntry) {
	log := d.cfg.Log.With().Str("job_id", entry.JobID).Str("status", entry.Status).Logger()

	if d.cfg.Stats != nil {
		if _, err := d.cfg.Stats.Record(ctx, entry); err != nil {
			log.Warn().Err(err).Msg("recording stats")
		}
	}

	if d.cfg.Publisher == nil {
		return
	}

	eventType := events.TypeReminderDelivered
	if entry.Status != models.HistoryStatusSent {
		eventType = events.TypeReminderFailed
	}
	payload := events.DeliveryPayload{
		JobID:          entry.JobID,
		EventID:        entry.EventID,
		RuleID:         entry.RuleID,
		Channel:        entry.Channel,
		Status:         entry.Status,
		Attempt:        entry.Attempt,
		ResponseTimeMs: entry.ResponseTimeMs,
		SentAt:         entry.SentAt,
	}
	if entry.Error != nil {
		payload.Error = *entry.Error
	}

	if err := d.cfg.Publisher.Publish(ctx, events.New(eventType, entry.UserID, payload)); err != nil {
		log.Warn().Err(err).Msg("publishing delivery event")
	}
}
