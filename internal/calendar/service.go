package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/validation"
)

// ErrEventNotFound is returned when an event does not exist for the user.
var ErrEventNotFound = errors.New("event not found")

// JobCanceller cancels the queued deliveries of an event.
type JobCanceller interface {
	CancelForEvent(ctx context.Context, eventID string) (cancelled, flagged int, err error)
}

// EventInput is the user-editable part of an event.
type EventInput struct {
	Title           string     `json:"title" validate:"required,max=200"`
	Description     string     `json:"description" validate:"max=2000"`
	EventDate       time.Time  `json:"event_date" validate:"required"`
	EventType       string     `json:"event_type" validate:"required,oneof=dividend earnings ipo meeting other"`
	ReminderEnabled *bool      `json:"reminder_enabled,omitempty"`
	ReminderTime    *time.Time `json:"reminder_time,omitempty"`
}

// Service owns the event lifecycle and keeps rules and queued deliveries
// consistent with it.
type Service struct {
	events *storage.EventRepository
	rules  *storage.RuleRepository
	jobs   JobCanceller
	log    zerolog.Logger
}

// NewService creates an event service.
func NewService(events *storage.EventRepository, rules *storage.RuleRepository, jobs JobCanceller, log zerolog.Logger) *Service {
	return &Service{events: events, rules: rules, jobs: jobs, log: log}
}

// Create validates in and stores a new event for userID. Reminders are
// enabled unless in says otherwise.
func (s *Service) Create(ctx context.Context, userID string, in EventInput) (*models.Event, error) {
	if err := validation.Struct("event", in).Err(); err != nil {
		return nil, err
	}

	event := &models.Event{
		UserID:          userID,
		Title:           in.Title,
		Description:     in.Description,
		EventDate:       in.EventDate,
		EventType:       in.EventType,
		ReminderEnabled: in.ReminderEnabled == nil || *in.ReminderEnabled,
		ReminderTime:    in.ReminderTime,
	}
	if err := s.events.Create(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// Get returns one of the user's events.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Event, error) {
	event, err := s.events.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil || event.UserID != userID {
		return nil, ErrEventNotFound
	}
	return event, nil
}

// List returns the user's events.
func (s *Service) List(ctx context.Context, userID string) ([]models.Event, error) {
	return s.events.ListByUser(ctx, userID)
}

// Update replaces an event's fields. Moving the event date cancels queued
// deliveries so the next scheduler tick recomputes them; toggling reminders
// cascades to the event's rules.
func (s *Service) Update(ctx context.Context, userID, id string, in EventInput) (*models.Event, error) {
	if err := validation.Struct("event", in).Err(); err != nil {
		return nil, err
	}

	event, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	dateChanged := !event.EventDate.Equal(in.EventDate)
	event.Title = in.Title
	event.Description = in.Description
	event.EventDate = in.EventDate
	event.EventType = in.EventType
	event.ReminderTime = in.ReminderTime

	if err := s.events.Update(ctx, event); err != nil {
		return nil, err
	}

	if dateChanged {
		if err := s.cancelJobs(ctx, event.ID); err != nil {
			return nil, err
		}
	}

	if in.ReminderEnabled != nil && *in.ReminderEnabled != event.ReminderEnabled {
		return s.SetReminders(ctx, userID, id, *in.ReminderEnabled)
	}
	return event, nil
}

// SetReminders enables or disables reminders for an event. Disabling
// deactivates every rule and cancels queued deliveries; enabling
// reactivates the rules.
func (s *Service) SetReminders(ctx context.Context, userID, id string, enabled bool) (*models.Event, error) {
	event, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if event.ReminderEnabled != enabled {
		event.ReminderEnabled = enabled
		if err := s.events.Update(ctx, event); err != nil {
			return nil, err
		}
	}

	n, err := s.rules.SetActiveByEvent(ctx, event.ID, enabled)
	if err != nil {
		return nil, err
	}
	if !enabled {
		if err := s.cancelJobs(ctx, event.ID); err != nil {
			return nil, err
		}
	}

	s.log.Info().Str("event_id", event.ID).Bool("enabled", enabled).Int("rules", n).Msg("event reminders toggled")
	return event, nil
}

// Delete removes an event with its rules after cancelling its queued
// deliveries. Reports false when the user has no such event.
func (s *Service) Delete(ctx context.Context, userID, id string) (bool, error) {
	event, err := s.Get(ctx, userID, id)
	if errors.Is(err, ErrEventNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Deactivate first so a concurrent tick cannot enqueue for the event.
	if _, err := s.rules.SetActiveByEvent(ctx, event.ID, false); err != nil {
		return false, err
	}
	if err := s.cancelJobs(ctx, event.ID); err != nil {
		return false, err
	}

	return s.events.Delete(ctx, event.ID)
}

// Import creates or refreshes an event from a feed entry. Reports whether
// the event was created or changed.
func (s *Service) Import(ctx context.Context, feed *models.CalendarFeed, entry models.CalendarEvent) (created, updated bool, err error) {
	existing, err := s.events.GetByFeedUID(ctx, feed.ID, entry.UID)
	if err != nil {
		return false, false, err
	}

	in := EventInput{
		Title:       entry.Summary,
		Description: entry.Description,
		EventDate:   entry.Start,
		EventType:   InferEventType(entry.Summary, feed.DefaultEventType),
	}
	if in.Title == "" {
		in.Title = entry.UID
	}

	if existing == nil {
		if err := validation.Struct("event", in).Err(); err != nil {
			return false, false, err
		}
		feedID, uid := feed.ID, entry.UID
		event := &models.Event{
			UserID:          feed.UserID,
			Title:           in.Title,
			Description:     in.Description,
			EventDate:       in.EventDate,
			EventType:       in.EventType,
			ReminderEnabled: true,
			FeedID:          &feedID,
			ExternalUID:     &uid,
		}
		if err := s.events.Create(ctx, event); err != nil {
			return false, false, err
		}
		return true, false, nil
	}

	if existing.Title == in.Title && existing.Description == in.Description && existing.EventDate.Equal(in.EventDate) {
		return false, false, nil
	}

	in.EventType = existing.EventType
	in.ReminderTime = existing.ReminderTime
	if _, err := s.Update(ctx, existing.UserID, existing.ID, in); err != nil {
		return false, false, err
	}
	return false, true, nil
}

func (s *Service) cancelJobs(ctx context.Context, eventID string) error {
	cancelled, flagged, err := s.jobs.CancelForEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("cancelling deliveries for event %s: %w", eventID, err)
	}
	if cancelled+flagged > 0 {
		s.log.Info().Str("event_id", eventID).Int("cancelled", cancelled).Int("in_flight", flagged).Msg("cancelled queued deliveries")
	}
	return nil
}
