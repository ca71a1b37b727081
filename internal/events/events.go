// Package events publishes reminder delivery outcomes to interested parties.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	TypeReminderDelivered = "reminder.delivered"
	TypeReminderFailed    = "reminder.failed"
)

// Event is one item of the reminder event stream.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New creates an event stamped with a fresh ID and the current time.
func New(eventType, userID string, payload any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// DeliveryPayload describes the terminal outcome of one delivery job.
type DeliveryPayload struct {
	JobID          string    `json:"job_id"`
	EventID        string    `json:"event_id"`
	RuleID         string    `json:"rule_id"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
	Attempt        int       `json:"attempt"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	SentAt         time.Time `json:"sent_at"`
}

// Publisher delivers events to one destination.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Multi publishes to every publisher in turn. A failing publisher does not
// stop the others; their errors are joined.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, event Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
