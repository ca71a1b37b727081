package websocket

import (
	"context"

	"github.com/investment-reminders/backend/internal/events"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/rs/zerolog"
)

// EventBroadcaster turns domain events into WebSocket messages for their user.
type EventBroadcaster struct {
	hub *Hub
	log zerolog.Logger
}

// NewEventBroadcaster creates a new event broadcaster.
func NewEventBroadcaster(hub *Hub, log zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{hub: hub, log: log}
}

// Publish pushes a reminder event to the user's live sessions. A user
// without a session is not an error.
func (b *EventBroadcaster) Publish(_ context.Context, e events.Event) error {
	msg := NewMessage(MessageType(e.Type), e.Payload)
	msg.ID = e.ID
	msg.Timestamp = e.Timestamp
	b.send(e.UserID, msg)
	return nil
}

// NotifyUser pushes an in-app notification. Reports whether a live session
// received it.
func (b *EventBroadcaster) NotifyUser(n *models.Notification) bool {
	return b.send(n.UserID, NewMessage(TypeNotification, NotificationPayload{
		ID:        n.ID,
		EventID:   n.EventID,
		Title:     n.Title,
		Body:      n.Body,
		CreatedAt: n.CreatedAt,
	}))
}

// BroadcastCalendarSyncCompleted sends a feed sync completed event.
func (b *EventBroadcaster) BroadcastCalendarSyncCompleted(userID string, result models.FeedSyncResult) {
	b.send(userID, NewMessage(TypeCalendarSyncCompleted, CalendarSyncPayload{
		FeedID:        result.FeedID,
		FeedName:      result.FeedName,
		EventsFound:   result.EventsFound,
		EventsCreated: result.EventsCreated,
		EventsUpdated: result.EventsUpdated,
	}))
}

// BroadcastCalendarSyncError sends a feed sync error event.
func (b *EventBroadcaster) BroadcastCalendarSyncError(userID, feedID, feedName string, err error) {
	b.send(userID, NewMessage(TypeCalendarSyncError, CalendarSyncErrorPayload{
		FeedID:   feedID,
		FeedName: feedName,
		Message:  err.Error(),
	}))
}

func (b *EventBroadcaster) send(userID string, msg Message) bool {
	data, err := msg.JSON()
	if err != nil {
		b.log.Error().Err(err).Str("type", string(msg.Type)).Msg("encoding websocket message")
		return false
	}
	return b.hub.SendToUser(userID, data)
}
