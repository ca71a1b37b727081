// Package models contains the domain models for the reminder pipeline.
package models

import (
	"time"
)

// Event is an investment calendar entry owned by a user. Reminder rules hang off it.
type Event struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	EventDate       time.Time  `json:"event_date"`
	EventType       string     `json:"event_type"`
	ReminderEnabled bool       `json:"reminder_enabled"`
	ReminderTime    *time.Time `json:"reminder_time,omitempty"`
	FeedID          *string    `json:"feed_id,omitempty"`
	ExternalUID     *string    `json:"external_uid,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Event type constants
const (
	EventTypeDividend = "dividend"
	EventTypeEarnings = "earnings"
	EventTypeIPO      = "ipo"
	EventTypeMeeting  = "meeting"
	EventTypeOther    = "other"
)

// EventTypes lists every accepted event type.
var EventTypes = []string{EventTypeDividend, EventTypeEarnings, EventTypeIPO, EventTypeMeeting, EventTypeOther}
