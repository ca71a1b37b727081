package models

import (
	"time"
)

// CalendarFeed is an ICS feed of investment events (earnings, dividends, ...)
// imported into a user's events.
type CalendarFeed struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Name             string     `json:"name"`
	URL              string     `json:"url"`
	DefaultEventType string     `json:"default_event_type"`
	SyncIntervalMin  int        `json:"sync_interval_min"`
	LastSyncAt       *time.Time `json:"last_sync_at,omitempty"`
	SyncStatus       string     `json:"sync_status"`
	SyncError        *string    `json:"sync_error,omitempty"`
	Enabled          bool       `json:"enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SyncStatus constants
const (
	SyncStatusPending = "pending"
	SyncStatusSyncing = "syncing"
	SyncStatusSuccess = "success"
	SyncStatusError   = "error"
)

// CalendarEvent represents a parsed VEVENT from a feed.
type CalendarEvent struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Start       time.Time `json:"start"`
	AllDay      bool      `json:"all_day"`
}

// FeedSyncResult contains the results of a feed sync.
type FeedSyncResult struct {
	FeedID        string    `json:"feed_id"`
	FeedName      string    `json:"feed_name"`
	EventsFound   int       `json:"events_found"`
	EventsCreated int       `json:"events_created"`
	EventsUpdated int       `json:"events_updated"`
	SyncedAt      time.Time `json:"synced_at"`
}
