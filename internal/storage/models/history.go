package models

import "time"

// HistoryEntry records one terminal delivery attempt.
type HistoryEntry struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	EventID        string    `json:"event_id"`
	RuleID         string    `json:"rule_id"`
	UserID         string    `json:"user_id"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Error          *string   `json:"error,omitempty"`
	Attempt        int       `json:"attempt"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	SentAt         time.Time `json:"sent_at"`
}

// History status constants
const (
	HistoryStatusSent   = "sent"
	HistoryStatusFailed = "failed"
)
