package models

import (
	"time"
)

// DeliveryJob is a single queued reminder delivery for one rule occurrence.
type DeliveryJob struct {
	ID              string     `json:"id"`
	EventID         string     `json:"event_id"`
	RuleID          string     `json:"rule_id"`
	UserID          string     `json:"user_id"`
	Channel         string     `json:"channel"`
	TemplateID      *string    `json:"template_id,omitempty"`
	Status          string     `json:"status"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	NextEligibleAt  time.Time  `json:"next_eligible_at"`
	SentTime        *time.Time `json:"sent_time,omitempty"`
	Error           *string    `json:"error,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	WorkerID        *string    `json:"worker_id,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	LastRetryAt     *time.Time `json:"last_retry_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Job status constants
const (
	JobStatusPending         = "pending"
	JobStatusProcessing      = "processing"
	JobStatusFailedRetryable = "failed_retryable"
	JobStatusSent            = "sent"
	JobStatusFailed          = "failed"
	JobStatusCancelled       = "cancelled"
)

// IsTerminal reports whether the job can no longer transition.
func (j *DeliveryJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusSent, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}
