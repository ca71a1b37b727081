package models

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// ReminderRule describes when and over which channel an event reminder fires.
type ReminderRule struct {
	ID            string     `json:"id"`
	EventID       string     `json:"event_id"`
	UserID        string     `json:"user_id"`
	RuleType      string     `json:"rule_type"`
	FireAt        *time.Time `json:"fire_at,omitempty"`
	IntervalValue *int       `json:"interval_value,omitempty"`
	IntervalUnit  *string    `json:"interval_unit,omitempty"`
	DaysOfWeek    []int      `json:"days_of_week,omitempty"` // 0 = Sunday, 6 = Saturday
	TimeOfDay     string     `json:"time_of_day,omitempty"`  // Format: "15:04"
	Channel       string     `json:"channel"`
	TemplateID    *string    `json:"template_id,omitempty"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastRetryAt   *time.Time `json:"last_retry_at,omitempty"`
	Active        bool       `json:"active"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Rule type constants
const (
	RuleTypeFixed    = "fixed"
	RuleTypeInterval = "interval"
	RuleTypeCustom   = "custom"
)

// Interval unit constants
const (
	IntervalMinutes = "minutes"
	IntervalHours   = "hours"
	IntervalDays    = "days"
	IntervalWeeks   = "weeks"
)

// Rule status constants
const (
	RuleStatusPending = "pending"
	RuleStatusSent    = "sent"
	RuleStatusFailed  = "failed"
)

// Channel constants
const (
	ChannelEmail        = "email"
	ChannelNotification = "notification"
	ChannelSMS          = "sms"
)

// Channels lists every delivery channel.
var Channels = []string{ChannelEmail, ChannelNotification, ChannelSMS}

// RuleWithEvent joins a rule with the event fields needed to compute its fire time.
type RuleWithEvent struct {
	ReminderRule
	EventDate       time.Time `json:"event_date"`
	ReminderEnabled bool      `json:"reminder_enabled"`
}

// FormatDays encodes a day-of-week set as a sorted comma separated list.
func FormatDays(days []int) string {
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)

	parts := make([]string, 0, len(sorted))
	for i, d := range sorted {
		if i > 0 && sorted[i-1] == d {
			continue
		}
		parts = append(parts, strconv.Itoa(d))
	}
	return strings.Join(parts, ",")
}

// ParseDays decodes a list written by FormatDays. Malformed items are skipped.
func ParseDays(s string) []int {
	if s == "" {
		return nil
	}

	var days []int
	for _, part := range strings.Split(s, ",") {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		days = append(days, d)
	}
	return days
}
