package models

import "time"

// Notification is an in-app reminder kept in the user's durable history.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	JobID     *string   `json:"job_id,omitempty"`
	EventID   *string   `json:"event_id,omitempty"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Contact holds the addresses reminders are delivered to for one user.
type Contact struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
