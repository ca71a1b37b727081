package models

// DailyStats is the per-user aggregate for one calendar day (UTC).
type DailyStats struct {
	UserID        string  `json:"user_id"`
	Date          string  `json:"date"` // Format: "2006-01-02"
	Total         int     `json:"total"`
	Sent          int     `json:"sent"`
	Failed        int     `json:"failed"`
	AvgResponseMs float64 `json:"average_response_ms"`
	SuccessRate   float64 `json:"success_rate"`
}

// StatsSummary aggregates daily buckets over a date range.
type StatsSummary struct {
	UserID            string       `json:"user_id"`
	From              string       `json:"from"`
	To                string       `json:"to"`
	Total             int          `json:"total"`
	Sent              int          `json:"sent"`
	Failed            int          `json:"failed"`
	SuccessRate       float64      `json:"success_rate"`
	AverageResponseMs float64      `json:"average_response_ms"`
	Days              []DailyStats `json:"days"`
}

// StatsDateFormat is the layout of bucket dates.
const StatsDateFormat = "2006-01-02"
