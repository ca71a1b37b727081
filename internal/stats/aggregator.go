// Package stats keeps per-user daily delivery counts and response times.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// Aggregator folds terminal history entries into daily buckets.
type Aggregator struct {
	repo *storage.StatsRepository
}

// NewAggregator creates a stats aggregator.
func NewAggregator(repo *storage.StatsRepository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Record applies one history entry to its owner's bucket for the UTC day it
// was sent. Recording the same entry again is a no-op and reports false.
func (a *Aggregator) Record(ctx context.Context, entry *models.HistoryEntry) (bool, error) {
	date := entry.SentAt.UTC().Format(models.StatsDateFormat)

	applied, err := a.repo.Apply(ctx, entry.ID, entry.UserID, date, func(b *models.DailyStats) {
		fold(b, entry)
	})
	if err != nil {
		return false, fmt.Errorf("recording stats for %s: %w", entry.ID, err)
	}
	return applied, nil
}

// fold adds one outcome to a bucket. The average is a running mean over
// every recorded attempt.
func fold(b *models.DailyStats, entry *models.HistoryEntry) {
	rt := float64(entry.ResponseTimeMs)
	b.AvgResponseMs += (rt - b.AvgResponseMs) / float64(b.Total+1)
	b.Total++

	switch entry.Status {
	case models.HistoryStatusSent:
		b.Sent++
	case models.HistoryStatusFailed:
		b.Failed++
	}
}

// GetStats summarises a user's buckets for the days from..to inclusive.
func (a *Aggregator) GetStats(ctx context.Context, userID string, from, to time.Time) (*models.StatsSummary, error) {
	fromDate := from.UTC().Format(models.StatsDateFormat)
	toDate := to.UTC().Format(models.StatsDateFormat)

	days, err := a.repo.ListRange(ctx, userID, fromDate, toDate)
	if err != nil {
		return nil, err
	}

	summary := &models.StatsSummary{
		UserID: userID,
		From:   fromDate,
		To:     toDate,
		Days:   make([]models.DailyStats, 0, len(days)),
	}

	var weighted float64
	for _, d := range days {
		d.SuccessRate = successRate(d.Sent, d.Failed)
		summary.Days = append(summary.Days, d)

		summary.Total += d.Total
		summary.Sent += d.Sent
		summary.Failed += d.Failed
		weighted += d.AvgResponseMs * float64(d.Total)
	}

	summary.SuccessRate = successRate(summary.Sent, summary.Failed)
	if summary.Total > 0 {
		summary.AverageResponseMs = weighted / float64(summary.Total)
	}

	return summary, nil
}

func successRate(sent, failed int) float64 {
	if sent+failed == 0 {
		return 0
	}
	return float64(sent) / float64(sent+failed)
}
