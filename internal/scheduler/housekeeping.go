package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// StatsRecorder applies history entries to the stats buckets.
type StatsRecorder interface {
	Record(ctx context.Context, entry *models.HistoryEntry) (bool, error)
}

// Housekeeper enforces retention and backfills stats for history entries
// whose post-commit stats update was lost.
type Housekeeper struct {
	cron          *cron.Cron
	history       *storage.HistoryRepository
	stats         *storage.StatsRepository
	jobs          *storage.DeliveryRepository
	notifications *storage.NotificationRepository
	recorder      StatsRecorder
	retention     time.Duration
	now           func() time.Time
	log           zerolog.Logger
}

// NewHousekeeper creates a housekeeper keeping retentionDays of data.
func NewHousekeeper(
	history *storage.HistoryRepository,
	stats *storage.StatsRepository,
	jobs *storage.DeliveryRepository,
	notifications *storage.NotificationRepository,
	recorder StatsRecorder,
	retentionDays int,
	log zerolog.Logger,
) *Housekeeper {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Housekeeper{
		cron:          cron.New(),
		history:       history,
		stats:         stats,
		jobs:          jobs,
		notifications: notifications,
		recorder:      recorder,
		retention:     time.Duration(retentionDays) * 24 * time.Hour,
		now:           time.Now,
		log:           log,
	}
}

// Start runs the stats backfill every 10 minutes and the retention purge daily.
func (h *Housekeeper) Start(ctx context.Context) error {
	if _, err := h.cron.AddFunc("@every 10m", func() {
		if _, err := h.Backfill(ctx); err != nil {
			h.log.Error().Err(err).Msg("stats backfill failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling backfill: %w", err)
	}

	if _, err := h.cron.AddFunc("@daily", func() {
		if err := h.Purge(ctx); err != nil {
			h.log.Error().Err(err).Msg("retention purge failed")
		}
	}); err != nil {
		return fmt.Errorf("scheduling purge: %w", err)
	}

	h.cron.Start()
	return nil
}

// Stop stops the housekeeping jobs.
func (h *Housekeeper) Stop() {
	<-h.cron.Stop().Done()
}

// Backfill records stats for retained history entries not yet aggregated.
func (h *Housekeeper) Backfill(ctx context.Context) (int, error) {
	entries, err := h.history.ListUnaggregated(ctx, h.now().Add(-h.retention))
	if err != nil {
		return 0, err
	}

	applied := 0
	for i := range entries {
		ok, err := h.recorder.Record(ctx, &entries[i])
		if err != nil {
			return applied, err
		}
		if ok {
			applied++
		}
	}

	if applied > 0 {
		h.log.Info().Int("entries", applied).Msg("backfilled delivery stats")
	}
	return applied, nil
}

// Purge deletes history, stats, settled jobs and notifications older than
// the retention window.
func (h *Housekeeper) Purge(ctx context.Context) error {
	cutoff := h.now().Add(-h.retention).UTC()

	history, err := h.history.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	stats, err := h.stats.PurgeBefore(ctx, cutoff.Format(models.StatsDateFormat))
	if err != nil {
		return err
	}
	jobs, err := h.jobs.PurgeTerminalBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	notifications, err := h.notifications.PurgeBefore(ctx, cutoff)
	if err != nil {
		return err
	}

	h.log.Info().
		Time("cutoff", cutoff).
		Int64("history", history).
		Int64("stats", stats).
		Int64("jobs", jobs).
		Int64("notifications", notifications).
		Msg("retention purge complete")
	return nil
}
