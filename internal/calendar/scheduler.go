package calendar

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// SyncBroadcaster pushes feed sync outcomes to the feed owner.
type SyncBroadcaster interface {
	BroadcastCalendarSyncCompleted(userID string, result models.FeedSyncResult)
	BroadcastCalendarSyncError(userID, feedID, feedName string, err error)
}

// Scheduler runs periodic feed syncs, one cron entry per enabled feed.
type Scheduler struct {
	cron        *cron.Cron
	syncer      *SyncService
	feeds       *storage.FeedRepository
	broadcaster SyncBroadcaster
	log         zerolog.Logger

	jobs   map[string]cron.EntryID
	jobsMu sync.Mutex

	defaultInterval int
}

// NewScheduler creates a feed sync scheduler. broadcaster may be nil.
func NewScheduler(
	syncService *SyncService,
	feeds *storage.FeedRepository,
	broadcaster SyncBroadcaster,
	defaultIntervalMin int,
	log zerolog.Logger,
) *Scheduler {
	if defaultIntervalMin <= 0 {
		defaultIntervalMin = 60
	}

	return &Scheduler{
		cron:            cron.New(),
		syncer:          syncService,
		feeds:           feeds,
		broadcaster:     broadcaster,
		log:             log,
		jobs:            make(map[string]cron.EntryID),
		defaultInterval: defaultIntervalMin,
	}
}

// Start schedules every enabled feed and begins running.
func (s *Scheduler) Start(ctx context.Context) error {
	feeds, err := s.feeds.ListEnabled(ctx)
	if err != nil {
		return err
	}

	for _, feed := range feeds {
		s.ScheduleFeed(feed)
	}

	// Picks up feeds added or disabled through the API.
	if _, err := s.cron.AddFunc("@every 5m", func() {
		s.refreshSchedules(context.Background())
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.log.Info().Int("feeds", len(feeds)).Msg("feed scheduler started")
	return nil
}

// Stop waits for running syncs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("feed scheduler stopped")
}

// ScheduleFeed adds or replaces a feed's sync entry.
func (s *Scheduler) ScheduleFeed(feed models.CalendarFeed) {
	if !feed.Enabled {
		s.UnscheduleFeed(feed.ID)
		return
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if id, ok := s.jobs[feed.ID]; ok {
		s.cron.Remove(id)
		delete(s.jobs, feed.ID)
	}

	minutes := feed.SyncIntervalMin
	if minutes <= 0 {
		minutes = s.defaultInterval
	}

	feedID := feed.ID
	entryID, err := s.cron.AddFunc(everySpec(minutes), func() {
		s.syncFeed(context.Background(), feedID)
	})
	if err != nil {
		s.log.Error().Err(err).Str("feed_id", feed.ID).Msg("failed to schedule feed")
		return
	}

	s.jobs[feed.ID] = entryID
	s.log.Debug().Str("feed_id", feed.ID).Int("interval_min", minutes).Msg("feed scheduled")
}

// UnscheduleFeed removes a feed's sync entry.
func (s *Scheduler) UnscheduleFeed(feedID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if id, ok := s.jobs[feedID]; ok {
		s.cron.Remove(id)
		delete(s.jobs, feedID)
	}
}

// TriggerSync syncs a feed now, in the background.
func (s *Scheduler) TriggerSync(feedID string) {
	go s.syncFeed(context.Background(), feedID)
}

// NextRun returns the next scheduled sync of a feed.
func (s *Scheduler) NextRun(feedID string) *time.Time {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()

	if id, ok := s.jobs[feedID]; ok {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			return &next
		}
	}
	return nil
}

func (s *Scheduler) syncFeed(ctx context.Context, feedID string) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil || feed == nil {
		s.log.Warn().Err(err).Str("feed_id", feedID).Msg("feed not found for sync")
		return
	}

	result, err := s.syncer.SyncFeed(ctx, feedID)
	if err != nil {
		s.log.Error().Err(err).Str("feed_id", feedID).Msg("feed sync failed")
		if s.broadcaster != nil {
			s.broadcaster.BroadcastCalendarSyncError(feed.UserID, feed.ID, feed.Name, err)
		}
		return
	}

	s.log.Info().
		Str("feed_id", feedID).
		Int("found", result.EventsFound).
		Int("created", result.EventsCreated).
		Int("updated", result.EventsUpdated).
		Msg("feed synced")

	if s.broadcaster != nil {
		s.broadcaster.BroadcastCalendarSyncCompleted(feed.UserID, *result)
	}
}

func (s *Scheduler) refreshSchedules(ctx context.Context) {
	feeds, err := s.feeds.ListEnabled(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to refresh feed schedules")
		return
	}

	current := make(map[string]bool, len(feeds))
	for _, feed := range feeds {
		current[feed.ID] = true
		s.jobsMu.Lock()
		_, scheduled := s.jobs[feed.ID]
		s.jobsMu.Unlock()
		if !scheduled {
			s.ScheduleFeed(feed)
		}
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	for id, entry := range s.jobs {
		if !current[id] {
			s.cron.Remove(entry)
			delete(s.jobs, id)
		}
	}
}

func everySpec(minutes int) string {
	return "@every " + (time.Duration(minutes) * time.Minute).String()
}
