package calendar

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// ErrFeedNotFound is returned when a feed does not exist.
var ErrFeedNotFound = errors.New("feed not found")

// Importer turns one feed entry into an event.
type Importer interface {
	Import(ctx context.Context, feed *models.CalendarFeed, entry models.CalendarEvent) (created, updated bool, err error)
}

// SyncService imports events from subscribed ICS feeds.
type SyncService struct {
	feeds    *storage.FeedRepository
	parser   *Parser
	importer Importer
	now      func() time.Time
	log      zerolog.Logger
}

// NewSyncService creates a feed sync service.
func NewSyncService(feeds *storage.FeedRepository, parser *Parser, importer Importer, log zerolog.Logger) *SyncService {
	return &SyncService{
		feeds:    feeds,
		parser:   parser,
		importer: importer,
		now:      time.Now,
		log:      log,
	}
}

// SyncFeed fetches a feed and upserts its future events. A fetch or parse
// failure is recorded on the feed and returned; a bad entry is logged and
// skipped.
func (s *SyncService) SyncFeed(ctx context.Context, feedID string) (*models.FeedSyncResult, error) {
	feed, err := s.feeds.GetByID(ctx, feedID)
	if err != nil {
		return nil, fmt.Errorf("getting feed: %w", err)
	}
	if feed == nil {
		return nil, ErrFeedNotFound
	}

	log := s.log.With().Str("feed_id", feed.ID).Logger()

	if err := s.feeds.UpdateSyncStatus(ctx, feed.ID, models.SyncStatusSyncing, nil); err != nil {
		log.Warn().Err(err).Msg("failed to mark feed syncing")
	}

	entries, err := s.parser.FetchAndParse(ctx, feed.URL)
	if err != nil {
		msg := err.Error()
		if uerr := s.feeds.UpdateSyncStatus(ctx, feed.ID, models.SyncStatusError, &msg); uerr != nil {
			log.Warn().Err(uerr).Msg("failed to record sync error")
		}
		return nil, err
	}

	result := &models.FeedSyncResult{
		FeedID:      feed.ID,
		FeedName:    feed.Name,
		EventsFound: len(entries),
		SyncedAt:    s.now().UTC(),
	}

	for _, entry := range FilterFutureEvents(entries, result.SyncedAt) {
		created, updated, err := s.importer.Import(ctx, feed, entry)
		if err != nil {
			log.Warn().Err(err).Str("uid", entry.UID).Msg("skipping feed entry")
			continue
		}
		if created {
			result.EventsCreated++
		} else if updated {
			result.EventsUpdated++
		}
	}

	if err := s.feeds.UpdateSyncStatus(ctx, feed.ID, models.SyncStatusSuccess, nil); err != nil {
		log.Warn().Err(err).Msg("failed to mark feed synced")
	}

	return result, nil
}
