package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/calendar"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/validation"
)

// CreateFeedRequest subscribes the caller to an ICS feed.
type CreateFeedRequest struct {
	Name             string `json:"name" validate:"required,max=100"`
	URL              string `json:"url" validate:"required,url"`
	DefaultEventType string `json:"default_event_type" validate:"omitempty,oneof=dividend earnings ipo meeting other"`
	SyncIntervalMin  int    `json:"sync_interval_min" validate:"omitempty,min=5"`
	Enabled          *bool  `json:"enabled"`
}

// ListFeeds returns the caller's feed subscriptions.
func ListFeeds(repo *storage.FeedRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feeds, err := repo.ListByUser(r.Context(), userID(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(feeds))
	}
}

// CreateFeed adds a feed subscription and schedules its sync.
func CreateFeed(repo *storage.FeedRepository, scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateFeedRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := validation.Struct("feed", req).Err(); err != nil {
			writeServiceError(w, r, err)
			return
		}

		feed := &models.CalendarFeed{
			UserID:           userID(r),
			Name:             req.Name,
			URL:              req.URL,
			DefaultEventType: req.DefaultEventType,
			SyncIntervalMin:  req.SyncIntervalMin,
			Enabled:          req.Enabled == nil || *req.Enabled,
		}
		if feed.DefaultEventType == "" {
			feed.DefaultEventType = models.EventTypeOther
		}
		if feed.SyncIntervalMin == 0 {
			feed.SyncIntervalMin = 60
		}

		if err := repo.Create(r.Context(), feed); err != nil {
			writeServiceError(w, r, err)
			return
		}

		if scheduler != nil {
			scheduler.ScheduleFeed(*feed)
			if feed.Enabled {
				scheduler.TriggerSync(feed.ID)
			}
		}

		writeJSON(w, http.StatusCreated, feed)
	}
}

// DeleteFeed removes a feed subscription. Imported events are kept.
func DeleteFeed(repo *storage.FeedRepository, scheduler *calendar.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, ok := ownedFeed(w, r, repo)
		if !ok {
			return
		}

		if _, err := repo.Delete(r.Context(), feed.ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		if scheduler != nil {
			scheduler.UnscheduleFeed(feed.ID)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// SyncFeed runs a feed sync now and returns its result.
func SyncFeed(repo *storage.FeedRepository, syncService *calendar.SyncService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		feed, ok := ownedFeed(w, r, repo)
		if !ok {
			return
		}

		result, err := syncService.SyncFeed(r.Context(), feed.ID)
		if err != nil {
			if _, isValidation := validation.As(err); isValidation {
				writeServiceError(w, r, err)
				return
			}
			middleware.WriteError(w, http.StatusBadGateway, "sync_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func ownedFeed(w http.ResponseWriter, r *http.Request, repo *storage.FeedRepository) (*models.CalendarFeed, bool) {
	feed, err := repo.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if feed == nil || feed.UserID != userID(r) {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
		return nil, false
	}
	return feed, true
}
