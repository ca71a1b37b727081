package handlers

import (
	"net/http"
	"time"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/stats"
	"github.com/investment-reminders/backend/internal/storage"
)

// GetHistory returns the caller's delivery history in the requested range.
func GetHistory(history *storage.HistoryRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := dateRange(r, time.Now())
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, err.Error())
			return
		}

		entries, err := history.ListByUser(r.Context(), userID(r), from, to)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(entries))
	}
}

// GetStats returns the caller's aggregated delivery statistics.
func GetStats(agg *stats.Aggregator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, to, err := dateRange(r, time.Now())
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, err.Error())
			return
		}

		summary, err := agg.GetStats(r.Context(), userID(r), from, to)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}
