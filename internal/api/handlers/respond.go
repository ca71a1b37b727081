package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/calendar"
	"github.com/investment-reminders/backend/internal/rules"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/template"
	"github.com/investment-reminders/backend/internal/validation"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "Invalid request body")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto the error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if verr, ok := validation.As(err); ok {
		middleware.WriteErrorWithDetails(w, http.StatusBadRequest, middleware.ErrValidation, verr.Error(), verr.Problems)
		return
	}

	switch {
	case errors.Is(err, calendar.ErrEventNotFound), errors.Is(err, rules.ErrEventNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Event not found")
	case errors.Is(err, rules.ErrRuleNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Rule not found")
	case errors.Is(err, template.ErrTemplateNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Template not found")
	case errors.Is(err, calendar.ErrFeedNotFound):
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Feed not found")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		middleware.WriteError(w, http.StatusInternalServerError, middleware.ErrInternalError, "An unexpected error occurred")
	}
}

// dateRange reads the from/to query parameters as dates or RFC 3339
// instants. The default range is the last 30 days; a date-only "to" covers
// the whole day.
func dateRange(r *http.Request, now time.Time) (from, to time.Time, err error) {
	to = now.UTC()
	from = to.AddDate(0, 0, -30)

	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		if from, err = parseInstant(v, false); err != nil {
			return from, to, err
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = parseInstant(v, true); err != nil {
			return from, to, err
		}
	}
	if to.Before(from) {
		return from, to, errors.New("from must not be after to")
	}
	return from, to, nil
}

func parseInstant(v string, endOfDay bool) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(models.StatsDateFormat, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, errors.New("dates must be YYYY-MM-DD or RFC 3339")
	}
	if endOfDay {
		return d.Add(24*time.Hour - time.Nanosecond), nil
	}
	return d, nil
}

func userID(r *http.Request) string {
	return middleware.UserID(r.Context())
}

// emptyIfNil keeps list responses as [] rather than null.
func emptyIfNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
