package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/calendar"
	"github.com/investment-reminders/backend/internal/queue"
)

// ListEvents returns the caller's events.
func ListEvents(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.List(r.Context(), userID(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(events))
	}
}

// CreateEvent adds an event for the caller.
func CreateEvent(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in calendar.EventInput
		if !decodeJSON(w, r, &in) {
			return
		}

		event, err := svc.Create(r.Context(), userID(r), in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, event)
	}
}

// GetEvent returns one of the caller's events.
func GetEvent(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := svc.Get(r.Context(), userID(r), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, event)
	}
}

// UpdateEvent replaces an event's fields.
func UpdateEvent(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in calendar.EventInput
		if !decodeJSON(w, r, &in) {
			return
		}

		event, err := svc.Update(r.Context(), userID(r), mux.Vars(r)["id"], in)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, event)
	}
}

// DeleteEvent removes an event together with its rules and queued deliveries.
func DeleteEvent(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deleted, err := svc.Delete(r.Context(), userID(r), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !deleted {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Event not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type remindersRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetEventReminders toggles reminders for an event.
func SetEventReminders(svc *calendar.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req remindersRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Enabled == nil {
			middleware.WriteError(w, http.StatusBadRequest, middleware.ErrValidation, "enabled is required")
			return
		}

		event, err := svc.SetReminders(r.Context(), userID(r), mux.Vars(r)["id"], *req.Enabled)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, event)
	}
}

// ListEventJobs returns the delivery queue entries of an event.
func ListEventJobs(svc *calendar.Service, q *queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := svc.Get(r.Context(), userID(r), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		jobs, err := q.ListByEvent(r.Context(), event.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(jobs))
	}
}
