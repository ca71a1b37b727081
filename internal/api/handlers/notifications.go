package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/storage"
)

// ListNotifications returns the caller's in-app notifications, newest first.
func ListNotifications(repo *storage.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 100 {
				middleware.WriteError(w, http.StatusBadRequest, middleware.ErrBadRequest, "limit must be between 1 and 100")
				return
			}
			limit = n
		}

		list, err := repo.ListByUser(r.Context(), userID(r), limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(list))
	}
}

// MarkNotificationRead flags a notification as read.
func MarkNotificationRead(repo *storage.NotificationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ok, err := repo.MarkRead(r.Context(), userID(r), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if !ok {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Notification not found")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
