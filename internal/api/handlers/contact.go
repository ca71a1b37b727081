package handlers

import (
	"net/http"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/validation"
)

// ContactRequest holds the caller's delivery addresses.
type ContactRequest struct {
	DisplayName string  `json:"display_name" validate:"max=100"`
	Email       *string `json:"email" validate:"omitempty,email"`
	Phone       *string `json:"phone" validate:"omitempty,e164"`
}

// GetContact returns the caller's contact entry.
func GetContact(repo *storage.ContactRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := repo.Get(r.Context(), userID(r))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if c == nil {
			middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "No contact stored")
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

// UpdateContact stores the caller's contact entry.
func UpdateContact(repo *storage.ContactRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ContactRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := validation.Struct("contact", req).Err(); err != nil {
			writeServiceError(w, r, err)
			return
		}

		c := &models.Contact{
			UserID:      userID(r),
			DisplayName: req.DisplayName,
			Email:       req.Email,
			Phone:       req.Phone,
		}
		if err := repo.Upsert(r.Context(), c); err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}
