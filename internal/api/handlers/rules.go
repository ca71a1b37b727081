package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/calendar"
	"github.com/investment-reminders/backend/internal/rules"
	"github.com/investment-reminders/backend/internal/storage/models"
)

// ListEventRules returns the rules of one of the caller's events.
func ListEventRules(svc *calendar.Service, store *rules.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := svc.Get(r.Context(), userID(r), mux.Vars(r)["id"])
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		list, err := store.ListByEvent(r.Context(), event.ID)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, emptyIfNil(list))
	}
}

// CreateRule attaches a rule to one of the caller's events.
func CreateRule(store *rules.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var spec rules.RuleSpec
		if !decodeJSON(w, r, &spec) {
			return
		}

		rule, err := store.CreateRule(r.Context(), mux.Vars(r)["id"], userID(r), spec)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	}
}

// UpdateRule patches one of the caller's rules.
func UpdateRule(store *rules.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := ownedRule(w, r, store); !ok {
			return
		}

		var patch rules.RulePatch
		if !decodeJSON(w, r, &patch) {
			return
		}

		rule, err := store.UpdateRule(r.Context(), mux.Vars(r)["id"], patch)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	}
}

// DeleteRule removes one of the caller's rules.
func DeleteRule(store *rules.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rule, ok := ownedRule(w, r, store)
		if !ok {
			return
		}

		if _, err := store.DeleteRule(r.Context(), rule.ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ownedRule(w http.ResponseWriter, r *http.Request, store *rules.Store) (*models.ReminderRule, bool) {
	rule, err := store.GetRule(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}
	if rule.UserID != userID(r) {
		middleware.WriteError(w, http.StatusNotFound, middleware.ErrNotFound, "Rule not found")
		return nil, false
	}
	return rule, true
}
