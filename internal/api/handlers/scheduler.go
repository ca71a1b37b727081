package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/scheduler"
)

// TickResponse reports one manually triggered scheduler tick.
type TickResponse struct {
	AsOf       time.Time `json:"as_of"`
	Due        int       `json:"due"`
	Created    int       `json:"created"`
	Duplicates int       `json:"duplicates"`
	Errors     []string  `json:"errors"`
}

// RunTick runs one scheduler tick now.
func RunTick(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := sched.Tick(r.Context())
		if errors.Is(err, scheduler.ErrTickInProgress) {
			middleware.WriteError(w, http.StatusConflict, middleware.ErrConflict, "A tick is already running")
			return
		}
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		resp := TickResponse{
			AsOf:       result.AsOf,
			Due:        result.Due,
			Created:    result.Created,
			Duplicates: result.Duplicates,
			Errors:     []string{},
		}
		for _, e := range result.Errors {
			resp.Errors = append(resp.Errors, e.Error())
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
