// Package handlers provides HTTP request handlers for the API endpoints.
package handlers

import (
	"net/http"

	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/websocket"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status      string `json:"status"`
	DBConnected bool   `json:"db_connected"`
}

// HealthCheck returns a handler that performs a health check.
func HealthCheck(db *storage.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dbConnected := db.PingContext(r.Context()) == nil

		status := "healthy"
		code := http.StatusOK
		if !dbConnected {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}

		writeJSON(w, code, HealthResponse{Status: status, DBConnected: dbConnected})
	}
}

// StatusResponse reports queue depth and live sessions.
type StatusResponse struct {
	Jobs          map[string]int `json:"jobs"`
	LiveSessions  int            `json:"live_sessions"`
	UserConnected bool           `json:"user_connected"`
}

// Status returns a handler that provides pipeline status information.
func Status(q *queue.Queue, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := q.Counts(r.Context())
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, StatusResponse{
			Jobs:          counts,
			LiveSessions:  hub.ClientCount(),
			UserConnected: hub.IsConnected(userID(r)),
		})
	}
}
