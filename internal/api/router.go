// Package api provides HTTP routing and handlers for the REST API.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/investment-reminders/backend/internal/api/handlers"
	"github.com/investment-reminders/backend/internal/api/middleware"
	"github.com/investment-reminders/backend/internal/calendar"
	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/rules"
	"github.com/investment-reminders/backend/internal/scheduler"
	"github.com/investment-reminders/backend/internal/stats"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/template"
	"github.com/investment-reminders/backend/internal/websocket"
)

// Services are the components the API exposes.
type Services struct {
	DB            *storage.DB
	Events        *calendar.Service
	Rules         *rules.Store
	Templates     *template.Engine
	Queue         *queue.Queue
	Scheduler     *scheduler.Scheduler
	Stats         *stats.Aggregator
	History       *storage.HistoryRepository
	Notifications *storage.NotificationRepository
	Contacts      *storage.ContactRepository
	Feeds         *storage.FeedRepository
	FeedSync      *calendar.SyncService
	// FeedScheduler may be nil; feeds are then only synced on demand.
	FeedScheduler *calendar.Scheduler
	Hub           *websocket.Hub
}

// Options configure the HTTP surface.
type Options struct {
	JWTSecret   string
	CORSOrigins []string
}

// NewRouter creates the HTTP handler with all API routes.
func NewRouter(s Services, opts Options, log zerolog.Logger) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Logging(log))
	r.Use(middleware.ErrorRecovery(log))

	api := r.PathPrefix("/api").Subrouter()

	// Health stays reachable without identity
	api.HandleFunc("/health", handlers.HealthCheck(s.DB)).Methods("GET")

	user := api.NewRoute().Subrouter()
	user.Use(middleware.Identity(opts.JWTSecret))

	user.HandleFunc("/status", handlers.Status(s.Queue, s.Hub)).Methods("GET")
	user.HandleFunc("/ws", handlers.WebSocketUpgrade(s.Hub, handlers.NewUpgrader(opts.CORSOrigins))).Methods("GET")

	// Event endpoints
	user.HandleFunc("/events", handlers.ListEvents(s.Events)).Methods("GET")
	user.HandleFunc("/events", handlers.CreateEvent(s.Events)).Methods("POST")
	user.HandleFunc("/events/{id}", handlers.GetEvent(s.Events)).Methods("GET")
	user.HandleFunc("/events/{id}", handlers.UpdateEvent(s.Events)).Methods("PUT")
	user.HandleFunc("/events/{id}", handlers.DeleteEvent(s.Events)).Methods("DELETE")
	user.HandleFunc("/events/{id}/reminders", handlers.SetEventReminders(s.Events)).Methods("PUT")
	user.HandleFunc("/events/{id}/rules", handlers.ListEventRules(s.Events, s.Rules)).Methods("GET")
	user.HandleFunc("/events/{id}/rules", handlers.CreateRule(s.Rules)).Methods("POST")
	user.HandleFunc("/events/{id}/jobs", handlers.ListEventJobs(s.Events, s.Queue)).Methods("GET")

	// Rule endpoints
	user.HandleFunc("/rules/{id}", handlers.UpdateRule(s.Rules)).Methods("PUT")
	user.HandleFunc("/rules/{id}", handlers.DeleteRule(s.Rules)).Methods("DELETE")

	// Template endpoints
	user.HandleFunc("/templates", handlers.ListTemplates(s.Templates)).Methods("GET")
	user.HandleFunc("/templates", handlers.CreateTemplate(s.Templates)).Methods("POST")
	user.HandleFunc("/templates/{id}", handlers.GetTemplate(s.Templates)).Methods("GET")
	user.HandleFunc("/templates/{id}", handlers.UpdateTemplate(s.Templates)).Methods("PUT")
	user.HandleFunc("/templates/{id}", handlers.DeleteTemplate(s.Templates)).Methods("DELETE")
	user.HandleFunc("/templates/{id}/preview", handlers.PreviewTemplate(s.Templates)).Methods("POST")

	// Delivery outcomes
	user.HandleFunc("/history", handlers.GetHistory(s.History)).Methods("GET")
	user.HandleFunc("/stats", handlers.GetStats(s.Stats)).Methods("GET")
	user.HandleFunc("/notifications", handlers.ListNotifications(s.Notifications)).Methods("GET")
	user.HandleFunc("/notifications/{id}/read", handlers.MarkNotificationRead(s.Notifications)).Methods("POST")

	// Recipient directory
	user.HandleFunc("/contact", handlers.GetContact(s.Contacts)).Methods("GET")
	user.HandleFunc("/contact", handlers.UpdateContact(s.Contacts)).Methods("PUT")

	// Feed endpoints
	user.HandleFunc("/feeds", handlers.ListFeeds(s.Feeds)).Methods("GET")
	user.HandleFunc("/feeds", handlers.CreateFeed(s.Feeds, s.FeedScheduler)).Methods("POST")
	user.HandleFunc("/feeds/{id}", handlers.DeleteFeed(s.Feeds, s.FeedScheduler)).Methods("DELETE")
	user.HandleFunc("/feeds/{id}/sync", handlers.SyncFeed(s.Feeds, s.FeedSync)).Methods("POST")

	user.HandleFunc("/scheduler/tick", handlers.RunTick(s.Scheduler)).Methods("POST")

	return cors.New(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", middleware.UserHeader},
		AllowCredentials: true,
	}).Handler(r)
}
