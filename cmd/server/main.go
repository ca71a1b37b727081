// Package main is the entry point for the investment reminder server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/investment-reminders/backend/internal/api"
	"github.com/investment-reminders/backend/internal/calendar"
	"github.com/investment-reminders/backend/internal/config"
	"github.com/investment-reminders/backend/internal/events"
	"github.com/investment-reminders/backend/internal/fanout"
	"github.com/investment-reminders/backend/internal/logger"
	"github.com/investment-reminders/backend/internal/queue"
	"github.com/investment-reminders/backend/internal/rules"
	"github.com/investment-reminders/backend/internal/scheduler"
	"github.com/investment-reminders/backend/internal/stats"
	"github.com/investment-reminders/backend/internal/storage"
	"github.com/investment-reminders/backend/internal/storage/models"
	"github.com/investment-reminders/backend/internal/template"
	"github.com/investment-reminders/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	addr := flag.String("addr", cfg.Addr, "HTTP server address")
	dataDir := flag.String("data", cfg.DataDir, "Data directory for SQLite database")
	healthCheck := flag.Bool("health-check", false, "Run health check and exit")
	flag.Parse()
	cfg.Addr, cfg.DataDir = *addr, *dataDir

	// Health check mode for Docker HEALTHCHECK
	if *healthCheck {
		if err := runHealthCheck(cfg.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	log.Info().Str("version", version).Str("timezone", cfg.Location.String()).Msg("starting investment reminder server")

	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	if err := storage.RunMigrations(db, log); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := websocket.NewHub(log.With().Str("component", "websocket").Logger())
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub, log)

	publishers := events.Multi{broadcaster}
	if cfg.RedisURL != "" {
		redisPub, err := events.NewRedisPublisher(ctx, cfg.RedisURL, cfg.RedisChannel, log)
		if err != nil {
			return err
		}
		defer redisPub.Close()
		publishers = append(publishers, redisPub)
	}

	transports, closeTransports, err := buildTransports(cfg, log)
	if err != nil {
		return err
	}
	defer closeTransports()

	// Repositories
	eventRepo := storage.NewEventRepository(db)
	ruleRepo := storage.NewRuleRepository(db)
	templateRepo := storage.NewTemplateRepository(db)
	jobRepo := storage.NewDeliveryRepository(db)
	historyRepo := storage.NewHistoryRepository(db)
	statsRepo := storage.NewStatsRepository(db)
	notificationRepo := storage.NewNotificationRepository(db)
	contactRepo := storage.NewContactRepository(db)
	feedRepo := storage.NewFeedRepository(db)

	aggregator := stats.NewAggregator(statsRepo)
	dispatcher := fanout.NewDispatcher(fanout.DispatcherConfig{
		Transports:    transports,
		Notifications: notificationRepo,
		History:       historyRepo,
		Notifier:      broadcaster,
		Stats:         aggregator,
		Publisher:     publishers,
		HistoryCap:    cfg.NotificationHistoryCap,
		Log:           log.With().Str("component", "dispatcher").Logger(),
	})

	q := queue.New(jobRepo, ruleRepo, dispatcher, queue.Config{
		MaxRetries:   cfg.MaxRetries,
		StuckTimeout: cfg.StuckTimeout,
	}, log.With().Str("component", "queue").Logger())

	engine := template.NewEngine(templateRepo)
	processor := fanout.NewProcessor(eventRepo, contactRepo, engine, dispatcher, cfg.Location, log)
	pool := queue.NewPool(q, processor, queue.NewLimiter(cfg.RateLimit, cfg.RateWindow), queue.PoolConfig{
		BatchSize:       cfg.BatchSize,
		Concurrency:     cfg.Concurrency,
		PollInterval:    cfg.PollInterval,
		DispatchTimeout: cfg.DispatchTimeout,
	}, log)

	ruleStore := rules.NewStore(ruleRepo, eventRepo, templateRepo, q, rules.NewEvaluator(cfg.Location))
	reminderScheduler := scheduler.New(ruleStore, q, scheduler.Config{
		Interval:  cfg.SchedulerInterval,
		Lookahead: cfg.SchedulerLookahead,
	}, log.With().Str("component", "scheduler").Logger())
	housekeeper := scheduler.NewHousekeeper(historyRepo, statsRepo, jobRepo, notificationRepo, aggregator, cfg.RetentionDays,
		log.With().Str("component", "housekeeping").Logger())

	eventService := calendar.NewService(eventRepo, ruleRepo, q, log)
	feedSync := calendar.NewSyncService(feedRepo, calendar.NewParser(), eventService, log)
	feedScheduler := calendar.NewScheduler(feedSync, feedRepo, broadcaster, cfg.FeedSyncIntervalMin,
		log.With().Str("component", "feeds").Logger())

	if err := reminderScheduler.Start(ctx); err != nil {
		return err
	}
	if err := housekeeper.Start(ctx); err != nil {
		return err
	}
	pool.Start(ctx)
	if err := feedScheduler.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("failed to start feed scheduler")
	}

	router := api.NewRouter(api.Services{
		DB:            db,
		Events:        eventService,
		Rules:         ruleStore,
		Templates:     engine,
		Queue:         q,
		Scheduler:     reminderScheduler,
		Stats:         aggregator,
		History:       historyRepo,
		Notifications: notificationRepo,
		Contacts:      contactRepo,
		Feeds:         feedRepo,
		FeedSync:      feedSync,
		FeedScheduler: feedScheduler,
		Hub:           hub,
	}, api.Options{
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
	}, log)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server listening")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-serverErr:
		log.Error().Err(err).Msg("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}

	reminderScheduler.Stop()
	housekeeper.Stop()
	pool.Stop()
	feedScheduler.Stop()
	cancel()

	log.Info().Msg("server stopped")
	return nil
}

// buildTransports picks a carrier per external channel: a webhook when its
// URL is set, else the AMQP queue when a broker is configured, else a
// logging transport.
func buildTransports(cfg config.Config, log zerolog.Logger) (map[string]fanout.Transport, func(), error) {
	transports := make(map[string]fanout.Transport)
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var conn *amqp.Connection
	if cfg.AMQPURL != "" {
		c, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return nil, closeAll, fmt.Errorf("connecting to amqp: %w", err)
		}
		conn = c
		closers = append(closers, conn.Close)
	}

	channels := []struct {
		name    string
		webhook string
		queue   string
	}{
		{models.ChannelEmail, cfg.EmailWebhookURL, cfg.AMQPEmailQueue},
		{models.ChannelSMS, cfg.SMSWebhookURL, cfg.AMQPSMSQueue},
	}

	for _, ch := range channels {
		switch {
		case ch.webhook != "":
			transports[ch.name] = fanout.NewWebhookTransport(ch.webhook, cfg.TransportToken, cfg.DispatchTimeout)
			log.Info().Str("channel", ch.name).Msg("using webhook transport")
		case conn != nil:
			t, err := fanout.NewAMQPTransport(conn, ch.queue)
			if err != nil {
				closeAll()
				return nil, func() {}, err
			}
			closers = append(closers, t.Close)
			transports[ch.name] = t
			log.Info().Str("channel", ch.name).Str("queue", ch.queue).Msg("using amqp transport")
		default:
			transports[ch.name] = fanout.NewLogTransport(log)
			log.Warn().Str("channel", ch.name).Msg("no carrier configured, logging messages only")
		}
	}

	return transports, closeAll, nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	url := "http://localhost" + addr + "/api/health"
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}
