// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable of the reminder service.
type Config struct {
	Addr     string
	DataDir  string
	LogLevel string
	// LogFormat is "json" or "console".
	LogFormat string
	Location  *time.Location

	SchedulerInterval  time.Duration
	SchedulerLookahead time.Duration

	BatchSize       int
	Concurrency     int
	PollInterval    time.Duration
	DispatchTimeout time.Duration
	StuckTimeout    time.Duration
	RateLimit       int
	RateWindow      time.Duration
	MaxRetries      int

	RetentionDays          int
	NotificationHistoryCap int

	EmailWebhookURL string
	SMSWebhookURL   string
	TransportToken  string
	AMQPURL         string
	AMQPEmailQueue  string
	AMQPSMSQueue    string

	RedisURL     string
	RedisChannel string

	JWTSecret   string
	CORSOrigins []string

	FeedSyncIntervalMin int
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	_ = godotenv.Load()

	tz := getEnv("TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return Config{}, fmt.Errorf("loading timezone %q: %w", tz, err)
	}

	cfg := Config{
		Addr:      getEnv("ADDR", ":8080"),
		DataDir:   getEnv("DATA_DIR", "./data"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		Location:  loc,

		SchedulerInterval:  getEnvDuration("SCHEDULER_INTERVAL", 60*time.Second),
		SchedulerLookahead: getEnvDuration("SCHEDULER_LOOKAHEAD", 30*time.Minute),

		BatchSize:       getEnvInt("QUEUE_BATCH_SIZE", 100),
		Concurrency:     getEnvInt("QUEUE_CONCURRENCY", 5),
		PollInterval:    getEnvDuration("QUEUE_POLL_INTERVAL", 5*time.Second),
		DispatchTimeout: getEnvDuration("DISPATCH_TIMEOUT", 30*time.Second),
		StuckTimeout:    getEnvDuration("STUCK_TIMEOUT", 30*time.Second),
		RateLimit:       getEnvInt("RATE_LIMIT", 1000),
		RateWindow:      getEnvDuration("RATE_WINDOW", time.Minute),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),

		RetentionDays:          getEnvInt("RETENTION_DAYS", 90),
		NotificationHistoryCap: getEnvInt("NOTIFICATION_HISTORY_CAP", 100),

		EmailWebhookURL: getEnv("EMAIL_WEBHOOK_URL", ""),
		SMSWebhookURL:   getEnv("SMS_WEBHOOK_URL", ""),
		TransportToken:  getEnv("TRANSPORT_TOKEN", ""),
		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPEmailQueue:  getEnv("AMQP_EMAIL_QUEUE", "reminders.email"),
		AMQPSMSQueue:    getEnv("AMQP_SMS_QUEUE", "reminders.sms"),

		RedisURL:     getEnv("REDIS_URL", ""),
		RedisChannel: getEnv("REDIS_CHANNEL", "reminders.events"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "*")),

		FeedSyncIntervalMin: getEnvInt("FEED_SYNC_INTERVAL_MIN", 60),
	}

	if cfg.BatchSize <= 0 || cfg.Concurrency <= 0 || cfg.RateLimit <= 0 {
		return Config{}, fmt.Errorf("queue batch size, concurrency and rate limit must be positive")
	}
	if cfg.MaxRetries < 0 {
		return Config{}, fmt.Errorf("MAX_RETRIES must not be negative")
	}

	return cfg, nil
}

// DBPath returns the SQLite file inside the data directory.
func (c Config) DBPath() string {
	return strings.TrimRight(c.DataDir, "/") + "/reminders.db"
}

// getEnv returns an environment variable value or a default if not set.
func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
