package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"QUEUE_BATCH_SIZE", "SCHEDULER_INTERVAL", "RATE_LIMIT", "TIMEZONE", "CORS_ORIGINS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BatchSize != 100 || cfg.Concurrency != 5 || cfg.RateLimit != 1000 || cfg.MaxRetries != 3 {
		t.Errorf("unexpected queue defaults: %+v", cfg)
	}
	if cfg.SchedulerInterval != time.Minute || cfg.SchedulerLookahead != 30*time.Minute {
		t.Errorf("unexpected scheduler defaults: %v / %v", cfg.SchedulerInterval, cfg.SchedulerLookahead)
	}
	if cfg.Location != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SCHEDULER_INTERVAL", "90")
	t.Setenv("DISPATCH_TIMEOUT", "10s")
	t.Setenv("QUEUE_CONCURRENCY", "8")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.SchedulerInterval != 90*time.Second {
		t.Errorf("SchedulerInterval = %v", cfg.SchedulerInterval)
	}
	if cfg.DispatchTimeout != 10*time.Second {
		t.Errorf("DispatchTimeout = %v", cfg.DispatchTimeout)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("Concurrency = %d", cfg.Concurrency)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
}

func TestLoadRejectsBadTimezone(t *testing.T) {
	t.Setenv("TIMEZONE", "Mars/Olympus")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown timezone")
	}
}
