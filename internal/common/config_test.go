package common

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Database.Driver != "postgres" {
		t.Errorf("Driver = %q, want postgres", cfg.Database.Driver)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Worker.Count != 4 || cfg.Worker.MaxRetries != 3 {
		t.Errorf("worker defaults: count=%d max_retries=%d", cfg.Worker.Count, cfg.Worker.MaxRetries)
	}
	if cfg.Worker.BackoffBase != 2*time.Second || cfg.Worker.BackoffMax != 5*time.Minute {
		t.Errorf("backoff defaults: base=%v max=%v", cfg.Worker.BackoffBase, cfg.Worker.BackoffMax)
	}
	if cfg.Retention.Schedule != "@every 10m" {
		t.Errorf("Schedule = %q", cfg.Retention.Schedule)
	}
	if cfg.Retention.CompletedWindow != 24*time.Hour || cfg.Retention.PendingWindow != time.Hour {
		t.Errorf("retention defaults: completed=%v pending=%v", cfg.Retention.CompletedWindow, cfg.Retention.PendingWindow)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_URL", "/tmp/jobs.db")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("MAX_RETRIES", "5")
	t.Setenv("RETRY_BACKOFF_BASE", "500ms")
	t.Setenv("RETENTION_PROCESSING", "2h")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := LoadConfig()

	if cfg.Database.Driver != "sqlite" || cfg.Database.DSN != "/tmp/jobs.db" {
		t.Errorf("database: %+v", cfg.Database)
	}
	if cfg.Worker.Count != 8 || cfg.Worker.MaxRetries != 5 {
		t.Errorf("worker: %+v", cfg.Worker)
	}
	if cfg.Worker.BackoffBase != 500*time.Millisecond {
		t.Errorf("BackoffBase = %v", cfg.Worker.BackoffBase)
	}
	if cfg.Retention.ProcessingWindow != 2*time.Hour {
		t.Errorf("ProcessingWindow = %v", cfg.Retention.ProcessingWindow)
	}
	if cfg.Dispatch.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.Dispatch.RedisAddr)
	}
}

func TestLoadConfigIgnoresMalformedValues(t *testing.T) {
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("RETRY_BACKOFF_BASE", "soon")

	cfg := LoadConfig()
	if cfg.Worker.Count != 4 {
		t.Errorf("Count = %d, want default 4", cfg.Worker.Count)
	}
	if cfg.Worker.BackoffBase != 2*time.Second {
		t.Errorf("BackoffBase = %v, want default 2s", cfg.Worker.BackoffBase)
	}
}

func TestConfigValidate(t *testing.T) {
	valid := func() *Config {
		t.Setenv("DB_URL", "postgres://localhost/docforge")
		return LoadConfig()
	}

	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg = valid()
	cfg.Database.Driver = "oracle"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad driver: got %v, want ErrInvalidInput", err)
	}

	cfg = valid()
	cfg.Database.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty DSN must be rejected")
	}

	cfg = valid()
	cfg.Worker.BackoffBase = 10 * time.Minute
	cfg.Worker.BackoffMax = time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("inverted backoff bounds must be rejected")
	}
}
