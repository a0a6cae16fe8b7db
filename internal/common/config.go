package common

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Worker    WorkerConfig
	Retention RetentionConfig
	Dispatch  DispatchConfig
	Engine    EngineConfig
	LLM       LLMConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string // "postgres" or "sqlite"
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	DialTimeout     time.Duration
	LockTimeout     time.Duration
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration
}

// WorkerConfig holds worker pool and retry policy configuration
type WorkerConfig struct {
	Count          int
	QueueSize      int
	ProcessTimeout time.Duration
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// RetentionConfig holds retention sweep configuration
type RetentionConfig struct {
	Schedule         string // cron spec, e.g. "@every 10m"
	CompletedWindow  time.Duration
	FailedWindow     time.Duration
	CancelledWindow  time.Duration
	PendingWindow    time.Duration
	ProcessingWindow time.Duration
	BatchSize        int
}

// DispatchConfig holds message transport configuration
type DispatchConfig struct {
	RedisAddr    string // empty: in-process channel transport
	RedisKey     string
	PollInterval time.Duration
}

// EngineConfig holds external processing binary configuration
type EngineConfig struct {
	Ghostscript   string
	Tesseract     string
	Pdftotext     string
	Pdftoppm      string
	HeicConverter string
	TessdataDir   string
	Language      string
	DPI           int
	MaxPages      int
	ArtifactDir   string
}

// LLMConfig holds AI-extraction configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	Temperature float32
	Timeout     time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          getEnv("DB_DRIVER", "postgres"),
			DSN:             getEnv("DB_URL", ""),
			MaxConns:        getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:        getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime: getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime: getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:     getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			LockTimeout:     getEnvAsDuration("DB_LOCK_TIMEOUT", 5*time.Second),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Worker: WorkerConfig{
			Count:          getEnvAsInt("WORKER_COUNT", 4),
			QueueSize:      getEnvAsInt("WORKER_QUEUE_SIZE", 256),
			ProcessTimeout: getEnvAsDuration("WORKER_PROCESS_TIMEOUT", 3*time.Minute),
			MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
			BackoffBase:    getEnvAsDuration("RETRY_BACKOFF_BASE", 2*time.Second),
			BackoffMax:     getEnvAsDuration("RETRY_BACKOFF_MAX", 5*time.Minute),
		},
		Retention: RetentionConfig{
			Schedule:         getEnv("RETENTION_SCHEDULE", "@every 10m"),
			CompletedWindow:  getEnvAsDuration("RETENTION_COMPLETED", 24*time.Hour),
			FailedWindow:     getEnvAsDuration("RETENTION_FAILED", 24*time.Hour),
			CancelledWindow:  getEnvAsDuration("RETENTION_CANCELLED", 24*time.Hour),
			PendingWindow:    getEnvAsDuration("RETENTION_PENDING", time.Hour),
			ProcessingWindow: getEnvAsDuration("RETENTION_PROCESSING", 4*time.Hour),
			BatchSize:        getEnvAsInt("RETENTION_BATCH_SIZE", 200),
		},
		Dispatch: DispatchConfig{
			RedisAddr:    getEnv("REDIS_ADDR", ""),
			RedisKey:     getEnv("REDIS_DISPATCH_KEY", "docforge:dispatch"),
			PollInterval: getEnvAsDuration("REDIS_POLL_INTERVAL", time.Second),
		},
		Engine: EngineConfig{
			Ghostscript:   getEnv("GHOSTSCRIPT_BIN", "gs"),
			Tesseract:     getEnv("TESSERACT_BIN", "tesseract"),
			Pdftotext:     getEnv("PDFTOTEXT_BIN", "pdftotext"),
			Pdftoppm:      getEnv("PDFTOPPM_BIN", "pdftoppm"),
			HeicConverter: getEnv("HEIC_CONVERTER", "magick"),
			TessdataDir:   getEnv("TESSDATA_PREFIX", ""),
			Language:      getEnv("OCR_LANGUAGE", "eng"),
			DPI:           getEnvAsInt("OCR_DPI", 300),
			MaxPages:      getEnvAsInt("OCR_MAX_PAGES", 20),
			ArtifactDir:   getEnv("ARTIFACT_DIR", "./artifacts"),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 45*time.Second),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// ValidateConfig validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.Driver != "postgres" && c.Database.Driver != "sqlite" {
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if c.Worker.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "MAX_RETRIES must be >= 0", ErrInvalidInput)
	}
	if c.Worker.BackoffBase <= 0 || c.Worker.BackoffMax < c.Worker.BackoffBase {
		return NewAppError("CONFIG_ERROR", "retry backoff bounds are inconsistent", ErrInvalidInput)
	}
	return nil
}
