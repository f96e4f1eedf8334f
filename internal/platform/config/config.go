package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr               string
	Environment        string
	LogLevel           string
	FrontendDir        string
	APIBaseURL         string
	APITimeout         time.Duration
	APISessionCookie   string
	SessionSecret      string
	SessionSealKey     string
	SessionTTL         time.Duration
	SessionCookie      string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	WizardTTL          time.Duration
	DatabaseURL        string
	RunMigrations      bool
	IdempotencyTTL     time.Duration
	AccessPolicyFile   string
	BatchChunkSize     int
	BatchConcurrency   int
	MaxBodyBytes       int64
	RateLimitPerMinute int
	MetricsEnabled     bool
}

// Load reads a .env file when present and then the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("dotenv load failed", "err", err)
	}
	return Config{
		Addr:               getEnv("APP_ADDR", ":8080"),
		Environment:        getEnv("APP_ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		FrontendDir:        getEnv("FRONTEND_DIR", "frontend/dist"),
		APIBaseURL:         strings.TrimRight(getEnv("API_BASE_URL", "http://localhost:3000/api"), "/"),
		APITimeout:         getEnvDuration("API_TIMEOUT", 30*time.Second),
		APISessionCookie:   getEnv("API_SESSION_COOKIE", "token"),
		SessionSecret:      getEnv("SESSION_SECRET", ""),
		SessionSealKey:     getEnv("SESSION_SEAL_KEY", ""),
		SessionTTL:         getEnvDuration("SESSION_TTL", 8*time.Hour),
		SessionCookie:      getEnv("SESSION_COOKIE", "evalportal_session"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		WizardTTL:          getEnvDuration("WIZARD_TTL", 12*time.Hour),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RunMigrations:      getEnvBool("RUN_MIGRATIONS", true),
		IdempotencyTTL:     getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		AccessPolicyFile:   getEnv("ACCESS_POLICY_FILE", ""),
		BatchChunkSize:     getEnvInt("BATCH_CHUNK_SIZE", 100),
		BatchConcurrency:   getEnvInt("BATCH_CONCURRENCY", 4),
		MaxBodyBytes:       int64(getEnvInt("MAX_BODY_BYTES", 1048576)),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// SlogLevel maps LOG_LEVEL onto a slog level, defaulting to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if !strings.HasPrefix(c.APIBaseURL, "http://") && !strings.HasPrefix(c.APIBaseURL, "https://") {
		return fmt.Errorf("API_BASE_URL must be an http(s) url")
	}
	if c.IsProduction() {
		if len(strings.TrimSpace(c.SessionSecret)) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 characters in production")
		}
		if strings.TrimSpace(c.SessionSealKey) == "" {
			return fmt.Errorf("SESSION_SEAL_KEY must be set in production")
		}
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.BatchChunkSize <= 0 {
		return fmt.Errorf("BATCH_CHUNK_SIZE must be positive")
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("BATCH_CONCURRENCY must be positive")
	}
	if c.MaxBodyBytes < 1024 {
		return fmt.Errorf("MAX_BODY_BYTES must be at least 1024")
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}
