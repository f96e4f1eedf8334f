package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com/v1/")
	t.Setenv("SESSION_TTL", "2h")
	t.Setenv("BATCH_CHUNK_SIZE", "not-a-number")

	cfg := Load()
	assert.Equal(t, "https://api.example.com/v1", cfg.APIBaseURL)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL)
	assert.Equal(t, 100, cfg.BatchChunkSize)
	assert.Equal(t, "evalportal_session", cfg.SessionCookie)
	require.NoError(t, cfg.Validate())
}

func TestValidateProductionRequiresSecrets(t *testing.T) {
	cfg := Config{
		APIBaseURL:         "https://api.example.com",
		Environment:        "production",
		SessionTTL:         time.Hour,
		BatchChunkSize:     100,
		BatchConcurrency:   2,
		MaxBodyBytes:       4096,
		RateLimitPerMinute: 10,
	}
	require.Error(t, cfg.Validate())

	cfg.SessionSecret = "0123456789abcdef0123456789abcdef"
	require.Error(t, cfg.Validate())

	cfg.SessionSealKey = "0123456789abcdef0123456789abcdef"
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadBaseURL(t *testing.T) {
	cfg := Config{APIBaseURL: "ftp://nope", SessionTTL: time.Hour, BatchChunkSize: 1, BatchConcurrency: 1, MaxBodyBytes: 2048, RateLimitPerMinute: 1}
	assert.Error(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Config{LogLevel: "DEBUG"}.SlogLevel())
	assert.Equal(t, slog.LevelWarn, Config{LogLevel: "warning"}.SlogLevel())
	assert.Equal(t, slog.LevelInfo, Config{LogLevel: ""}.SlogLevel())
}
