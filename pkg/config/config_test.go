package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaults(t *testing.T) {
	cfg := New()

	assert.Equal(t, "http://localhost:8081", cfg.API.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 3*time.Second, cfg.Stream.ReconnectDelay)
	assert.Equal(t, "sse", cfg.Stream.Transport)
	assert.Equal(t, 5*time.Second, cfg.Composer.PendingExpiry)
	assert.Equal(t, int64(10<<20), cfg.Composer.MaxUploadSize)
	assert.Equal(t, "localhost:6379", cfg.Session.RedisAddr)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, ":2112", cfg.Metrics.ListenAddr)
}

func TestSingleton(t *testing.T) {
	assert.Same(t, New(), New())
	assert.Same(t, New(), Get())
}
