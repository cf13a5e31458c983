package config

import (
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all chatkit configuration
type Config struct {
	// API configuration
	API struct {
		BaseURL string
		Token   string
		Timeout time.Duration
	}

	// Stream configuration
	Stream struct {
		ReconnectDelay time.Duration
		Transport      string // "sse" or "websocket"
	}

	// Composer configuration
	Composer struct {
		PendingExpiry time.Duration
		MaxUploadSize int64
	}

	// Session store used by the identity snapshot providers
	Session struct {
		RedisAddr     string
		RedisPassword string
		RedisDB       int
		JWTSecret     string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Metrics configuration
	Metrics struct {
		Enabled    bool
		ListenAddr string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// API config
		instance.API.BaseURL = getEnvString("CHAT_API_BASE_URL", "http://localhost:8081")
		instance.API.Token = getEnvString("CHAT_API_TOKEN", "")
		instance.API.Timeout = getEnvDuration("CHAT_API_TIMEOUT", 30*time.Second)

		// Stream config
		instance.Stream.ReconnectDelay = getEnvDuration("CHAT_STREAM_RECONNECT_DELAY", 3*time.Second)
		instance.Stream.Transport = getEnvString("CHAT_STREAM_TRANSPORT", "sse")

		// Composer config
		instance.Composer.PendingExpiry = getEnvDuration("CHAT_PENDING_EXPIRY", 5*time.Second)
		instance.Composer.MaxUploadSize = getEnvInt64("CHAT_MAX_UPLOAD_SIZE", 10<<20) // 10MB

		// Session store config
		instance.Session.RedisAddr = getEnvString("SESSION_REDIS_ADDR", "localhost:6379")
		instance.Session.RedisPassword = getEnvString("SESSION_REDIS_PASSWORD", "")
		instance.Session.RedisDB = getEnvInt("SESSION_REDIS_DB", 0)
		instance.Session.JWTSecret = getEnvString("SESSION_JWT_SECRET", "")

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")

		// Metrics config
		instance.Metrics.Enabled = getEnvBool("METRICS_ENABLED", false)
		instance.Metrics.ListenAddr = getEnvString("METRICS_LISTEN_ADDR", ":2112")
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
