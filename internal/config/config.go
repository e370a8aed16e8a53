// Package config loads process configuration from the environment.
// In development a .env file is read first if present.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port      string
	Env       string
	LogLevel  string
	LogPretty bool

	DatabaseURL string
	RedisURL    string

	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string

	JWTAccessSecret  string
	JWTRefreshSecret string
	AllowedOrigins   []string

	AnthropicAPIKey string
	AIModels        []string // tried in order

	// Pipeline tuning
	FlushInterval    time.Duration
	FlushSize        int
	RecoveryInterval time.Duration
	HistoryLimit     int
	RecentCacheSize  int
}

// Load reads configuration from environment variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	return &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogPretty: getBool("LOG_PRETTY", false),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    getEnv("REDIS_URL", "redis://localhost:6379/0"),

		KafkaBrokers: splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "chat-messages-persist"),
		KafkaGroupID: getEnv("KAFKA_GROUP_ID", "chat-persister"),

		JWTAccessSecret:  os.Getenv("JWT_ACCESS_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		AllowedOrigins:   splitCSV(os.Getenv("ALLOWED_ORIGINS")),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AIModels:        splitCSV(getEnv("AI_MODELS", "claude-3-5-haiku-latest,claude-sonnet-4-20250514")),

		FlushInterval:    getDuration("FLUSH_INTERVAL", 5*time.Minute),
		FlushSize:        getInt("FLUSH_SIZE", 1000),
		RecoveryInterval: getDuration("RECOVERY_INTERVAL", time.Minute),
		HistoryLimit:     getInt("HISTORY_LIMIT", 20),
		RecentCacheSize:  getInt("RECENT_CACHE_SIZE", 50),
	}
}

// Validate reports missing or out-of-range settings.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.JWTAccessSecret == "" {
		errs = append(errs, errors.New("JWT_ACCESS_SECRET is required"))
	}
	if len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("KAFKA_BROKERS must list at least one broker"))
	}
	if c.FlushSize < 1 {
		errs = append(errs, errors.New("FLUSH_SIZE must be >= 1"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("FLUSH_INTERVAL must be > 0"))
	}
	if c.RecoveryInterval <= 0 {
		errs = append(errs, errors.New("RECOVERY_INTERVAL must be > 0"))
	}
	if c.HistoryLimit < 1 {
		errs = append(errs, errors.New("HISTORY_LIMIT must be >= 1"))
	}
	if c.RecentCacheSize < c.HistoryLimit {
		errs = append(errs, errors.New("RECENT_CACHE_SIZE must be >= HISTORY_LIMIT"))
	}
	if c.Env == "production" && c.JWTRefreshSecret == "" {
		errs = append(errs, errors.New("JWT_REFRESH_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
