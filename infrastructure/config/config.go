package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Timeline encodings. Journal is the canonical default; the per-entity
// file encoding is kept selectable for repositories written by older
// clients.
const (
	TimelineEncodingJournal = "journal"
	TimelineEncodingFiles   = "files"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	ServerAddress string
	Environment   string

	// Remote store configuration
	GitHubToken string
	RepoPrefix  string // backing repositories are named <prefix>-<user>

	// Timeline configuration
	TimelineEncoding   string
	WriteRetryAttempts int // read-merge-write attempts on Conflict; 1 disables merging
	ThreadScanJournals int // how many journals ListThreads scans, newest first

	// Cache configuration
	ThreadListTTL   time.Duration
	MessageListTTL  time.Duration
	ThreadDetailTTL time.Duration
	CacheMaxEntries int

	// Authentication
	JWTSecret string
	JWTIssuer string

	// Logging and features
	LogLevel   string
	EnableCORS bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServerAddress: getEnv("SERVER_ADDRESS", ":8080"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		GitHubToken: getEnv("GITHUB_TOKEN", ""),
		RepoPrefix:  getEnv("REPO_PREFIX", "loom-data"),

		TimelineEncoding:   getEnv("TIMELINE_ENCODING", TimelineEncodingJournal),
		WriteRetryAttempts: getEnvInt("WRITE_RETRY_ATTEMPTS", 3),
		ThreadScanJournals: getEnvInt("THREAD_SCAN_JOURNALS", 12),

		ThreadListTTL:   getEnvDuration("THREAD_LIST_TTL", 60*time.Second),
		MessageListTTL:  getEnvDuration("MESSAGE_LIST_TTL", 15*time.Second),
		ThreadDetailTTL: getEnvDuration("THREAD_DETAIL_TTL", 60*time.Second),
		CacheMaxEntries: getEnvInt("CACHE_MAX_ENTRIES", 2048),

		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTIssuer: getEnv("JWT_ISSUER", "loom-backend"),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		EnableCORS: getEnvBool("ENABLE_CORS", true),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if all required configuration is present
func (c *Config) Validate() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.TimelineEncoding != TimelineEncodingJournal && c.TimelineEncoding != TimelineEncodingFiles {
		return fmt.Errorf("TIMELINE_ENCODING must be %q or %q", TimelineEncodingJournal, TimelineEncodingFiles)
	}
	if c.WriteRetryAttempts < 1 {
		return fmt.Errorf("WRITE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Environment == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
