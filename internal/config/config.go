// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Generation GenerationConfig
	Enrichment EnrichmentConfig
	RateLimit  RateLimitConfig
	Transcript TranscriptConfig

	// TypingAckDelay is how long the gateway waits before emitting the
	// placeholder acknowledgement after a message event.
	TypingAckDelay time.Duration
}

// GenerationConfig controls the language-generation service client.
type GenerationConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	TokenBudget    int
	MaxReplyTokens int
	RequestTimeout time.Duration
}

// EnrichmentConfig controls the sentiment and goal-tracker providers.
type EnrichmentConfig struct {
	SentimentURL   string
	GoalTrackerURL string
	RequestTimeout time.Duration
}

// RateLimitConfig controls per-user API throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// TranscriptConfig controls NDJSON conversation transcript logging.
type TranscriptConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("TRANSCRIPT_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/aluna.db"),
		Generation: GenerationConfig{
			BaseURL:        getEnv("GENERATION_URL", "https://api.openai.com/v1"),
			APIKey:         getEnv("GENERATION_API_KEY", ""),
			Model:          getEnv("GENERATION_MODEL", "gpt-4o-mini"),
			TokenBudget:    getEnvInt("GENERATION_TOKEN_BUDGET", 4096),
			MaxReplyTokens: getEnvInt("GENERATION_MAX_REPLY_TOKENS", 300),
			RequestTimeout: getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		},
		Enrichment: EnrichmentConfig{
			SentimentURL:   getEnv("SENTIMENT_URL", ""),
			GoalTrackerURL: getEnv("GOAL_TRACKER_URL", ""),
			RequestTimeout: getEnvDuration("ENRICHMENT_TIMEOUT", 5*time.Second),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Transcript: TranscriptConfig{
			Enabled:   getEnvBool("TRANSCRIPT_ENABLED", true),
			Dir:       getEnv("TRANSCRIPT_DIR", "./data/transcripts"),
			QueueSize: queueSize,
		},
		TypingAckDelay: getEnvDuration("TYPING_ACK_DELAY", 1500*time.Millisecond),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Generation.BaseURL == "" {
		return fmt.Errorf("GENERATION_URL cannot be empty")
	}
	if c.Generation.TokenBudget <= 0 {
		return fmt.Errorf("GENERATION_TOKEN_BUDGET must be > 0")
	}
	if c.Generation.MaxReplyTokens <= 0 {
		return fmt.Errorf("GENERATION_MAX_REPLY_TOKENS must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_DIR cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
