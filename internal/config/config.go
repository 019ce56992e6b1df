// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Generator providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration. It is read-only after Load.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    slog.Level

	Generator       GeneratorConfig
	Session         SessionConfig
	Archive         ArchiveConfig
	ConversationLog ConversationLogConfig
	Inbound         InboundConfig
	Timeout         TimeoutConfig
}

// GeneratorConfig selects and tunes the completion provider.
type GeneratorConfig struct {
	Provider        string
	GeminiAPIKey    string
	GeminiModel     string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
	RequestTimeout  time.Duration
	RetryAttempts   int
	RetryBaseDelay  time.Duration
}

// SessionConfig controls the per-connection lifecycle.
type SessionConfig struct {
	// InactivityTimeout is used for both the warning and the closing stage.
	InactivityTimeout time.Duration
}

// ArchiveConfig controls the quotation archive.
type ArchiveConfig struct {
	Enabled   bool
	DBPath    string
	Retention time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// InboundConfig bounds what a single connection may send.
type InboundConfig struct {
	RateLimitPerMinute int
	RateLimitBurst     int
	MaxMessageBytes    int64
}

// TimeoutConfig holds HTTP server timeouts.
type TimeoutConfig struct {
	ReadHeader  time.Duration
	Shutdown    time.Duration
	HealthCheck time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnvLevel("LOG_LEVEL", slog.LevelInfo),
		Generator: GeneratorConfig{
			Provider:        strings.ToLower(getEnv("GENERATOR_PROVIDER", ProviderGemini)),
			GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
			GeminiModel:     getEnv("GEMINI_MODEL", "gemini-2.0-flash-lite"),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature:     getEnvFloat32("GENERATOR_TEMPERATURE", 0.7),
			TopK:            getEnvFloat32("GENERATOR_TOP_K", 40),
			TopP:            getEnvFloat32("GENERATOR_TOP_P", 0.95),
			MaxOutputTokens: int32(getEnvInt("GENERATOR_MAX_OUTPUT_TOKENS", 1024)),
			RequestTimeout:  getEnvDuration("GENERATOR_REQUEST_TIMEOUT", 30*time.Second),
			RetryAttempts:   getEnvInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBaseDelay:  getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		},
		Session: SessionConfig{
			InactivityTimeout: getEnvDuration("INACTIVITY_TIMEOUT", 30*time.Second),
		},
		Archive: ArchiveConfig{
			Enabled:   getEnvBool("ARCHIVE_ENABLED", true),
			DBPath:    getEnv("DB_PATH", "./data/cotizador.db"),
			Retention: getEnvDuration("ARCHIVE_RETENTION", 30*24*time.Hour),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		Inbound: InboundConfig{
			RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
			RateLimitBurst:     getEnvInt("RATE_LIMIT_BURST", 5),
			MaxMessageBytes:    int64(getEnvInt("INBOUND_MAX_MESSAGE_BYTES", 8192)),
		},
		Timeout: TimeoutConfig{
			ReadHeader:  getEnvDuration("HTTP_READ_HEADER_TIMEOUT", 10*time.Second),
			Shutdown:    getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			HealthCheck: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),
		},
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
	switch c.Generator.Provider {
	case ProviderGemini:
		if c.Generator.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when GENERATOR_PROVIDER=%s", ProviderGemini)
		}
	case ProviderOpenAI:
		if c.Generator.OpenAIAPIKey == "" && c.Generator.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required when GENERATOR_PROVIDER=%s", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("GENERATOR_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.Generator.Provider)
	}
	if c.Generator.RetryAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be > 0")
	}
	if c.Generator.RetryBaseDelay < 0 {
		return fmt.Errorf("RETRY_BASE_DELAY cannot be negative")
	}
	if c.Generator.MaxOutputTokens <= 0 {
		return fmt.Errorf("GENERATOR_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.Session.InactivityTimeout <= 0 {
		return fmt.Errorf("INACTIVITY_TIMEOUT must be > 0")
	}
	if c.Archive.Enabled && c.Archive.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty when the archive is enabled")
	}
	if c.ConversationLog.Enabled && c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalEnabled && c.ConversationLog.GlobalPath == "" {
		return fmt.Errorf("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.Inbound.MaxMessageBytes <= 0 {
		return fmt.Errorf("INBOUND_MAX_MESSAGE_BYTES must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.IsDevelopment() {
		return []string{"*"}
	}
	return []string{c.FrontendURL}
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

func getEnvFloat32(key string, fallback float32) float32 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 32)
	if err != nil {
		return fallback
	}
	return float32(f)
}

// getEnvDuration accepts Go durations ("45s") or bare seconds ("45").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func getEnvLevel(key string, fallback slog.Level) slog.Level {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return fallback
	}
	return level
}
