package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the AdScope server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Evaluator EvaluatorConfig
	Media     MediaConfig
	Pipeline  PipelineConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port          int
	Env           string
	PublicBaseURL string
	RateLimitRPM  int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type EvaluatorConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Gemini           GeminiConfig
}

type GeminiConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type MediaConfig struct {
	BaseURL string
	Timeout time.Duration
}

type PipelineConfig struct {
	EvaluationTimeout time.Duration
	StaleThreshold    time.Duration
	ReaperInterval    time.Duration
}

type NotifyConfig struct {
	SlackWebhookURL string
}

var validProviders = map[string]bool{
	"gemini": true,
	"mock":   true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value
// is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:          envInt("ADSCOPE_PORT", 8080),
			Env:           envString("ADSCOPE_ENV", "development"),
			PublicBaseURL: os.Getenv("PUBLIC_BASE_URL"),
			RateLimitRPM:  envInt("RATE_LIMIT_RPM", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Evaluator: EvaluatorConfig{
			Provider:         envString("EVALUATOR_PROVIDER", "gemini"),
			InferenceTimeout: envDurationSecs("EVALUATOR_TIMEOUT_SECS", 120*time.Second),
			Gemini: GeminiConfig{
				BaseURL: envString("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
				APIKey:  os.Getenv("GEMINI_API_KEY"),
				Model:   envString("GEMINI_MODEL", "gemini-2.5-pro"),
			},
		},
		Media: MediaConfig{
			BaseURL: os.Getenv("MEDIA_BASE_URL"),
			Timeout: envDurationSecs("MEDIA_TIMEOUT_SECS", 60*time.Second),
		},
		Pipeline: PipelineConfig{
			EvaluationTimeout: envDurationSecs("EVALUATION_TIMEOUT_SECS", 300*time.Second),
			StaleThreshold:    envDurationSecs("STALE_JOB_THRESHOLD_SECS", 600*time.Second),
			ReaperInterval:    envDurationSecs("REAPER_INTERVAL_SECS", 120*time.Second),
		},
		Notify: NotifyConfig{
			SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validProviders[c.Evaluator.Provider] {
		return fmt.Errorf("EVALUATOR_PROVIDER must be one of gemini, mock; got %q", c.Evaluator.Provider)
	}
	if c.Evaluator.Provider == "gemini" && c.Evaluator.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when EVALUATOR_PROVIDER is gemini")
	}

	if c.Media.BaseURL == "" {
		return fmt.Errorf("MEDIA_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Media.BaseURL, "http://") && !strings.HasPrefix(c.Media.BaseURL, "https://") {
		return fmt.Errorf("MEDIA_BASE_URL must start with http:// or https://, got %q", c.Media.BaseURL)
	}

	if c.Pipeline.EvaluationTimeout <= 0 {
		return fmt.Errorf("EVALUATION_TIMEOUT_SECS must be positive")
	}
	if c.Pipeline.StaleThreshold < c.Pipeline.EvaluationTimeout {
		return fmt.Errorf("STALE_JOB_THRESHOLD_SECS must be at least EVALUATION_TIMEOUT_SECS")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
