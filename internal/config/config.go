// internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port              string
	Environment       string
	InngestEventKey   string
	InngestSigningKey string
	OpenAIAPIKey      string
	AnthropicAPIKey   string
	SlackWebhookURL   string
	DatabaseURL       string
	RedisURL          string
	Database          DatabaseConfig
	Pipeline          PipelineConfig
	Recovery          RecoveryConfig
}

// DatabaseConfig mirrors the standard Postgres connection settings.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int
}

// PipelineConfig tunes report generation.
type PipelineConfig struct {
	// FanOutConcurrency bounds how many (question, model) units run at once.
	FanOutConcurrency int
	// UnitMaxAttempts is the attempt budget per fan-out unit.
	UnitMaxAttempts int
	// DefaultModelsMax / DefaultPromptsMax apply when a company has no plan
	// limits set.
	DefaultModelsMax  int
	DefaultPromptsMax int
	// LockTTLSeconds is the report lock TTL; the heartbeat extends it while
	// the pipeline is alive.
	LockTTLSeconds int
	// RateLimitMax report-creation requests per RateLimitWindowSeconds.
	RateLimitMax           int
	RateLimitWindowSeconds int
	// CitationKeepSubdomains lists subdomains preserved during citation
	// domain folding (language codes are always kept).
	CitationKeepSubdomains []string
}

// RecoveryConfig tunes the stuck-run sweep and backup scheduler.
type RecoveryConfig struct {
	// StuckAfterMinutes: RUNNING with no progress for this long is forced to
	// FAILED by the sweep.
	StuckAfterMinutes int
	// BackupHourUTC: past this hour, companies still missing a run today are
	// re-triggered by the backup scheduler.
	BackupHourUTC int
}

func Load() *Config {
	config := &Config{
		Port:              getEnv("PORT", "8000"),
		Environment:       getEnv("ENVIRONMENT", "development"),
		InngestEventKey:   os.Getenv("INNGEST_EVENT_KEY"),
		InngestSigningKey: os.Getenv("INNGEST_SIGNING_KEY"),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		SlackWebhookURL:   os.Getenv("SLACK_WEBHOOK_URL"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
	}

	dbConfig, err := parseDatabaseConfig()
	if err != nil {
		// If DATABASE_URL parsing fails, fall back to individual env vars.
		dbConfig = DatabaseConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			Name:            getEnv("DB_NAME", "beacon"),
			SSLMode:         getEnv("DB_SSLMODE", "require"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
			ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 300),
		}
	}
	config.Database = dbConfig

	config.Pipeline = PipelineConfig{
		FanOutConcurrency:      getEnvInt("FANOUT_CONCURRENCY", 5),
		UnitMaxAttempts:        getEnvInt("UNIT_MAX_ATTEMPTS", 3),
		DefaultModelsMax:       getEnvInt("PLAN_MODELS_MAX_DEFAULT", 4),
		DefaultPromptsMax:      getEnvInt("PLAN_PROMPTS_MAX_DEFAULT", 25),
		LockTTLSeconds:         getEnvInt("REPORT_LOCK_TTL_SECONDS", 120),
		RateLimitMax:           getEnvInt("REPORT_RATE_LIMIT_MAX", 3),
		RateLimitWindowSeconds: getEnvInt("REPORT_RATE_LIMIT_WINDOW_SECONDS", 60),
		CitationKeepSubdomains: getEnvList("CITATION_KEEP_SUBDOMAINS", []string{"docs", "api", "blog", "developer", "support", "help"}),
	}

	config.Recovery = RecoveryConfig{
		StuckAfterMinutes: getEnvInt("STUCK_RUN_AFTER_MINUTES", 180),
		BackupHourUTC:     getEnvInt("BACKUP_SCHEDULER_HOUR_UTC", 14),
	}

	return config
}

func parseDatabaseConfig() (DatabaseConfig, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return DatabaseConfig{}, fmt.Errorf("DATABASE_URL not set")
	}

	parsedURL, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	config := DatabaseConfig{
		Host:            parsedURL.Hostname(),
		Port:            5432, // default
		User:            parsedURL.User.Username(),
		Name:            strings.TrimPrefix(parsedURL.Path, "/"),
		SSLMode:         getEnv("DB_SSLMODE", "require"),
		MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 25),
		ConnMaxLifetime: getEnvInt("DB_CONN_MAX_LIFETIME", 300),
	}

	if password, ok := parsedURL.User.Password(); ok {
		config.Password = password
	}

	if parsedURL.Port() != "" {
		if port, err := strconv.Atoi(parsedURL.Port()); err == nil {
			config.Port = port
		}
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
