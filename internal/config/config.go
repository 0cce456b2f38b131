package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the ContentMill server.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Executors ExecutorConfig
	Notify    NotifyConfig
	Retention RetentionConfig
	DataDir   string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// ExecutorConfig carries per-executor timeouts and the endpoints the
// scraping and script executors call out to.
type ExecutorConfig struct {
	AITimeout        time.Duration
	ScrapingTimeout  time.Duration
	ScriptTimeout    time.Duration
	HTTPTimeout      time.Duration
	TransformTimeout time.Duration

	ScraperEndpoint      string
	ScraperPollInterval  time.Duration
	ScriptRunnerEndpoint string
}

type NotifyConfig struct {
	WebhookURL string
	Secret     string
	Timeout    time.Duration
}

type RetentionConfig struct {
	Enabled  bool
	TTL      time.Duration
	Interval time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("CONTENTMILL_PORT", 8080),
		Version: envStr("CONTENTMILL_VERSION", "0.4.0"),
		DataDir: envStr("CONTENTMILL_DATA_DIR", "./data"),
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "contentmill"),
		},
		Executors: ExecutorConfig{
			AITimeout:        envDur("CONTENTMILL_AI_TIMEOUT", 120*time.Second),
			ScrapingTimeout:  envDur("CONTENTMILL_SCRAPING_TIMEOUT", 300*time.Second),
			ScriptTimeout:    envDur("CONTENTMILL_SCRIPT_TIMEOUT", 60*time.Second),
			HTTPTimeout:      envDur("CONTENTMILL_HTTP_TIMEOUT", 30*time.Second),
			TransformTimeout: envDur("CONTENTMILL_TRANSFORM_TIMEOUT", 10*time.Second),

			ScraperEndpoint:      envStr("CONTENTMILL_SCRAPER_ENDPOINT", ""),
			ScraperPollInterval:  envDur("CONTENTMILL_SCRAPER_POLL_INTERVAL", 3*time.Second),
			ScriptRunnerEndpoint: envStr("CONTENTMILL_SCRIPT_RUNNER_ENDPOINT", ""),
		},
		Notify: NotifyConfig{
			WebhookURL: envStr("CONTENTMILL_WEBHOOK_URL", ""),
			Secret:     envStr("CONTENTMILL_WEBHOOK_SECRET", ""),
			Timeout:    envDur("CONTENTMILL_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Retention: RetentionConfig{
			Enabled:  envBool("CONTENTMILL_RETENTION_ENABLED", false),
			TTL:      envDur("CONTENTMILL_RETENTION_TTL", 30*24*time.Hour),
			Interval: envDur("CONTENTMILL_RETENTION_INTERVAL", time.Hour),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
