package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all Bill-Herald configuration from environment variables.
// Variable names match the original deployment surface so existing env
// files keep working.
type Config struct {
	// HTTP
	Port         int
	FrontendURLs []string // CORS allow-list, from comma-separated FRONTEND_URL

	// Runtime environment: "development" or "production".
	Env     string
	LogJSON bool

	// Storage
	DatabasePath   string
	RedisURL       string
	RedisKeyPrefix string

	// Registration
	RecaptchaSecret string

	// Schedules
	CronTimezone  string
	CrawlInterval time.Duration

	// Operational alerts (optional)
	AlertMQTTURL   string
	AlertMQTTTopic string

	// Message copy overrides (optional)
	MessageTemplatesPath string

	// Metrics snapshot for node_exporter's textfile collector (optional)
	MetricsTextfilePath string
}

// Load reads all configuration from environment variables with defaults.
func Load() *Config {
	env := envStr("NODE_ENV", "development")
	return &Config{
		Port:                 envInt("PORT", 3001),
		FrontendURLs:         envList("FRONTEND_URL"),
		Env:                  env,
		LogJSON:              envBool("LOG_JSON", env == "production"),
		DatabasePath:         envStr("DATABASE_PATH", "data/herald.db"),
		RedisURL:             envStr("REDIS_URL", "redis://localhost:6379"),
		RedisKeyPrefix:       envStr("REDIS_KEY_PREFIX", "herald:"),
		RecaptchaSecret:      envStr("RECAPTCHA_SECRET_KEY", ""),
		CronTimezone:         envStr("CRON_TIMEZONE", "Asia/Seoul"),
		CrawlInterval:        envDuration("CRAWL_INTERVAL", 10*time.Minute),
		AlertMQTTURL:         envStr("ALERT_MQTT_URL", ""),
		AlertMQTTTopic:       envStr("ALERT_MQTT_TOPIC", "herald/alerts"),
		MessageTemplatesPath: envStr("MESSAGE_TEMPLATES_PATH", ""),
		MetricsTextfilePath:  envStr("METRICS_TEXTFILE_PATH", ""),
	}
}

// Production reports whether the service runs in production mode.
func (c *Config) Production() bool { return c.Env == "production" }

// Validate checks configuration for invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be 1-65535, got %d", c.Port))
	}
	switch c.Env {
	case "development", "production", "test":
		// valid
	default:
		errs = append(errs, fmt.Errorf("NODE_ENV must be development, production, or test, got %q", c.Env))
	}
	if c.DatabasePath == "" {
		errs = append(errs, errors.New("DATABASE_PATH must not be empty"))
	}
	if c.RedisURL == "" {
		errs = append(errs, errors.New("REDIS_URL must not be empty"))
	}
	if c.CrawlInterval <= 0 {
		errs = append(errs, fmt.Errorf("CRAWL_INTERVAL must be > 0, got %s", c.CrawlInterval))
	}
	if _, err := time.LoadLocation(c.CronTimezone); err != nil {
		errs = append(errs, fmt.Errorf("CRON_TIMEZONE %q: %w", c.CronTimezone, err))
	}
	if c.Production() && c.RecaptchaSecret == "" {
		errs = append(errs, errors.New("RECAPTCHA_SECRET_KEY must be set in production"))
	}
	if c.AlertMQTTURL != "" && c.AlertMQTTTopic == "" {
		errs = append(errs, errors.New("ALERT_MQTT_TOPIC must not be empty when ALERT_MQTT_URL is set"))
	}
	return errors.Join(errs...)
}

func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
