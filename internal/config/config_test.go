package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Unset all herald env vars to get defaults.
	for _, k := range []string{
		"PORT", "NODE_ENV", "LOG_JSON", "DATABASE_PATH", "REDIS_URL",
		"REDIS_KEY_PREFIX", "RECAPTCHA_SECRET_KEY", "CRON_TIMEZONE",
		"CRAWL_INTERVAL", "FRONTEND_URL", "ALERT_MQTT_URL", "ALERT_MQTT_TOPIC",
		"MESSAGE_TEMPLATES_PATH",
	} {
		os.Unsetenv(k)
	}

	cfg := Load()
	if cfg.Port != 3001 {
		t.Errorf("Port = %d, want 3001", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.LogJSON {
		t.Error("LogJSON = true, want false in development")
	}
	if cfg.DatabasePath != "data/herald.db" {
		t.Errorf("DatabasePath = %q, want data/herald.db", cfg.DatabasePath)
	}
	if cfg.RedisURL != "redis://localhost:6379" {
		t.Errorf("RedisURL = %q, want redis://localhost:6379", cfg.RedisURL)
	}
	if cfg.RedisKeyPrefix != "herald:" {
		t.Errorf("RedisKeyPrefix = %q, want herald:", cfg.RedisKeyPrefix)
	}
	if cfg.CronTimezone != "Asia/Seoul" {
		t.Errorf("CronTimezone = %q, want Asia/Seoul", cfg.CronTimezone)
	}
	if cfg.CrawlInterval != 10*time.Minute {
		t.Errorf("CrawlInterval = %s, want 10m", cfg.CrawlInterval)
	}
	if len(cfg.FrontendURLs) != 0 {
		t.Errorf("FrontendURLs = %v, want empty", cfg.FrontendURLs)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("CRAWL_INTERVAL", "5m")
	t.Setenv("FRONTEND_URL", "https://a.example.com, https://b.example.com")

	cfg := Load()
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if !cfg.Production() {
		t.Error("Production() = false, want true")
	}
	if !cfg.LogJSON {
		t.Error("LogJSON = false, want true (derived from production)")
	}
	if cfg.CrawlInterval != 5*time.Minute {
		t.Errorf("CrawlInterval = %s, want 5m", cfg.CrawlInterval)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.FrontendURLs) != len(want) {
		t.Fatalf("FrontendURLs = %v, want %v", cfg.FrontendURLs, want)
	}
	for i := range want {
		if cfg.FrontendURLs[i] != want[i] {
			t.Errorf("FrontendURLs[%d] = %q, want %q", i, cfg.FrontendURLs[i], want[i])
		}
	}
}

func TestLogJSONOverride(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("LOG_JSON", "false")

	cfg := Load()
	if cfg.LogJSON {
		t.Error("LogJSON = true, want false (explicit override)")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:           3001,
			Env:            "development",
			DatabasePath:   "data/herald.db",
			RedisURL:       "redis://localhost:6379",
			RedisKeyPrefix: "herald:",
			CronTimezone:   "Asia/Seoul",
			CrawlInterval:  10 * time.Minute,
			AlertMQTTTopic: "herald/alerts",
		}
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid defaults", func(_ *Config) {}, false},
		{"zero port", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"bad env", func(c *Config) { c.Env = "staging" }, true},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, true},
		{"empty redis url", func(c *Config) { c.RedisURL = "" }, true},
		{"zero crawl interval", func(c *Config) { c.CrawlInterval = 0 }, true},
		{"bad timezone", func(c *Config) { c.CronTimezone = "Mars/Olympus" }, true},
		{"production without recaptcha", func(c *Config) { c.Env = "production" }, true},
		{"production with recaptcha", func(c *Config) {
			c.Env = "production"
			c.RecaptchaSecret = "secret"
		}, false},
		{"mqtt url without topic", func(c *Config) {
			c.AlertMQTTURL = "tcp://broker:1883"
			c.AlertMQTTTopic = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvStr(t *testing.T) {
	const key = "HERALD_TEST_ENV_STR"
	t.Setenv(key, "custom")

	if got := envStr(key, "default"); got != "custom" {
		t.Errorf("got %q, want %q", got, "custom")
	}
	if got := envStr("HERALD_TEST_MISSING", "fallback"); got != "fallback" {
		t.Errorf("got %q, want %q", got, "fallback")
	}
}

func TestEnvInt(t *testing.T) {
	const key = "HERALD_TEST_ENV_INT"

	t.Setenv(key, "42")
	if got := envInt(key, 0); got != 42 {
		t.Errorf("got %d, want 42", got)
	}

	t.Setenv(key, "notanumber")
	if got := envInt(key, 99); got != 99 {
		t.Errorf("got %d, want 99 (default on parse failure)", got)
	}
}

func TestEnvBool(t *testing.T) {
	const key = "HERALD_TEST_ENV_BOOL"

	t.Setenv(key, "true")
	if got := envBool(key, false); !got {
		t.Errorf("got false, want true")
	}

	t.Setenv(key, "invalid")
	if got := envBool(key, true); !got {
		t.Errorf("got false, want true (default on parse failure)")
	}
}

func TestEnvList(t *testing.T) {
	const key = "HERALD_TEST_ENV_LIST"

	t.Setenv(key, "a,, b ,c")
	got := envList(key)
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if got := envList("HERALD_TEST_LIST_MISSING"); got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestEnvDuration(t *testing.T) {
	const key = "HERALD_TEST_ENV_DUR"

	t.Setenv(key, "5m")
	if got := envDuration(key, time.Hour); got != 5*time.Minute {
		t.Errorf("got %s, want 5m", got)
	}

	t.Setenv(key, "notaduration")
	if got := envDuration(key, time.Hour); got != time.Hour {
		t.Errorf("got %s, want 1h (default on parse failure)", got)
	}
}
