package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "DATA_DIR", "STATE_PATH", "STATE_BUCKET", "GOOGLE_CREDENTIALS_JSON",
		"WEBHOOK_SECRET", "TYFLOPODCAST_WP", "TYFLOSWIAT_WP", "TOKEN_LOG_SALT", "LOG_LEVEL",
		"POLL_INTERVAL_SECONDS", "FETCH_TIMEOUT_SECONDS", "POLL_PER_PAGE", "FETCH_ATTEMPTS",
		"RATE_LIMIT_PER_MINUTE",
	} {
		t.Setenv(key, "")
	}
	// Keep a stray .env in the package directory out of the picture.
	t.Chdir(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()

	if cfg.Addr() != "127.0.0.1:9070" {
		t.Errorf("Addr = %q, want loopback 127.0.0.1:9070", cfg.Addr())
	}
	if cfg.StatePath != filepath.Join("data", "state.json") {
		t.Errorf("StatePath = %q", cfg.StatePath)
	}
	if cfg.PollInterval != 300*time.Second {
		t.Errorf("PollInterval = %v, want 5m", cfg.PollInterval)
	}
	if cfg.FetchTimeout != 20*time.Second || cfg.FetchAttempts != 3 || cfg.PollPerPage != 20 {
		t.Errorf("fetch settings = %v/%d/%d", cfg.FetchTimeout, cfg.FetchAttempts, cfg.PollPerPage)
	}
	if cfg.TyflopodcastURL != "https://tyflopodcast.net" || cfg.TyfloswiatURL != "https://tyfloswiat.pl" {
		t.Errorf("source URLs = %q, %q", cfg.TyflopodcastURL, cfg.TyfloswiatURL)
	}
	if cfg.WebhookSecret != "" {
		t.Error("WebhookSecret should default to empty")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOST", "0.0.0.0")
	t.Setenv("PORT", "8080")
	t.Setenv("DATA_DIR", "/var/lib/tyflo")
	t.Setenv("POLL_INTERVAL_SECONDS", "60")
	t.Setenv("TYFLOPODCAST_WP", "https://staging.tyflopodcast.net/")
	t.Setenv("WEBHOOK_SECRET", "s3cret")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("STATE_BUCKET", "tyflo-state")

	cfg := Load()

	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr = %q", cfg.Addr())
	}
	if cfg.StatePath != "/var/lib/tyflo/state.json" || cfg.StateObject() != "state.json" {
		t.Errorf("StatePath = %q, object = %q", cfg.StatePath, cfg.StateObject())
	}
	if cfg.PollInterval != time.Minute {
		t.Errorf("PollInterval = %v", cfg.PollInterval)
	}
	if cfg.TyflopodcastURL != "https://staging.tyflopodcast.net" {
		t.Errorf("TyflopodcastURL = %q, want trailing slash trimmed", cfg.TyflopodcastURL)
	}
	if cfg.WebhookSecret != "s3cret" || cfg.StateBucket != "tyflo-state" {
		t.Errorf("secret/bucket = %q/%q", cfg.WebhookSecret, cfg.StateBucket)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "eighty")
	t.Setenv("POLL_INTERVAL_SECONDS", "-5")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "0")
	t.Setenv("LOG_LEVEL", "chatty")

	cfg := Load()

	if cfg.Port != 9070 || cfg.PollInterval != 300*time.Second || cfg.RateLimitPerMinute != 60 {
		t.Errorf("fallbacks not applied: port %d interval %v rate %d", cfg.Port, cfg.PollInterval, cfg.RateLimitPerMinute)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want INFO fallback", cfg.LogLevel)
	}
}
