// Package config loads service settings from the environment.
package config

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime setting.
type Config struct {
	Host               string
	Port               int
	DataDir            string
	StatePath          string
	StateBucket        string
	GoogleCredentials  string
	WebhookSecret      string
	TyflopodcastURL    string
	TyfloswiatURL      string
	TokenLogSalt       string
	LogLevel           slog.Level
	PollInterval       time.Duration
	FetchTimeout       time.Duration
	PollPerPage        int
	FetchAttempts      int
	RateLimitPerMinute int
}

// Load reads the configuration. A .env file in the working directory is
// applied first when present; variables already set in the environment win.
// Unparseable numbers fall back to their defaults.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Host:               getEnv("HOST", "127.0.0.1"),
		Port:               getEnvInt("PORT", 9070),
		DataDir:            getEnv("DATA_DIR", "./data"),
		StateBucket:        os.Getenv("STATE_BUCKET"),
		GoogleCredentials:  os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		WebhookSecret:      os.Getenv("WEBHOOK_SECRET"),
		TyflopodcastURL:    strings.TrimSuffix(getEnv("TYFLOPODCAST_WP", "https://tyflopodcast.net"), "/"),
		TyfloswiatURL:      strings.TrimSuffix(getEnv("TYFLOSWIAT_WP", "https://tyfloswiat.pl"), "/"),
		TokenLogSalt:       os.Getenv("TOKEN_LOG_SALT"),
		LogLevel:           parseLevel(os.Getenv("LOG_LEVEL")),
		PollInterval:       time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 300)) * time.Second,
		FetchTimeout:       time.Duration(getEnvInt("FETCH_TIMEOUT_SECONDS", 20)) * time.Second,
		PollPerPage:        getEnvInt("POLL_PER_PAGE", 20),
		FetchAttempts:      getEnvInt("FETCH_ATTEMPTS", 3),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}
	cfg.StatePath = getEnv("STATE_PATH", filepath.Join(cfg.DataDir, "state.json"))

	return cfg
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// StateObject is the object name used when state lives in a bucket.
func (c *Config) StateObject() string {
	return filepath.Base(c.StatePath)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns a positive integer from key, or fallback.
func getEnvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}
