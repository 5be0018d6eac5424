package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the companion speech service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	BackendBaseURL string
	BackendTimeout time.Duration

	Language  string
	AutoSpeak bool

	InterimInterval time.Duration

	LocalTTSCommand string
	PlayerCommand   string

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voicebridge"),
		AllowAnyOrigin:   false,
		BackendBaseURL:   envOrDefault("VOICEBRIDGE_BACKEND_URL", "http://localhost:8000"),
		BackendTimeout:   60 * time.Second,
		Language:         envOrDefault("VOICEBRIDGE_LANGUAGE", "en"),
		AutoSpeak:        false,
		InterimInterval:  1500 * time.Millisecond,
		LocalTTSCommand:  envOrDefault("VOICEBRIDGE_LOCAL_TTS_CMD", "espeak-ng"),
		PlayerCommand:    envOrDefault("VOICEBRIDGE_PLAYER_CMD", "mpg123 -q"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		ShutdownTimeout:  15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.BackendTimeout, err = durationFromEnv("VOICEBRIDGE_BACKEND_TIMEOUT", cfg.BackendTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.InterimInterval, err = durationFromEnv("VOICEBRIDGE_INTERIM_INTERVAL", cfg.InterimInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoSpeak, err = boolFromEnv("VOICEBRIDGE_AUTO_SPEAK", cfg.AutoSpeak)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if !strings.HasPrefix(cfg.BackendBaseURL, "http://") && !strings.HasPrefix(cfg.BackendBaseURL, "https://") {
		return Config{}, fmt.Errorf("VOICEBRIDGE_BACKEND_URL must be an http(s) URL")
	}
	if cfg.BackendTimeout <= 0 {
		return Config{}, fmt.Errorf("VOICEBRIDGE_BACKEND_TIMEOUT must be positive")
	}
	if cfg.InterimInterval < 100*time.Millisecond {
		return Config{}, fmt.Errorf("VOICEBRIDGE_INTERIM_INTERVAL must be at least 100ms")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
