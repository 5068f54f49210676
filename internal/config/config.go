package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	CreatorName     string
	CredentialFile  string
	WeatherLocation string
	// SecretPhrase allows non-interactive authentication at startup
	// (e.g. when stdin is not a terminal). Never persisted.
	SecretPhrase string

	DatabaseURL string

	ContextTurns int
	MemoryTopK   int

	SummarizeEveryNTurns int
	SummarizeInterval    time.Duration

	SessionInactivityTimeout time.Duration

	BrainMode    string
	BrainCLIPath string
	BrainModel   string
	BrainHTTPURL string

	AppendMaxRetries int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                 envOrDefault("APP_BIND_ADDR", "127.0.0.1:8080"),
		MetricsNamespace:         envOrDefault("APP_METRICS_NAMESPACE", "nova"),
		AllowAnyOrigin:           false,
		CreatorName:              envOrDefault("NOVA_CREATOR_NAME", "Anon"),
		CredentialFile:           envOrDefault("NOVA_CREDENTIAL_FILE", "nova_auth.json"),
		WeatherLocation:          envOrDefault("NOVA_WEATHER_LOCATION", "Kuala Lumpur, Malaysia"),
		SecretPhrase:             trimSpace(os.Getenv("NOVA_SECRET_PHRASE")),
		DatabaseURL:              trimSpace(os.Getenv("DATABASE_URL")),
		ContextTurns:             5,
		MemoryTopK:               5,
		SummarizeEveryNTurns:     8,
		SummarizeInterval:        45 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		BrainMode:                envOrDefault("NOVA_BRAIN_MODE", "auto"),
		BrainCLIPath:             envOrDefault("NOVA_BRAIN_CLI", "ollama"),
		BrainModel:               envOrDefault("NOVA_BRAIN_MODEL", "mistral"),
		BrainHTTPURL:             trimSpace(os.Getenv("NOVA_BRAIN_HTTP_URL")),
		ShutdownTimeout:          15 * time.Second,
		AppendMaxRetries:         2,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizeInterval, err = durationFromEnv("NOVA_SUMMARIZE_INTERVAL", cfg.SummarizeInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextTurns, err = intFromEnv("NOVA_CONTEXT_TURNS", cfg.ContextTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("NOVA_MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.SummarizeEveryNTurns, err = intFromEnv("NOVA_SUMMARIZE_EVERY_N_TURNS", cfg.SummarizeEveryNTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.AppendMaxRetries, err = intFromEnv("NOVA_APPEND_MAX_RETRIES", cfg.AppendMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.CreatorName) == "" {
		return Config{}, fmt.Errorf("NOVA_CREATOR_NAME must not be empty")
	}
	if strings.TrimSpace(cfg.CredentialFile) == "" {
		return Config{}, fmt.Errorf("NOVA_CREDENTIAL_FILE must not be empty")
	}
	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.ContextTurns <= 0 {
		return Config{}, fmt.Errorf("NOVA_CONTEXT_TURNS must be positive")
	}
	if cfg.MemoryTopK <= 0 {
		return Config{}, fmt.Errorf("NOVA_MEMORY_TOP_K must be positive")
	}
	if cfg.SummarizeEveryNTurns <= 0 {
		return Config{}, fmt.Errorf("NOVA_SUMMARIZE_EVERY_N_TURNS must be positive")
	}
	if cfg.AppendMaxRetries < 0 {
		return Config{}, fmt.Errorf("NOVA_APPEND_MAX_RETRIES must be >= 0")
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

func trimSpace(v string) string {
	return strings.TrimSpace(v)
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimSpace(os.Getenv(key)))
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
