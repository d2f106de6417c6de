package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the collections voicebot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string

	OpenAIAPIKey         string
	OpenAIModel          string
	ClassifierTimeout    time.Duration
	ClassifierPromptPath string

	Timezone          string
	CallingHoursStart int
	CallingHoursEnd   int
	MaxCallAttempts   int

	DialerEnabled   bool
	DialerInterval  time.Duration
	DialerBatchSize int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "collectbot"),
		AllowAnyOrigin:       false,
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		OpenAIAPIKey:         stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIModel:          envOrDefault("OPENAI_MODEL", "gpt-4o-mini"),
		ClassifierPromptPath: envOrDefault("CLASSIFIER_PROMPT_PATH", "prompts/system_prompt_collections.txt"),
		Timezone:             envOrDefault("TIMEZONE", "Asia/Kolkata"),
		CallingHoursStart:    9,
		CallingHoursEnd:      21,
		MaxCallAttempts:      3,
		DialerEnabled:        true,
		ShutdownTimeout:      15 * time.Second,
		ClassifierTimeout:    30 * time.Second,
		DialerInterval:       5 * time.Minute,
		DialerBatchSize:      10,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ClassifierTimeout, err = durationFromEnv("CLASSIFIER_TIMEOUT", cfg.ClassifierTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DialerInterval, err = durationFromEnv("DIALER_INTERVAL", cfg.DialerInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.DialerEnabled, err = boolFromEnv("DIALER_ENABLED", cfg.DialerEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.CallingHoursStart, err = intFromEnv("CALLING_HOURS_START", cfg.CallingHoursStart)
	if err != nil {
		return Config{}, err
	}
	cfg.CallingHoursEnd, err = intFromEnv("CALLING_HOURS_END", cfg.CallingHoursEnd)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxCallAttempts, err = intFromEnv("MAX_CALL_ATTEMPTS", cfg.MaxCallAttempts)
	if err != nil {
		return Config{}, err
	}
	cfg.DialerBatchSize, err = intFromEnv("DIALER_BATCH_SIZE", cfg.DialerBatchSize)
	if err != nil {
		return Config{}, err
	}

	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("TIMEZONE parse error: %w", err)
	}
	if cfg.CallingHoursStart < 0 || cfg.CallingHoursStart > 23 {
		return Config{}, fmt.Errorf("CALLING_HOURS_START must be an hour in [0, 23]")
	}
	if cfg.CallingHoursEnd < 0 || cfg.CallingHoursEnd > 23 {
		return Config{}, fmt.Errorf("CALLING_HOURS_END must be an hour in [0, 23]")
	}
	if cfg.CallingHoursEnd <= cfg.CallingHoursStart {
		return Config{}, fmt.Errorf("CALLING_HOURS_END must be after CALLING_HOURS_START")
	}
	if cfg.MaxCallAttempts <= 0 {
		return Config{}, fmt.Errorf("MAX_CALL_ATTEMPTS must be positive")
	}
	if cfg.DialerBatchSize <= 0 {
		return Config{}, fmt.Errorf("DIALER_BATCH_SIZE must be positive")
	}
	if cfg.ClassifierTimeout < time.Second {
		return Config{}, fmt.Errorf("CLASSIFIER_TIMEOUT must be at least 1s")
	}

	return cfg, nil
}

// Location resolves the configured timezone; Load already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return trimSpace(os.Getenv(key))
}

func trimSpace(v string) string {
	for len(v) > 0 && (v[0] == ' ' || v[0] == '\n' || v[0] == '\t' || v[0] == '\r') {
		v = v[1:]
	}
	for len(v) > 0 {
		c := v[len(v)-1]
		if c == ' ' || c == '\n' || c == '\t' || c == '\r' {
			v = v[:len(v)-1]
			continue
		}
		break
	}
	return v
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
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
	v := stringsTrimSpace(key)
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
	v := strings.ToLower(stringsTrimSpace(key))
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
