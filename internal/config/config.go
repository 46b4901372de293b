// Package config loads and validates environment variables at startup.
// Fail-fast: if a required variable is missing, the process exits.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the listing service.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	LogLevel    string

	JobIntervalMinutes     int // 0 disables the periodic timer
	WorkingHours           WorkingHours
	ProviderConcurrency    int
	ProbeConcurrency       int
	ReconcileIntervalHours int
	ReadOnly               bool // demo mode: every run path is a no-op

	AdzunaAppID   string
	AdzunaAppKey  string
	AdzunaCountry string // e.g. "fr", "gb", "us"
}

// JobInterval is the periodic run interval; zero when disabled.
func (c *Config) JobInterval() time.Duration {
	return time.Duration(c.JobIntervalMinutes) * time.Minute
}

// ReconcileInterval is the period between liveness passes.
func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.ReconcileIntervalHours) * time.Hour
}

// Load reads a .env file when present, then environment variables, and
// returns a validated Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}

	interval, err := envInt("JOB_INTERVAL_MINUTES", 60, 0)
	if err != nil {
		return nil, err
	}
	providerConc, err := envInt("PROVIDER_CONCURRENCY", 4, 1)
	if err != nil {
		return nil, err
	}
	probeConc, err := envInt("PROBE_CONCURRENCY", 5, 1)
	if err != nil {
		return nil, err
	}
	reconcileHours, err := envInt("RECONCILE_INTERVAL_HOURS", 24, 1)
	if err != nil {
		return nil, err
	}

	hours, err := ParseWorkingHours(os.Getenv("WORKING_HOURS_FROM"), os.Getenv("WORKING_HOURS_TO"))
	if err != nil {
		return nil, err
	}

	readOnly := false
	if s := os.Getenv("READ_ONLY"); s != "" {
		readOnly, err = strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("READ_ONLY must be a boolean, got %q", s)
		}
	}

	return &Config{
		Port:                   envString("LISTING_PORT", "8081"),
		DatabaseURL:            dbURL,
		RedisURL:               redisURL,
		LogLevel:               envString("LOG_LEVEL", "info"),
		JobIntervalMinutes:     interval,
		WorkingHours:           hours,
		ProviderConcurrency:    providerConc,
		ProbeConcurrency:       probeConc,
		ReconcileIntervalHours: reconcileHours,
		ReadOnly:               readOnly,
		AdzunaAppID:            os.Getenv("ADZUNA_APP_ID"),
		AdzunaAppKey:           os.Getenv("ADZUNA_APP_KEY"),
		AdzunaCountry:          envString("ADZUNA_COUNTRY", "fr"),
	}, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < minimum {
		return 0, fmt.Errorf("%s must be an integer >= %d, got %q", key, minimum, s)
	}
	return v, nil
}
