/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Venue identity. Unit tags every event on the pub/sub channel so a
	// multi-venue deployment can share one broker.
	VenueUnit string

	// Catalog collaborator.
	CatalogURL     string
	CatalogTimeout time.Duration

	// Conductor timing.
	TickInterval        time.Duration
	CrossfadeWindow     time.Duration
	CommercialThreshold int
	LookupRetryLimit    int
	NetworkCompensation time.Duration

	// Snapshot persistence.
	DBBackend        DatabaseBackend
	DBDSN            string
	SnapshotInterval time.Duration

	// Redis catalog cache.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional NATS relay for multi-venue fan-out. Empty disables it.
	NATSURL string

	// Slow refresh cadence for the commercial pool and fallback map.
	RefreshInterval time.Duration
}

// VenueProfile is an optional YAML file overriding per-venue tuning without
// touching the deployment environment.
type VenueProfile struct {
	Unit                string  `yaml:"unit"`
	TickIntervalMS      int     `yaml:"tick_interval_ms"`
	CrossfadeSeconds    float64 `yaml:"crossfade_seconds"`
	CommercialThreshold int     `yaml:"commercial_threshold"`
	NetworkCompSeconds  float64 `yaml:"network_compensation_seconds"`
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("CONDUCTOR_ENV", "development"),
		HTTPBind:    getEnv("CONDUCTOR_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("CONDUCTOR_HTTP_PORT", 8080),
		MetricsBind: getEnv("CONDUCTOR_METRICS_BIND", "127.0.0.1:9000"),

		VenueUnit: getEnv("CONDUCTOR_VENUE_UNIT", "default"),

		CatalogURL:     getEnv("CONDUCTOR_CATALOG_URL", ""),
		CatalogTimeout: time.Duration(getEnvInt("CONDUCTOR_CATALOG_TIMEOUT_MS", 5000)) * time.Millisecond,

		TickInterval:        time.Duration(getEnvInt("CONDUCTOR_TICK_INTERVAL_MS", 250)) * time.Millisecond,
		CrossfadeWindow:     time.Duration(getEnvInt("CONDUCTOR_CROSSFADE_MS", 4000)) * time.Millisecond,
		CommercialThreshold: getEnvInt("CONDUCTOR_COMMERCIAL_THRESHOLD", 10),
		LookupRetryLimit:    getEnvInt("CONDUCTOR_LOOKUP_RETRY_LIMIT", 3),
		NetworkCompensation: time.Duration(getEnvInt("CONDUCTOR_NETWORK_COMP_MS", 2000)) * time.Millisecond,

		DBBackend:        DatabaseBackend(getEnv("CONDUCTOR_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:            getEnv("CONDUCTOR_DB_DSN", "conductor.db"),
		SnapshotInterval: time.Duration(getEnvInt("CONDUCTOR_SNAPSHOT_INTERVAL_SEC", 60)) * time.Second,

		RedisAddr:     getEnv("CONDUCTOR_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("CONDUCTOR_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("CONDUCTOR_REDIS_DB", 0),

		NATSURL: getEnv("CONDUCTOR_NATS_URL", ""),

		RefreshInterval: time.Duration(getEnvInt("CONDUCTOR_REFRESH_INTERVAL_SEC", 300)) * time.Second,
	}

	if profilePath := getEnv("CONDUCTOR_VENUE_PROFILE", ""); profilePath != "" {
		if err := cfg.applyProfile(profilePath); err != nil {
			return nil, fmt.Errorf("venue profile: %w", err)
		}
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.CatalogURL == "" {
		return nil, fmt.Errorf("CONDUCTOR_CATALOG_URL must be provided")
	}

	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}

	if cfg.CrossfadeWindow < 0 {
		return nil, fmt.Errorf("crossfade window must not be negative")
	}

	if cfg.CommercialThreshold < 1 {
		return nil, fmt.Errorf("commercial threshold must be at least 1")
	}

	return cfg, nil
}

func (c *Config) applyProfile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var profile VenueProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if profile.Unit != "" {
		c.VenueUnit = profile.Unit
	}
	if profile.TickIntervalMS > 0 {
		c.TickInterval = time.Duration(profile.TickIntervalMS) * time.Millisecond
	}
	if profile.CrossfadeSeconds > 0 {
		c.CrossfadeWindow = time.Duration(profile.CrossfadeSeconds * float64(time.Second))
	}
	if profile.CommercialThreshold > 0 {
		c.CommercialThreshold = profile.CommercialThreshold
	}
	if profile.NetworkCompSeconds > 0 {
		c.NetworkCompensation = time.Duration(profile.NetworkCompSeconds * float64(time.Second))
	}
	return nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(strings.TrimSpace(val))
		if val == "true" || val == "1" || val == "yes" {
			return true
		}
		if val == "false" || val == "0" || val == "no" {
			return false
		}
	}
	return def
}
