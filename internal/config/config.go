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
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabaseSQLite   DatabaseBackend = "sqlite"
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
)

// Relay selects where emitted events are mirrored besides local subscribers.
type Relay string

const (
	RelayNone  Relay = "none"
	RelayRedis Relay = "redis"
	RelayNATS  Relay = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	LogFile     string // optional JSON log copy, appended to
	HTTPBind    string
	HTTPPort    int
	DBBackend   DatabaseBackend
	DBDSN       string

	// Player process and control channel
	MPVBin         string
	MPVSocket      string
	MPVLogDir      string // per-play debug logs used to refine error text; empty disables
	MPVExtraArgs   []string
	YTDLPBin       string
	IPCTimeout     time.Duration
	KillGrace      time.Duration
	LoopInterval   time.Duration
	StorageBackoff time.Duration // first retry delay, doubled on each attempt

	// Untrusted clients share one device, keep them polite
	RateLimitPerMinute int

	// Event relay
	Relay         Relay
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisChannel  string
	NATSURL       string
	NATSSubject   string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("HEARTH_ENV", "development"),
		LogFile:     getEnv("HEARTH_LOG_FILE", ""),
		HTTPBind:    getEnv("HEARTH_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("HEARTH_HTTP_PORT", 8080),
		DBBackend:   DatabaseBackend(getEnv("HEARTH_DB_BACKEND", string(DatabaseSQLite))),
		DBDSN:       getEnv("HEARTH_DB_DSN", "hearth.db"),

		MPVBin:         getEnv("HEARTH_MPV_BIN", "mpv"),
		MPVSocket:      getEnv("HEARTH_MPV_SOCKET", "/tmp/hearth-mpv.sock"),
		MPVLogDir:      getEnv("HEARTH_MPV_LOG_DIR", ""),
		MPVExtraArgs:   strings.Fields(getEnv("HEARTH_MPV_EXTRA_ARGS", "")),
		YTDLPBin:       getEnv("HEARTH_YTDLP_BIN", "yt-dlp"),
		IPCTimeout:     getEnvMillis("HEARTH_IPC_TIMEOUT_MS", 5*time.Second),
		KillGrace:      getEnvMillis("HEARTH_KILL_GRACE_MS", 3*time.Second),
		LoopInterval:   getEnvMillis("HEARTH_LOOP_INTERVAL_MS", time.Second),
		StorageBackoff: getEnvMillis("HEARTH_STORAGE_RETRY_BASE_MS", 500*time.Millisecond),

		RateLimitPerMinute: getEnvInt("HEARTH_RATE_LIMIT_PER_MIN", 600),

		Relay:         Relay(strings.ToLower(getEnv("HEARTH_RELAY", string(RelayNone)))),
		RedisAddr:     getEnv("HEARTH_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("HEARTH_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("HEARTH_REDIS_DB", 0),
		RedisChannel:  getEnv("HEARTH_REDIS_CHANNEL", "hearth:events"),
		NATSURL:       getEnv("HEARTH_NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:   getEnv("HEARTH_NATS_SUBJECT", "hearth.events"),

		TracingEnabled:    getEnvBool("HEARTH_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("HEARTH_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("HEARTH_TRACING_SAMPLE_RATE", 1.0),
	}

	if cfg.DBBackend != DatabaseSQLite && cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("HEARTH_DB_DSN must not be empty")
	}

	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HEARTH_HTTP_PORT %d", cfg.HTTPPort)
	}

	switch cfg.Relay {
	case RelayNone, RelayRedis, RelayNATS:
	default:
		return nil, fmt.Errorf("unsupported event relay %q", cfg.Relay)
	}

	if cfg.MPVSocket == "" {
		return nil, fmt.Errorf("HEARTH_MPV_SOCKET must not be empty")
	}

	if cfg.IPCTimeout <= 0 || cfg.LoopInterval <= 0 {
		return nil, fmt.Errorf("HEARTH_IPC_TIMEOUT_MS and HEARTH_LOOP_INTERVAL_MS must be positive")
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"MPV_SOCKET":      "use HEARTH_MPV_SOCKET",
		"DATABASE_PATH":   "use HEARTH_DB_DSN",
		"TRACING_ENABLED": "use HEARTH_TRACING_ENABLED",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// HTTPAddr returns the listen address for the HTTP adapter.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
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

func getEnvMillis(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Millisecond
		}
	}
	return def
}

// getEnvBool accepts true/1/yes and false/0/no, anything else falls back to def.
func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}
