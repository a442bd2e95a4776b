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
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// EventBusBackend selects how events leave the process.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	DBBackend DatabaseBackend
	DBDSN     string

	// Scheduling engine
	SweepInterval time.Duration // how often elapsed bookings are completed
	LockWait      time.Duration // how long a request waits for a busy resource

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	LeaderElectionEnabled bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	InstanceID            string
	CacheEnabled          bool

	// Event fan-out
	EventBus  EventBusBackend
	NATSURL   string
	NATSToken string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("SKULD_ENV", "development"),
		HTTPBind:    getEnv("SKULD_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("SKULD_HTTP_PORT", 8080),
		MetricsBind: getEnv("SKULD_METRICS_BIND", "127.0.0.1:9000"),

		DBBackend: DatabaseBackend(getEnv("SKULD_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:     getEnv("SKULD_DB_DSN", ""),

		SweepInterval: time.Duration(getEnvInt("SKULD_SWEEP_INTERVAL_SECONDS", 60)) * time.Second,
		LockWait:      time.Duration(getEnvInt("SKULD_LOCK_WAIT_MS", 5000)) * time.Millisecond,

		TracingEnabled:    getEnvBool("SKULD_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("SKULD_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("SKULD_TRACING_SAMPLE_RATE", 1.0),

		LeaderElectionEnabled: getEnvBool("SKULD_LEADER_ELECTION_ENABLED", false),
		RedisAddr:             getEnv("SKULD_REDIS_ADDR", ""),
		RedisPassword:         getEnv("SKULD_REDIS_PASSWORD", ""),
		RedisDB:               getEnvInt("SKULD_REDIS_DB", 0),
		InstanceID:            getEnv("SKULD_INSTANCE_ID", ""),
		CacheEnabled:          getEnvBool("SKULD_CACHE_ENABLED", true),

		EventBus:  EventBusBackend(getEnv("SKULD_EVENT_BUS", string(EventBusMemory))),
		NATSURL:   getEnv("SKULD_NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnv("SKULD_NATS_TOKEN", ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("SKULD_DB_DSN must be provided")
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	if cfg.EventBus == EventBusRedis && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("SKULD_REDIS_ADDR must be provided when SKULD_EVENT_BUS=redis")
	}

	if cfg.LeaderElectionEnabled && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("SKULD_REDIS_ADDR must be provided when leader election is enabled")
	}

	if cfg.SweepInterval <= 0 {
		return nil, fmt.Errorf("SKULD_SWEEP_INTERVAL_SECONDS must be positive")
	}
	if cfg.LockWait <= 0 {
		return nil, fmt.Errorf("SKULD_LOCK_WAIT_MS must be positive")
	}

	return cfg, nil
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
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}
