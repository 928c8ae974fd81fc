// Package config provides configuration for the run engine.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the engine configuration.
type Config struct {
	// Persistence
	DatabaseURL string

	// NATS (empty URL disables both the event sink and the queue)
	NATSURL           string
	NATSSubjectPrefix string
	QueueTimeout      time.Duration

	// Team policy document
	PolicyPath string

	// Graph
	MaxGraphSteps int

	// Registry guards
	BreakerThreshold   int
	BreakerResetWindow time.Duration
	IdempotencyTTL     time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		DatabaseURL:        getEnv("DATABASE_URL", "file:conductor.db?cache=shared&mode=rwc"),
		NATSURL:            getEnv("NATS_URL", ""),
		NATSSubjectPrefix:  getEnv("NATS_SUBJECT_PREFIX", "conductor"),
		QueueTimeout:       time.Duration(getEnvInt("QUEUE_TIMEOUT_MS", 30000)) * time.Millisecond,
		PolicyPath:         getEnv("POLICY_PATH", ""),
		MaxGraphSteps:      getEnvInt("MAX_GRAPH_STEPS", 32),
		BreakerThreshold:   getEnvInt("BREAKER_THRESHOLD", 5),
		BreakerResetWindow: time.Duration(getEnvInt("BREAKER_RESET_MS", 60000)) * time.Millisecond,
		IdempotencyTTL:     time.Duration(getEnvInt("IDEMPOTENCY_TTL_MS", 900000)) * time.Millisecond,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
