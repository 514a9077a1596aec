package config

import (
	"os"
	"strconv"
)

// Config holds the ambient process configuration: logging, default
// worker/connection sizing, and the optional observability sinks. It
// does not carry any per-run workload configuration: that is built
// explicitly through engine.Builder, not read from the environment.
type Config struct {
	Environment string // "development", "staging", "production"
	LogLevel    string
	LogFormat   string // "console" or "json"

	DefaultWorkers   int
	DefaultTimeoutMS int
	DefaultSelectors int

	MetricsEnabled bool
	MetricsAddr    string

	TracingEnabled    bool
	TracingEndpoint   string
	TracingSampleRate float64
}

// Load loads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Environment:       getEnv("ENVIRONMENT", "development"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
		DefaultWorkers:    getEnvAsInt("DEFAULT_WORKERS", 0), // 0 => min(cores, users)
		DefaultTimeoutMS:  getEnvAsInt("DEFAULT_TIMEOUT_MS", 30000),
		DefaultSelectors:  getEnvAsInt("DEFAULT_SELECTORS", 1),
		MetricsEnabled:    getEnvAsBool("METRICS_ENABLED", false),
		MetricsAddr:       getEnv("METRICS_ADDR", ":9090"),
		TracingEnabled:    getEnvAsBool("TRACING_ENABLED", false),
		TracingEndpoint:   getEnv("TRACING_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvAsFloat("TRACING_SAMPLE_RATE", 1.0),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
