// Package config loads service configuration: process-level settings from
// environment variables, deployment profiles (networks, drift thresholds,
// anchoring cadence) from YAML.
package config

import "os"

// Config holds server configuration.
type Config struct {
	Port        string
	LogLevel    string
	Namespace   string
	DatabaseURL string
	SQLitePath  string
	ProfilePath string
	RedisAddr   string
	OTLPAddr    string
}

// Load reads configuration from environment variables. DATABASE_URL selects
// Postgres; when empty, WEFT_SQLITE_PATH selects SQLite; when both are
// empty the service runs on the in-memory store.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	namespace := os.Getenv("WEFT_NAMESPACE")
	if namespace == "" {
		namespace = "default"
	}

	return &Config{
		Port:        port,
		LogLevel:    logLevel,
		Namespace:   namespace,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  os.Getenv("WEFT_SQLITE_PATH"),
		ProfilePath: os.Getenv("WEFT_PROFILE"),
		RedisAddr:   os.Getenv("WEFT_REDIS_ADDR"),
		OTLPAddr:    os.Getenv("WEFT_OTLP_ADDR"),
	}
}
