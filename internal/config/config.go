// Package config loads server configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config carries the server's runtime settings.
type Config struct {
	Addr             string
	DataDir          string
	JWTSecret        string
	HandshakeTimeout time.Duration
	StoreTimeout     time.Duration
	LogLevel         string
}

// Load reads the configuration from the environment, with defaults
// suitable for local development.
func Load() Config {
	return Config{
		Addr:             getenv("HAZSYNC_ADDR", ":8095"),
		DataDir:          getenv("HAZSYNC_DATA_DIR", "./data"),
		JWTSecret:        getenv("HAZSYNC_JWT_SECRET", "hazsync-dev-secret"),
		HandshakeTimeout: time.Duration(getenvInt("HAZSYNC_HANDSHAKE_TIMEOUT_SECONDS", 10)) * time.Second,
		StoreTimeout:     time.Duration(getenvInt("HAZSYNC_STORE_TIMEOUT_SECONDS", 5)) * time.Second,
		LogLevel:         getenv("HAZSYNC_LOG_LEVEL", "info"),
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
