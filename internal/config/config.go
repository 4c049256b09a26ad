// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Config collects everything read from the environment at startup.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// StoreBackend selects the document store: "memory", "redis", or
	// "postgres".
	StoreBackend string
	RedisAddr    string
	RedisDB      int
	DatabaseURL  string

	// TokenSecret signs conductor JWTs. Empty means a random secret is
	// generated at startup (tokens do not survive a restart).
	TokenSecret string
	TokenExpiry time.Duration

	// DistributeInterval is the conductor-side auto-distribution tick.
	DistributeInterval time.Duration
	// PollInterval is the player-side backup poll behind the push feed.
	PollInterval time.Duration

	LogLevel logrus.Level
}

// Load reads the environment (godotenv's autoload has already merged any
// .env file by the time this runs from main).
func Load() Config {
	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		level = logrus.InfoLevel
	}
	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	return Config{
		Addr:               addr,
		StoreBackend:       getEnv("STORE_BACKEND", "memory"),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:            getEnvInt("REDIS_DB", 0),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		TokenSecret:        os.Getenv("TOKEN_SECRET"),
		TokenExpiry:        getEnvDuration("TOKEN_EXPIRE_TIME", 24*time.Hour),
		DistributeInterval: getEnvDuration("DISTRIBUTE_INTERVAL", 2*time.Second),
		PollInterval:       getEnvDuration("POLL_INTERVAL", 5*time.Second),
		LogLevel:           level,
	}
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// getEnvDuration parses an environment variable with time.ParseDuration, else
// a default value.
func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
