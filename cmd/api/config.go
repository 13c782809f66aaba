package main

import (
	"os"
	"strconv"
	"time"
)

// Config is read from the environment; every field has a usable default.
type Config struct {
	Port            string
	DBPath          string
	LogLevel        string
	LockWait        time.Duration
	RefreshInterval time.Duration
}

func loadConfig() Config {
	cfg := Config{
		Port:            envOr("PORT", "8080"),
		DBPath:          envOr("DB_PATH", "hogarfin.db"),
		LogLevel:        envOr("LOG_LEVEL", "info"),
		LockWait:        15 * time.Second,
		RefreshInterval: time.Hour,
	}
	if ms, err := strconv.Atoi(os.Getenv("LOCK_WAIT_MS")); err == nil && ms > 0 {
		cfg.LockWait = time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(os.Getenv("REFRESH_INTERVAL")); err == nil && d > 0 {
		cfg.RefreshInterval = d
	}
	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
