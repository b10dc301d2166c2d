// Package config provides process bootstrap configuration: the handful of
// settings needed before any database connection exists (data directory,
// log level, optional S3 checkpoint credentials). Everything else — bot
// definitions, exchange credentials, LLM providers, risk limits — lives in
// the database and is served hot-reloadable by internal/configcenter.
//
// Configuration Loading Order:
// 1. Load from .env file (if present)
// 2. Read environment variables, falling back to defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process bootstrap configuration.
type Config struct {
	DataDir   string // Base directory for the sqlite store, which also holds the checkpoints table (always absolute)
	LogLevel  string // zerolog level name (debug, info, warn, error)
	LogPretty bool   // Console-writer formatting instead of JSON (local development)
	S3Bucket  string // Optional S3 bucket for cold checkpoint storage
	S3Region  string // AWS region for S3Bucket
}

// Load reads configuration from environment variables.
//
// dataDirOverride, if non-empty, takes priority over the HELION_DATA_DIR
// environment variable and the built-in default.
func Load(dataDirOverride ...string) (*Config, error) {
	_ = godotenv.Load()

	var dataDir string
	if len(dataDirOverride) > 0 && dataDirOverride[0] != "" {
		dataDir = dataDirOverride[0]
	} else {
		dataDir = getEnv("HELION_DATA_DIR", "")
		if dataDir == "" {
			dataDir = "./data"
		}
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:   absDataDir,
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		S3Bucket:  getEnv("HELION_CHECKPOINT_S3_BUCKET", ""),
		S3Region:  getEnv("HELION_CHECKPOINT_S3_REGION", "us-east-1"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks bootstrap configuration invariants. S3 settings are
// optional and are only loaded here: no command passes them to a
// checkpointer, and run_bots always checkpoints to the sqlite store.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config: data directory must not be empty")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
