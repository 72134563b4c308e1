// Package config loads the runtime configuration from the environment, with
// a .env file honored for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults applied when the environment leaves a knob unset.
const (
	DefaultHTTPAddr       = ":5678"
	DefaultMaxConcurrency = 8
	DefaultSQLitePath     = "flowmesh.db"

	encryptionKeyHexLen  = 64
	defaultRetentionMs   = 60000
	defaultGracePeriodMs = 5000
)

// Config is the resolved runtime configuration.
type Config struct {
	// HTTPAddr is the listen address of the API server.
	HTTPAddr string
	// DatabaseDSN is the Postgres connection string. Empty selects SQLite.
	DatabaseDSN string
	// SQLitePath is the SQLite database path used when no DSN is set.
	SQLitePath string
	// EncryptionKeyHex is the 64-hex-character AES-256 credential key.
	EncryptionKeyHex string
	// MaxConcurrency bounds simultaneous executions process-wide.
	MaxConcurrency int
	// Retention is how long finished executions stay queryable in memory.
	Retention time.Duration
	// GracePeriod bounds the wait for in-flight nodes after cancellation.
	GracePeriod time.Duration
	// Debug enables debug-level logging.
	Debug bool
}

// Load reads the configuration from the environment. A .env file in the
// working directory is merged in first without overriding real environment
// variables. The credential encryption key is required; everything else has
// a default.
func Load() (*Config, error) {
	// Ignore a missing .env; it is a development convenience only.
	_ = godotenv.Load()

	key := os.Getenv("CREDENTIAL_ENCRYPTION_KEY")
	if len(key) != encryptionKeyHexLen {
		return nil, fmt.Errorf("CREDENTIAL_ENCRYPTION_KEY must be %d hex characters, got %d", encryptionKeyHexLen, len(key))
	}

	cfg := &Config{
		HTTPAddr:         envOr("HTTP_ADDR", DefaultHTTPAddr),
		DatabaseDSN:      os.Getenv("DATABASE_DSN"),
		SQLitePath:       envOr("SQLITE_PATH", DefaultSQLitePath),
		EncryptionKeyHex: key,
		MaxConcurrency:   envInt("MAX_EXECUTION_CONCURRENCY", DefaultMaxConcurrency),
		Retention:        time.Duration(envInt("EXECUTION_RETENTION_MS", defaultRetentionMs)) * time.Millisecond,
		GracePeriod:      time.Duration(envInt("WEBHOOK_GRACE_PERIOD_MS", defaultGracePeriodMs)) * time.Millisecond,
		Debug:            os.Getenv("DEBUG") == "true",
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, fmt.Errorf("MAX_EXECUTION_CONCURRENCY must be positive")
	}
	return cfg, nil
}

func envOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envInt(name string, def int) int {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
