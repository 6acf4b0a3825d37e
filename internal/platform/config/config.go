package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures process-level configuration. Values come from flat
// environment variables with development defaults so main stays lean.
type Config struct {
	// MetricsAddr is where the prometheus and health endpoints listen.
	MetricsAddr string
	// PostgresDSN selects the Postgres-backed stores when non-empty;
	// otherwise the process runs on in-memory stores.
	PostgresDSN string
	// Redis configures the optional Redis-backed notification store.
	Redis RedisConfig
	// JWTSigningKey verifies identity tokens presented to the oracle.
	JWTSigningKey string
	// StoreTimeout bounds every store call; expiry surfaces Unavailable.
	StoreTimeout time.Duration
	// ReconcileChunkSize caps deletions per atomic reconciliation batch.
	ReconcileChunkSize int
	// ReconcileInterval is the period of the background duplicate sweep.
	// Zero disables the sweep; reconciliation stays on-demand.
	ReconcileInterval time.Duration
}

// RedisConfig captures Redis client tuning.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	addr := os.Getenv("CARELINK_METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	jwtSigningKey := os.Getenv("JWT_SIGNING_KEY")
	if jwtSigningKey == "" {
		// Use a default for development - should be overridden in production
		jwtSigningKey = "dev-secret-key-change-in-production"
	}

	return Config{
		MetricsAddr:   addr,
		PostgresDSN:   os.Getenv("CARELINK_POSTGRES_DSN"),
		JWTSigningKey: jwtSigningKey,
		Redis: RedisConfig{
			URL:          os.Getenv("CARELINK_REDIS_URL"),
			PoolSize:     envInt("CARELINK_REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("CARELINK_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDuration("CARELINK_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("CARELINK_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("CARELINK_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		StoreTimeout:       envDuration("CARELINK_STORE_TIMEOUT", 5*time.Second),
		ReconcileChunkSize: envInt("CARELINK_RECONCILE_CHUNK_SIZE", 500),
		ReconcileInterval:  envDuration("CARELINK_RECONCILE_INTERVAL", 0),
	}
}

func envInt(key string, fallback int) int {
	if raw := os.Getenv(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v >= 0 {
			return v
		}
	}
	return fallback
}
