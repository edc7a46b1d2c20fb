package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all runtime configuration. Values come from the
// environment so main stays lean; every knob has a development default.
type Config struct {
	Addr string

	// PostgresDSN selects the durable session store. Empty means the
	// in-memory store (development and tests).
	PostgresDSN string

	// RedisURL selects the pub/sub broadcaster. Empty means the in-process
	// bus (development and tests).
	RedisURL string
	Redis    RedisConfig

	// KafkaBrokers selects the compliance audit sink. Empty means audit
	// events stay on the in-memory store.
	KafkaBrokers    []string
	AuditTopic      string
	AuditBufferSize int

	JWTSigningKey string
	JWTIssuer     string

	// VerifierURL points at the external biometric matching service. Empty
	// means the deterministic in-process verifier (development and tests).
	VerifierURL string

	// SessionTTL is the hard deadline for collecting signatures.
	SessionTTL time.Duration

	// SweepInterval controls how often the expiry sweeper broadcasts
	// EXPIRED transitions for idle sessions. Expiry itself is enforced
	// lazily on every touch; the sweeper only keeps subscribers timely.
	SweepInterval time.Duration

	// AccessCacheTTL bounds staleness of negative access-gate entries.
	// Terminal transitions invalidate synchronously regardless.
	AccessCacheTTL time.Duration
}

// RedisConfig tunes the go-redis client pool.
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
	cfg := Config{
		Addr:            envOr("GROUPLOCK_ADDR", ":8082"),
		PostgresDSN:     os.Getenv("GROUPLOCK_POSTGRES_DSN"),
		RedisURL:        os.Getenv("GROUPLOCK_REDIS_URL"),
		AuditTopic:      envOr("GROUPLOCK_AUDIT_TOPIC", "grouplock.audit.compliance"),
		AuditBufferSize: envInt("GROUPLOCK_AUDIT_BUFFER", 1024),
		JWTSigningKey:   envOr("GROUPLOCK_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		JWTIssuer:       envOr("GROUPLOCK_JWT_ISSUER", "grouplock"),
		VerifierURL:     os.Getenv("GROUPLOCK_VERIFIER_URL"),
		SessionTTL:      envDuration("GROUPLOCK_SESSION_TTL", 5*time.Minute),
		SweepInterval:   envDuration("GROUPLOCK_SWEEP_INTERVAL", 15*time.Second),
		AccessCacheTTL:  envDuration("GROUPLOCK_ACCESS_CACHE_TTL", 30*time.Second),
	}

	if brokers := os.Getenv("GROUPLOCK_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	cfg.Redis = RedisConfig{
		URL:          cfg.RedisURL,
		PoolSize:     envInt("GROUPLOCK_REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("GROUPLOCK_REDIS_MIN_IDLE", 2),
		DialTimeout:  envDuration("GROUPLOCK_REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("GROUPLOCK_REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("GROUPLOCK_REDIS_WRITE_TIMEOUT", 3*time.Second),
	}

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
