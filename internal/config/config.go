package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Defaults shared by the dispatch path. Timeouts are per outbound call;
// the breaker and retry settings compose as Breaker(Retry(Call)).
const (
	DefaultPort            = 3000
	PaymentTimeout         = 10 * time.Second
	HealthTimeout          = 3 * time.Second
	HealthPollInterval     = 5 * time.Second
	FailureThreshold       = 3
	BreakerResetTimeout    = 30 * time.Second
	BreakerRingCapacity    = 100
	MaxRetries             = 2
	RetryBaseDelay         = 500 * time.Millisecond
	RetryMaxDelay          = 5 * time.Second
	RetryMultiplier        = 2.0
	RetryJitter            = 0.10
	MetricsRingCapacity    = 1000
	DefaultP99ThresholdMs  = 1000
	DefaultCacheTTLSeconds = 300
)

// Config is the environment-derived runtime configuration. One instance
// is built at startup and handed to the composition root.
type Config struct {
	Port     int
	Env      string
	LogLevel string

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSL      bool

	RedisURL string

	DefaultProcessorURL  string
	FallbackProcessorURL string

	SimulatePayments bool
	P99ThresholdMs   int
	CacheTTL         time.Duration
}

// Load reads configuration from the environment, applying defaults for
// anything unset.
func Load() Config {
	return Config{
		Port:     envInt("PORT", DefaultPort),
		Env:      envStr("NODE_ENV", "development"),
		LogLevel: envStr("LOG_LEVEL", "info"),

		DBHost:     envStr("DB_HOST", "localhost"),
		DBPort:     envInt("DB_PORT", 5432),
		DBName:     envStr("DB_NAME", "payments"),
		DBUser:     envStr("DB_USER", "postgres"),
		DBPassword: envStr("DB_PASSWORD", "postgres"),
		DBSSL:      envBool("DB_SSL", false),

		RedisURL: envStr("REDIS_URL", "redis://localhost:6379"),

		DefaultProcessorURL:  envStr("PROCESSOR_DEFAULT_URL", "http://localhost:8001"),
		FallbackProcessorURL: envStr("PROCESSOR_FALLBACK_URL", "http://localhost:8002"),

		SimulatePayments: envBool("SIMULATE_PAYMENTS", false),
		P99ThresholdMs:   envInt("P99_THRESHOLD", DefaultP99ThresholdMs),
		CacheTTL:         time.Duration(envInt("CACHE_TTL", DefaultCacheTTLSeconds)) * time.Second,
	}
}

// DatabaseDSN renders the pgx connection string.
func (c Config) DatabaseDSN() string {
	sslmode := "disable"
	if c.DBSSL {
		sslmode = "require"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, sslmode)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
