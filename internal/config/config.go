package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RedisAddr    string
	CacheEnabled bool
	// Empty DSNs select the in-memory stores.
	ClickHouseDSN string
	PostgresDSN   string
	GeoIPDB       string
	DebugTrace    bool
	ServiceName   string
	// Bounds for every store and cache call
	StoreTimeout time.Duration
	CacheTimeout time.Duration
	// Cache TTLs
	SponsoredCacheTTL time.Duration
	AnalyticsCacheTTL time.Duration
	// Serving limits
	DefaultSponsoredLimit int
	MaxSponsoredLimit     int
	// Budget ledger
	LedgerMaxAttempts      int
	LedgerRetryBackoff     time.Duration
	PauseOnBudgetExhausted bool
	// Read-path retries for transient store failures
	ReadRetryAttempts int
	ReadRetryBackoff  time.Duration
	// Analytics window used when a report omits start
	AnalyticsDefaultWindow time.Duration
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// ClickHouse connection pooling configuration
	CHMaxOpenConns    int
	CHMaxIdleConns    int
	CHConnMaxLifetime time.Duration
	CHConnMaxIdleTime time.Duration
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	cfg.CacheEnabled = envBool("CACHE_ENABLED", true)
	cfg.ClickHouseDSN = os.Getenv("CLICKHOUSE_DSN")
	cfg.PostgresDSN = os.Getenv("POSTGRES_DSN")
	cfg.GeoIPDB = os.Getenv("GEOIP_DB")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.ServiceName = getenv("SERVICE_NAME", "kidsclub-ads")

	cfg.StoreTimeout = envDuration("STORE_TIMEOUT", 2*time.Second)
	cfg.CacheTimeout = envDuration("CACHE_TIMEOUT", 200*time.Millisecond)

	cfg.SponsoredCacheTTL = envDuration("SPONSORED_CACHE_TTL", time.Minute)
	// dashboards tolerate a few minutes of staleness
	cfg.AnalyticsCacheTTL = envDuration("ANALYTICS_CACHE_TTL", 5*time.Minute)

	cfg.DefaultSponsoredLimit = envInt("DEFAULT_SPONSORED_LIMIT", 3)
	cfg.MaxSponsoredLimit = envInt("MAX_SPONSORED_LIMIT", 10)

	cfg.LedgerMaxAttempts = envInt("LEDGER_MAX_ATTEMPTS", 16)
	cfg.LedgerRetryBackoff = envDuration("LEDGER_RETRY_BACKOFF", 2*time.Millisecond)
	cfg.PauseOnBudgetExhausted = envBool("PAUSE_ON_BUDGET_EXHAUSTED", false)

	cfg.ReadRetryAttempts = envInt("READ_RETRY_ATTEMPTS", 3)
	cfg.ReadRetryBackoff = envDuration("READ_RETRY_BACKOFF", 50*time.Millisecond)

	cfg.AnalyticsDefaultWindow = envDuration("ANALYTICS_DEFAULT_WINDOW", 30*24*time.Hour)

	// Database connection pooling configuration
	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// ClickHouse connection pooling configuration
	// Higher than PostgreSQL: every tracked event is an insert
	cfg.CHMaxOpenConns = envInt("CH_MAX_OPEN_CONNS", 50)
	cfg.CHMaxIdleConns = envInt("CH_MAX_IDLE_CONNS", 10)
	cfg.CHConnMaxLifetime = envDuration("CH_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.CHConnMaxIdleTime = envDuration("CH_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Tracing configuration
	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
