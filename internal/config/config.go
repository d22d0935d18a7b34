// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import (
	"strconv"
	"time"
)

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Upload   UploadConfig
	Pipeline PipelineConfig
	Severity SeverityConfig
	Notify   NotifyConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 0 for SSE)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"0s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// Driver selects the store: postgres, sqlite or memory (default: postgres)
	Driver string `env:"DATABASE_DRIVER" default:"postgres"`

	// URL is the PostgreSQL connection string, required for the postgres driver.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// SQLitePath is the database file for the sqlite driver (default: upcguard.db)
	SQLitePath string `env:"SQLITE_PATH" default:"upcguard.db"`

	// MaxConns is the maximum number of connections in the pool (default: 20)
	MaxConns int `env:"DB_MAX_CONNS" default:"20"`

	// MinConns is the minimum number of connections to keep open (default: 4)
	MinConns int `env:"DB_MIN_CONNS" default:"4"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// UploadConfig holds HTTP upload settings.
type UploadConfig struct {
	// MaxFileSize is the maximum allowed file size in bytes (default: 100MB)
	MaxFileSize int64 `env:"UPLOAD_MAX_FILE_SIZE" default:"104857600"`
}

// PipelineConfig holds analysis pipeline settings.
type PipelineConfig struct {
	BatchSize  int `env:"PIPELINE_BATCH_SIZE" default:"1000"`
	SampleSize int `env:"PIPELINE_SAMPLE_SIZE" default:"100"`

	// MaxErrorRate is the fraction of sampled rows allowed to fail parsing (default: 0.5)
	MaxErrorRate float64 `env:"PIPELINE_MAX_ERROR_RATE" default:"0.5"`

	FieldThreshold float64 `env:"PIPELINE_FIELD_THRESHOLD" default:"30"`
	MinConfidence  float64 `env:"PIPELINE_MIN_CONFIDENCE" default:"70"`

	// MaxConcurrent is the maximum number of analyses running at once (default: 4)
	MaxConcurrent int `env:"PIPELINE_MAX_CONCURRENT" default:"4"`

	// MaxWaitTime is how long to wait for a run slot (default: 30s)
	MaxWaitTime time.Duration `env:"PIPELINE_MAX_WAIT_TIME" default:"30s"`

	// A run's time budget is BaseTimeout plus TimeoutPerMB for every MiB of
	// input, capped at MaxTimeout.
	BaseTimeout  time.Duration `env:"PIPELINE_BASE_TIMEOUT" default:"2m"`
	TimeoutPerMB time.Duration `env:"PIPELINE_TIMEOUT_PER_MB" default:"10s"`
	MaxTimeout   time.Duration `env:"PIPELINE_MAX_TIMEOUT" default:"30m"`

	// Index construction yields every YieldEvery records, at most once per YieldInterval.
	YieldEvery    int           `env:"PIPELINE_YIELD_EVERY" default:"10000"`
	YieldInterval time.Duration `env:"PIPELINE_YIELD_INTERVAL" default:"50ms"`

	// PersistAttempts bounds retries of the atomic conflict write (default: 3)
	PersistAttempts int `env:"PIPELINE_PERSIST_ATTEMPTS" default:"3"`

	// SpoolDir holds uploaded files until their run finishes (default: OS temp dir)
	SpoolDir string `env:"PIPELINE_SPOOL_DIR"`

	// SpoolMaxAge is how long unclaimed spool files are kept (default: 24h)
	SpoolMaxAge time.Duration `env:"PIPELINE_SPOOL_MAX_AGE" default:"24h"`
}

// SeverityConfig holds the cardinality thresholds and cost bases.
type SeverityConfig struct {
	Low      int `env:"SEVERITY_LOW" default:"2"`
	Medium   int `env:"SEVERITY_MEDIUM" default:"5"`
	High     int `env:"SEVERITY_HIGH" default:"10"`
	Critical int `env:"SEVERITY_CRITICAL" default:"50"`

	DuplicateUPCBaseCost float64 `env:"COST_DUPLICATE_UPC_BASE" default:"100"`
	MultiUPCBaseCost     float64 `env:"COST_MULTI_UPC_BASE" default:"50"`
}

// NotifyConfig holds progress event delivery settings.
type NotifyConfig struct {
	// RedisAddr enables publishing progress events to Redis when set
	RedisAddr     string `env:"NOTIFY_REDIS_ADDR"`
	RedisPassword string `env:"NOTIFY_REDIS_PASSWORD"`
	RedisDB       int    `env:"NOTIFY_REDIS_DB" default:"0"`

	// Channel is the pub/sub channel events are published on (default: upcguard.progress)
	Channel string `env:"NOTIFY_CHANNEL" default:"upcguard.progress"`
}

// RateLimitConfig holds per-IP request rate limits.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// UploadLimit is requests per minute for the upload endpoint (default: 10)
	UploadLimit int `env:"RATE_LIMIT_UPLOAD" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// RequireAPIKey enables X-API-Key authentication on /api routes (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`

	// APIKeys is a comma-separated list of accepted API keys
	APIKeys []string `env:"API_KEYS"`

	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}
