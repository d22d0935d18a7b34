package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadWith(nil)
}

// LoadWith is Load with apply run between loading and validation, so
// command-line flags can override the environment.
func LoadWith(apply func(*Config)) (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	if apply != nil {
		apply(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number: %w", err)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	switch strings.ToLower(c.Database.Driver) {
	case DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, "DATABASE_URL is required when DATABASE_DRIVER is postgres")
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			errs = append(errs, "SQLITE_PATH is required when DATABASE_DRIVER is sqlite")
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Sprintf("DATABASE_DRIVER (%q) must be one of: postgres, sqlite, memory", c.Database.Driver))
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Upload validation
	if c.Upload.MaxFileSize <= 0 {
		errs = append(errs, "UPLOAD_MAX_FILE_SIZE must be positive")
	}

	// Pipeline validation
	p := c.Pipeline
	if p.BatchSize <= 0 {
		errs = append(errs, "PIPELINE_BATCH_SIZE must be positive")
	}
	if p.SampleSize <= 0 {
		errs = append(errs, "PIPELINE_SAMPLE_SIZE must be positive")
	}
	if p.MaxErrorRate <= 0 || p.MaxErrorRate > 1 {
		errs = append(errs, fmt.Sprintf("PIPELINE_MAX_ERROR_RATE (%g) must be in (0, 1]", p.MaxErrorRate))
	}
	if p.FieldThreshold < 0 || p.FieldThreshold > 100 {
		errs = append(errs, fmt.Sprintf("PIPELINE_FIELD_THRESHOLD (%g) must be 0-100", p.FieldThreshold))
	}
	if p.MinConfidence < 0 || p.MinConfidence > 100 {
		errs = append(errs, fmt.Sprintf("PIPELINE_MIN_CONFIDENCE (%g) must be 0-100", p.MinConfidence))
	}
	if p.MaxConcurrent <= 0 {
		errs = append(errs, "PIPELINE_MAX_CONCURRENT must be positive")
	}
	if p.MaxWaitTime <= 0 {
		errs = append(errs, "PIPELINE_MAX_WAIT_TIME must be positive")
	}
	if p.BaseTimeout <= 0 {
		errs = append(errs, "PIPELINE_BASE_TIMEOUT must be positive")
	}
	if p.TimeoutPerMB < 0 {
		errs = append(errs, "PIPELINE_TIMEOUT_PER_MB must be non-negative")
	}
	if p.MaxTimeout < p.BaseTimeout {
		errs = append(errs, fmt.Sprintf("PIPELINE_MAX_TIMEOUT (%s) must be >= PIPELINE_BASE_TIMEOUT (%s)",
			p.MaxTimeout, p.BaseTimeout))
	}
	if p.YieldEvery <= 0 {
		errs = append(errs, "PIPELINE_YIELD_EVERY must be positive")
	}
	if p.PersistAttempts <= 0 {
		errs = append(errs, "PIPELINE_PERSIST_ATTEMPTS must be positive")
	}

	// Severity validation
	sv := c.Severity
	if !(sv.Low >= 2 && sv.Low <= sv.Medium && sv.Medium <= sv.High && sv.High <= sv.Critical) {
		errs = append(errs, fmt.Sprintf("severity thresholds must satisfy 2 <= LOW <= MEDIUM <= HIGH <= CRITICAL (got %d/%d/%d/%d)",
			sv.Low, sv.Medium, sv.High, sv.Critical))
	}
	if sv.DuplicateUPCBaseCost < 0 || sv.MultiUPCBaseCost < 0 {
		errs = append(errs, "COST_DUPLICATE_UPC_BASE and COST_MULTI_UPC_BASE must be non-negative")
	}

	// Notify validation
	if c.Notify.RedisAddr != "" && c.Notify.Channel == "" {
		errs = append(errs, "NOTIFY_CHANNEL is required when NOTIFY_REDIS_ADDR is set")
	}

	// Rate limit validation
	if c.Rate.Enabled && (c.Rate.RequestsPerMinute <= 0 || c.Rate.UploadLimit <= 0) {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE and RATE_LIMIT_UPLOAD must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs and passwords are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Database: {Driver: %q, URL: [MASKED], SQLitePath: %q, MaxConns: %d}, ",
		c.Database.Driver, c.Database.SQLitePath, c.Database.MaxConns))
	b.WriteString(fmt.Sprintf("Pipeline: {BatchSize: %d, SampleSize: %d, MaxConcurrent: %d, MinConfidence: %g}, ",
		c.Pipeline.BatchSize, c.Pipeline.SampleSize, c.Pipeline.MaxConcurrent, c.Pipeline.MinConfidence))
	b.WriteString(fmt.Sprintf("Severity: {%d/%d/%d/%d}, ",
		c.Severity.Low, c.Severity.Medium, c.Severity.High, c.Severity.Critical))
	b.WriteString(fmt.Sprintf("Notify: {RedisAddr: %q, Channel: %q}, ", c.Notify.RedisAddr, c.Notify.Channel))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}
