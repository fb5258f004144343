package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"fintrack/internal/core"
)

type Config struct {
	// Ledger
	DBPath       string
	UserID       int64
	Timezone     string
	BaseCurrency string
	LogLevel     string

	// FX
	FXProvider  string
	FXBaseURL   string
	FXTimeout   time.Duration
	FXMarkupBPS int
	FXCacheSize int
	FXCacheTTL  time.Duration

	// Scheduler
	SchedulerSafetyInterval time.Duration
	SchedulerDailyAt        string
	SchedulerLockTTL        time.Duration
	SchedulerRunAtStartup   bool
	RedisURL                string

	// AMQP (optional change events)
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// HTTP API (disabled when HTTPAddr is empty)
	HTTPAddr      string
	HTTPRateLimit int

	// Maintenance
	RebuildConcurrency int
}

func Load() *Config {
	return &Config{
		DBPath:       getEnv("FINTRACK_DB_PATH", "./data/fintrack.db"),
		UserID:       int64(getEnvInt("FINTRACK_USER_ID", 1)),
		Timezone:     getEnv("FINTRACK_TIMEZONE", "Europe/Berlin"),
		BaseCurrency: strings.ToUpper(getEnv("FINTRACK_BASE_CURRENCY", "EUR")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		FXProvider:  strings.ToLower(getEnv("FX_PROVIDER", "frankfurter")),
		FXBaseURL:   getEnv("FX_BASE_URL", "https://api.frankfurter.app"),
		FXTimeout:   getEnvDuration("FX_TIMEOUT", 10*time.Second),
		FXMarkupBPS: getEnvInt("FX_MARKUP_BPS", 0),
		FXCacheSize: getEnvInt("FX_CACHE_SIZE", 2048),
		FXCacheTTL:  getEnvDuration("FX_CACHE_TTL", 24*time.Hour),

		SchedulerSafetyInterval: getEnvDuration("SCHEDULER_SAFETY_INTERVAL", time.Hour),
		SchedulerDailyAt:        getEnv("SCHEDULER_DAILY_AT", "00:05"),
		SchedulerLockTTL:        getEnvDuration("SCHEDULER_LOCK_TTL", 5*time.Minute),
		SchedulerRunAtStartup:   getEnvBool("SCHEDULER_RUN_AT_STARTUP", true),
		RedisURL:                getEnv("REDIS_URL", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "fintrack"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "ledger_month_changed"),

		HTTPAddr:      getEnv("HTTP_ADDR", ""),
		HTTPRateLimit: getEnvInt("HTTP_RATE_LIMIT", 60),

		RebuildConcurrency: getEnvInt("REBUILD_CONCURRENCY", 4),
	}
}

// Location resolves Timezone. Validate reports an unknown zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Currency is the ledger's base currency.
func (c *Config) Currency() core.Currency {
	return core.Currency(c.BaseCurrency)
}

// DailyAt parses SchedulerDailyAt as hour and minute.
func (c *Config) DailyAt() (hour, minute int, err error) {
	t, err := time.Parse("15:04", c.SchedulerDailyAt)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid daily time %q: want HH:MM", c.SchedulerDailyAt)
	}
	return t.Hour(), t.Minute(), nil
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.DBPath == "" {
		errors = append(errors, "database path cannot be empty")
	} else if dir := filepath.Dir(c.DBPath); dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errors = append(errors, fmt.Sprintf("cannot create database directory '%s': %v", dir, err))
			}
		}
	}

	if c.UserID < 1 {
		errors = append(errors, fmt.Sprintf("invalid user id %d: must be positive", c.UserID))
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errors = append(errors, fmt.Sprintf("invalid timezone '%s': %v", c.Timezone, err))
	}

	if len(c.BaseCurrency) != 3 {
		errors = append(errors, fmt.Sprintf("invalid base currency '%s': must be a 3-letter code", c.BaseCurrency))
	}

	if c.FXProvider != "frankfurter" {
		errors = append(errors, fmt.Sprintf("unsupported FX provider '%s': must be 'frankfurter'", c.FXProvider))
	}
	if parsedURL, err := url.Parse(c.FXBaseURL); err != nil || (parsedURL.Scheme != "http" && parsedURL.Scheme != "https") {
		errors = append(errors, fmt.Sprintf("invalid FX base URL '%s': must be http or https", c.FXBaseURL))
	}
	if c.FXTimeout < 100*time.Millisecond || c.FXTimeout > 2*time.Minute {
		errors = append(errors, fmt.Sprintf("invalid FX timeout %v: must be between 100ms and 2m", c.FXTimeout))
	}
	if c.FXMarkupBPS < 0 || c.FXMarkupBPS >= 10000 {
		errors = append(errors, fmt.Sprintf("invalid FX markup %d bps: must be between 0 and 9999", c.FXMarkupBPS))
	}
	if c.FXCacheSize < 1 {
		errors = append(errors, fmt.Sprintf("invalid FX cache size %d: must be at least 1", c.FXCacheSize))
	}

	if c.SchedulerSafetyInterval < time.Minute || c.SchedulerSafetyInterval > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid scheduler safety interval %v: must be between 1 minute and 24 hours", c.SchedulerSafetyInterval))
	}
	if _, _, err := c.DailyAt(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.SchedulerLockTTL < time.Second {
		errors = append(errors, fmt.Sprintf("invalid scheduler lock TTL %v: must be at least 1 second", c.SchedulerLockTTL))
	}

	if c.RedisURL != "" {
		if parsedURL, err := url.Parse(c.RedisURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid Redis URL '%s': %v", c.RedisURL, err))
		} else if parsedURL.Scheme != "redis" && parsedURL.Scheme != "rediss" {
			errors = append(errors, fmt.Sprintf("invalid Redis URL scheme '%s': must be 'redis' or 'rediss'", parsedURL.Scheme))
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.HTTPAddr != "" {
		if _, port, err := net.SplitHostPort(c.HTTPAddr); err != nil {
			errors = append(errors, fmt.Sprintf("invalid HTTP address '%s': %v", c.HTTPAddr, err))
		} else if n, err := strconv.Atoi(port); err != nil || n < 0 || n > 65535 {
			errors = append(errors, fmt.Sprintf("invalid HTTP port '%s': must be between 0 and 65535", port))
		}
	}
	if c.HTTPRateLimit < 0 {
		errors = append(errors, fmt.Sprintf("invalid HTTP rate limit %d: must not be negative", c.HTTPRateLimit))
	}

	if c.RebuildConcurrency < 1 || c.RebuildConcurrency > 64 {
		errors = append(errors, fmt.Sprintf("invalid rebuild concurrency %d: must be between 1 and 64", c.RebuildConcurrency))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
