// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultPort            = ":8000"
	DefaultEnvironment     = "development"
	DefaultMaxMessageSize  = 64 * 1024
	DefaultRateBurst       = 20
	DefaultRefillInterval  = time.Second
	DefaultPingInterval    = 30 * time.Second
	DefaultWriteWait       = 10 * time.Second
	DefaultSendQueueSize   = 256
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "text"
	DefaultShutdownTimeout = 10 * time.Second
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
// Burst frames are accepted at once and the bucket refills completely every
// RefillInterval.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// Config holds the relay configuration settings.
type Config struct {
	Port            string          `yaml:"port"`
	Environment     string          `yaml:"environment"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int64           `yaml:"max_message_size"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	PingInterval    time.Duration   `yaml:"ping_interval"`
	WriteWait       time.Duration   `yaml:"write_wait"`
	SendQueueSize   int             `yaml:"send_queue_size"`
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
}

func defaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		Environment:    DefaultEnvironment,
		AllowedOrigins: []string{"*"},
		MaxMessageSize: DefaultMaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          DefaultRateBurst,
			RefillInterval: DefaultRefillInterval,
		},
		PingInterval:    DefaultPingInterval,
		WriteWait:       DefaultWriteWait,
		SendQueueSize:   DefaultSendQueueSize,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// applyDefaults fills every unset or non-positive field with its default.
func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.Environment == "" {
		c.Environment = DefaultEnvironment
	}
	if c.AllowedOrigins == nil {
		c.AllowedOrigins = []string{"*"}
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = DefaultRateBurst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = DefaultRefillInterval
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.SendQueueSize <= 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// sanitized returns a copy with defaults applied and the port normalized to a
// listen address.
func (c Config) sanitized() Config {
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	c.applyDefaults()
	if !strings.Contains(c.Port, ":") {
		c.Port = ":" + c.Port
	}
	return c
}

// Validate checks values that cannot be repaired by defaults.
func (c *Config) Validate() error {
	if c.WriteWait >= c.PingInterval {
		return fmt.Errorf("%w: write_wait (%s) must be shorter than ping_interval (%s)",
			ErrInvalidConfig, c.WriteWait, c.PingInterval)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	}
	return nil
}

// ParseLogLevel maps a configured level name onto a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log_level %q", ErrInvalidConfig, level)
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()
	cfg.overrideFromEnv()
	return &cfg
}

// overrideFromEnv applies every recognised environment variable on top of c.
func (c *Config) overrideFromEnv() {
	// PORT wins over SERVER_PORT, matching common PaaS conventions
	if port := os.Getenv("SERVER_PORT"); port != "" {
		c.Port = port
	}
	if port := os.Getenv("PORT"); port != "" {
		c.Port = port
	}

	if env := os.Getenv("RELAY_ENV"); env != "" {
		c.Environment = env
	}

	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		c.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		c.MaxMessageSize = parseMaxMessageSize(maxSize, c.MaxMessageSize)
	}

	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		c.RateLimit.Burst = parseIntValue(burst, c.RateLimit.Burst)
	}

	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		c.RateLimit.RefillInterval = parseSeconds(interval, c.RateLimit.RefillInterval)
	}

	if interval := os.Getenv("PING_INTERVAL"); interval != "" {
		c.PingInterval = parseSeconds(interval, c.PingInterval)
	}

	if wait := os.Getenv("WRITE_WAIT"); wait != "" {
		c.WriteWait = parseSeconds(wait, c.WriteWait)
	}

	if size := os.Getenv("SEND_QUEUE_SIZE"); size != "" {
		c.SendQueueSize = parseIntValue(size, c.SendQueueSize)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		c.LogFormat = strings.ToLower(format)
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

// parseSeconds accepts either a bare number of seconds or a Go duration string.
func parseSeconds(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	return defaultValue
}
