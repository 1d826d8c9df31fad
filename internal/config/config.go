// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP/websocket server listens on (e.g. :8080).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// CloudBaseURL is the base URL of the device-cloud REST API.
	CloudBaseURL string `mapstructure:"CLOUD_BASE_URL"`
	// DatabaseURL is the Postgres DSN for the command audit log; empty disables auditing.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisAddr is the Redis host:port for session snapshots; empty disables persistence.
	RedisAddr string `mapstructure:"REDIS_ADDR"`
	// RedisPassword is the Redis password; empty for no auth.
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	// RedisDB is the Redis logical database index.
	RedisDB int `mapstructure:"REDIS_DB"`

	// MaxAuthRetries is the attempt budget for one authentication sequence.
	MaxAuthRetries int `mapstructure:"MAX_AUTH_RETRIES"`
	// AuthRetryBaseDelay is the first retry delay; doubles per attempt (e.g. "1s").
	AuthRetryBaseDelay string `mapstructure:"AUTH_RETRY_BASE_DELAY"`
	// MaxDispatchRetries is the attempt budget for one command dispatch.
	MaxDispatchRetries int `mapstructure:"MAX_DISPATCH_RETRIES"`
	// DispatchRetryBaseDelay is the first dispatch retry delay (e.g. "1s").
	DispatchRetryBaseDelay string `mapstructure:"DISPATCH_RETRY_BASE_DELAY"`
	// SessionMaxAge is how old a session may grow before IsHealthy reports false (e.g. "24h").
	SessionMaxAge string `mapstructure:"SESSION_MAX_AGE"`
	// FallbackEnabled substitutes a degraded local outcome when the gateway is unreachable.
	FallbackEnabled bool `mapstructure:"FALLBACK_ENABLED"`
	// ReconnectMaxAttempts is the consecutive reconnect budget before the realtime client fails terminally.
	ReconnectMaxAttempts int `mapstructure:"RECONNECT_MAX_ATTEMPTS"`
	// ReconnectBaseDelay is the first reconnect delay (e.g. "1s").
	ReconnectBaseDelay string `mapstructure:"RECONNECT_BASE_DELAY"`
	// PollInterval is the device status poll period (e.g. "30s").
	PollInterval string `mapstructure:"POLL_INTERVAL"`

	// EventsKafkaBrokers is a comma-separated list of Kafka broker addresses; empty disables the event mirror.
	EventsKafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the Kafka topic device change events are mirrored to.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group ID for the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`

	// LogLevel is the zap level (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// LogFormat is "json" or "console".
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("CLOUD_BASE_URL", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("MAX_AUTH_RETRIES", 3)
	v.SetDefault("AUTH_RETRY_BASE_DELAY", "1s")
	v.SetDefault("MAX_DISPATCH_RETRIES", 3)
	v.SetDefault("DISPATCH_RETRY_BASE_DELAY", "1s")
	v.SetDefault("SESSION_MAX_AGE", "24h")
	v.SetDefault("FALLBACK_ENABLED", true)
	v.SetDefault("RECONNECT_MAX_ATTEMPTS", 5)
	v.SetDefault("RECONNECT_BASE_DELAY", "1s")
	v.SetDefault("POLL_INTERVAL", "30s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "mowerhub-device-events")
	v.SetDefault("KAFKA_GROUP_ID", "mowerhub-event-worker")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.MaxAuthRetries < 1 {
		return nil, errors.New("config: MAX_AUTH_RETRIES must be at least 1")
	}
	if cfg.MaxDispatchRetries < 1 {
		return nil, errors.New("config: MAX_DISPATCH_RETRIES must be at least 1")
	}
	if cfg.ReconnectMaxAttempts < 1 {
		return nil, errors.New("config: RECONNECT_MAX_ATTEMPTS must be at least 1")
	}

	return &cfg, nil
}

// AuthRetryDelay parses AuthRetryBaseDelay as a time.Duration. Returns 1s if unset or invalid.
func (c *Config) AuthRetryDelay() time.Duration {
	return parseDuration(c.AuthRetryBaseDelay, time.Second)
}

// DispatchRetryDelay parses DispatchRetryBaseDelay as a time.Duration. Returns 1s if unset or invalid.
func (c *Config) DispatchRetryDelay() time.Duration {
	return parseDuration(c.DispatchRetryBaseDelay, time.Second)
}

// SessionAge parses SessionMaxAge as a time.Duration. Returns 24h if unset or invalid.
func (c *Config) SessionAge() time.Duration {
	return parseDuration(c.SessionMaxAge, 24*time.Hour)
}

// ReconnectDelay parses ReconnectBaseDelay as a time.Duration. Returns 1s if unset or invalid.
func (c *Config) ReconnectDelay() time.Duration {
	return parseDuration(c.ReconnectBaseDelay, time.Second)
}

// PollEvery parses PollInterval as a time.Duration. Returns 30s if unset or invalid.
func (c *Config) PollEvery() time.Duration {
	return parseDuration(c.PollInterval, 30*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// EventsKafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Used to decide if the event mirror is enabled (non-empty list) and to create the producer.
func (c *Config) EventsKafkaBrokersList() []string {
	if c == nil || c.EventsKafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.EventsKafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
