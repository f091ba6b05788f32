// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for a tagfeed session.
type Config struct {
	Broker    BrokerConfig    `yaml:"broker"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Queue     QueueConfig     `yaml:"queue"`
	Publish   PublishConfig   `yaml:"publish"`
	Log       LogConfig       `yaml:"log"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// BrokerConfig holds broker endpoint settings.
type BrokerConfig struct {
	// URL of the broker, e.g. "tcp://test.mosquitto.org:1883".
	URL string `yaml:"url"`

	// ClientIDPrefix is prepended to a random suffix to form the client ID.
	ClientIDPrefix string `yaml:"client_id_prefix"`

	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// Maximum outbound payload size in bytes.
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// ReconnectConfig holds reconnect supervision settings.
type ReconnectConfig struct {
	// Backoff delay bounds. The delay starts at Floor, is multiplied by
	// Multiplier after each failed attempt, and is capped at Ceiling.
	BackoffFloor      time.Duration `yaml:"backoff_floor"`
	BackoffCeiling    time.Duration `yaml:"backoff_ceiling"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`

	// ReplayAttempts is how many times a single topic resubscription is
	// retried during replay before the subscription is marked degraded.
	ReplayAttempts int `yaml:"replay_attempts"`

	// Circuit breaker over connect attempts.
	BreakerThreshold    uint32        `yaml:"breaker_threshold"`
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout"`
}

// QueueConfig holds delivery queue settings.
type QueueConfig struct {
	// Capacity of the inbound delivery queue. On overflow the oldest
	// unconsumed message is dropped.
	Capacity int `yaml:"capacity"`
}

// PublishConfig holds publish-side settings.
type PublishConfig struct {
	// Rate is publishes per second allowed per session; 0 disables limiting.
	Rate  float64 `yaml:"rate"`
	Burst int     `yaml:"burst"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// MetricsConfig holds OpenTelemetry configuration.
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"` // OTLP gRPC endpoint
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			URL:            "tcp://test.mosquitto.org:1883",
			ClientIDPrefix: "tagfeed",
			KeepAlive:      60 * time.Second,
			ConnectTimeout: 10 * time.Second,
			MaxPayloadSize: 64 * 1024,
		},
		Reconnect: ReconnectConfig{
			BackoffFloor:        500 * time.Millisecond,
			BackoffCeiling:      30 * time.Second,
			BackoffMultiplier:   2.0,
			ReplayAttempts:      3,
			BreakerThreshold:    5,
			BreakerResetTimeout: 60 * time.Second,
		},
		Queue: QueueConfig{
			Capacity: 1000,
		},
		Publish: PublishConfig{
			Rate:  0,
			Burst: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			ServiceName:    "tagfeed",
			ServiceVersion: "0.1.0",
		},
	}
}

// Load reads configuration from a YAML file, applying defaults for any
// fields not set. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Broker.URL == "" {
		return fmt.Errorf("broker.url must be set")
	}
	if c.Broker.KeepAlive <= 0 {
		return fmt.Errorf("broker.keep_alive must be positive")
	}
	if c.Broker.ConnectTimeout <= 0 {
		return fmt.Errorf("broker.connect_timeout must be positive")
	}
	if c.Broker.MaxPayloadSize <= 0 {
		return fmt.Errorf("broker.max_payload_size must be positive")
	}
	if c.Reconnect.BackoffFloor <= 0 {
		return fmt.Errorf("reconnect.backoff_floor must be positive")
	}
	if c.Reconnect.BackoffCeiling < c.Reconnect.BackoffFloor {
		return fmt.Errorf("reconnect.backoff_ceiling must be >= backoff_floor")
	}
	if c.Reconnect.BackoffMultiplier <= 1 {
		return fmt.Errorf("reconnect.backoff_multiplier must be > 1")
	}
	if c.Reconnect.ReplayAttempts < 1 {
		return fmt.Errorf("reconnect.replay_attempts must be >= 1")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Publish.Rate < 0 {
		return fmt.Errorf("publish.rate must not be negative")
	}
	if c.Publish.Rate > 0 && c.Publish.Burst < 1 {
		return fmt.Errorf("publish.burst must be >= 1 when publish.rate is set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json")
	}
	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("metrics.endpoint must be set when metrics are enabled")
	}
	return nil
}
