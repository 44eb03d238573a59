// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	mqtttls "github.com/absmach/mqttscope/pkg/tls"
	"github.com/absmach/mqttscope/ratelimit"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mqttscope runner.
type Config struct {
	Broker        BrokerConfig         `yaml:"broker"`
	Client        ClientConfig         `yaml:"client"`
	Subscriptions []SubscriptionConfig `yaml:"subscriptions"`
	Will          WillConfig           `yaml:"will"`
	Log           LogConfig            `yaml:"log"`
	Storage       StorageConfig        `yaml:"storage"`
	Metrics       MetricsConfig        `yaml:"metrics"`
	Health        HealthConfig         `yaml:"health"`
	RateLimit     ratelimit.Config     `yaml:"ratelimit"`
}

// BrokerConfig holds the broker connection settings.
type BrokerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Scheme          string        `yaml:"scheme"`           // tcp, ssl, ws, wss
	ProtocolVersion uint          `yaml:"protocol_version"` // 3 or 4, 0 = negotiate
	ClientID        string        `yaml:"client_id"`        // generated when empty; persisted state is keyed on it
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	KeepAlive       time.Duration `yaml:"keep_alive"`
	CleanSession    bool          `yaml:"clean_session"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	AckTimeout      time.Duration `yaml:"ack_timeout"` // SUBSCRIBE/UNSUBSCRIBE/PUBLISH round trip

	// Circuit breaker around broker operations.
	BreakerThreshold uint32        `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`

	// TLS applies to the ssl and wss schemes.
	TLS mqtttls.Config `yaml:"tls"`
}

// ClientConfig holds the subscription engine settings.
type ClientConfig struct {
	KeepN             int           `yaml:"keep_n"` // records kept per topic, 0 = unbounded
	AcceptRetained    bool          `yaml:"accept_retained"`
	UpdateInterval    time.Duration `yaml:"update_interval"`
	DiscoveryFilter   string        `yaml:"discovery_filter"`
	DecoderExpression string        `yaml:"decoder_expression"` // jq
	EventBuffer       int           `yaml:"event_buffer"`
	DefaultQoS        byte          `yaml:"default_qos"`
}

// SubscriptionConfig is a pattern subscribed at startup.
type SubscriptionConfig struct {
	Pattern string `yaml:"pattern"`
	QoS     byte   `yaml:"qos"`
}

// WillConfig holds the last will settings.
type WillConfig struct {
	Enabled          bool          `yaml:"enabled"`
	Topic            string        `yaml:"topic"`
	QoS              byte          `yaml:"qos"`
	Retain           bool          `yaml:"retain"`
	Type             string        `yaml:"type"` // own, last_message, statistics
	Message          string        `yaml:"message"`
	StatisticsTopic  string        `yaml:"statistics_topic"`
	StatisticsColumn int           `yaml:"statistics_column"`
	Statistics       []string      `yaml:"statistics"`
	UpdateInterval   time.Duration `yaml:"update_interval"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// StorageConfig holds storage backend configuration.
type StorageConfig struct {
	Type string `yaml:"type"` // memory, badger

	// BadgerDB settings
	BadgerDir string `yaml:"badger_dir"`
}

// MetricsConfig holds OpenTelemetry configuration.
type MetricsConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ServiceName     string        `yaml:"service_name"`
	ServiceVersion  string        `yaml:"service_version"`
	Endpoint        string        `yaml:"endpoint"` // OTLP gRPC collector
	Interval        time.Duration `yaml:"interval"`
	TracesEnabled   bool          `yaml:"traces_enabled"`
	TraceSampleRate float64       `yaml:"trace_sample_rate"`
}

// HealthConfig holds the status HTTP server settings.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a configuration with default values.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Host:             "localhost",
			Port:             1883,
			Scheme:           "tcp",
			KeepAlive:        60 * time.Second,
			CleanSession:     true,
			ConnectTimeout:   10 * time.Second,
			AckTimeout:       10 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   30 * time.Second,
		},
		Client: ClientConfig{
			KeepN:             1000,
			AcceptRetained:    false,
			UpdateInterval:    time.Second,
			DecoderExpression: ".",
			EventBuffer:       1024,
		},
		Will: WillConfig{
			Type:       "own",
			Statistics: []string{"mean"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Storage: StorageConfig{
			Type:      "memory",
			BadgerDir: "/tmp/mqttscope/data",
		},
		Metrics: MetricsConfig{
			Enabled:         false,
			ServiceName:     "mqttscope",
			ServiceVersion:  "1.0.0",
			Endpoint:        "localhost:4317",
			Interval:        60 * time.Second,
			TraceSampleRate: 0.1,
		},
		Health: HealthConfig{
			Enabled: false,
			Addr:    ":8081",
		},
		RateLimit: ratelimit.DefaultConfig(),
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Broker.Host == "" {
		return fmt.Errorf("broker.host cannot be empty")
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		return fmt.Errorf("broker.port must be between 1 and 65535")
	}
	validSchemes := map[string]bool{"tcp": true, "ssl": true, "ws": true, "wss": true}
	if !validSchemes[c.Broker.Scheme] {
		return fmt.Errorf("broker.scheme must be one of: tcp, ssl, ws, wss")
	}
	if c.Broker.TLS.Enabled() && c.Broker.Scheme != "ssl" && c.Broker.Scheme != "wss" {
		return fmt.Errorf("broker.tls requires the ssl or wss scheme")
	}
	if (c.Broker.TLS.CertFile == "") != (c.Broker.TLS.KeyFile == "") {
		return fmt.Errorf("broker.tls.cert_file and broker.tls.key_file must be set together")
	}
	if c.Broker.ProtocolVersion != 0 && c.Broker.ProtocolVersion != 3 && c.Broker.ProtocolVersion != 4 {
		return fmt.Errorf("broker.protocol_version must be 0, 3 or 4")
	}
	if c.Broker.KeepAlive != 0 && c.Broker.KeepAlive < time.Second {
		return fmt.Errorf("broker.keep_alive must be at least 1 second")
	}
	if c.Broker.AckTimeout < 100*time.Millisecond {
		return fmt.Errorf("broker.ack_timeout must be at least 100ms")
	}

	if c.Client.KeepN < 0 {
		return fmt.Errorf("client.keep_n cannot be negative")
	}
	if c.Client.UpdateInterval < 10*time.Millisecond {
		return fmt.Errorf("client.update_interval must be at least 10ms")
	}
	if c.Client.EventBuffer < 1 {
		return fmt.Errorf("client.event_buffer must be at least 1")
	}
	if c.Client.DefaultQoS > 2 {
		return fmt.Errorf("client.default_qos must be 0, 1 or 2")
	}

	for i, s := range c.Subscriptions {
		if s.Pattern == "" {
			return fmt.Errorf("subscriptions[%d].pattern cannot be empty", i)
		}
		if s.QoS > 2 {
			return fmt.Errorf("subscriptions[%d].qos must be 0, 1 or 2", i)
		}
	}

	if c.Will.Enabled {
		if c.Will.Topic == "" {
			return fmt.Errorf("will.topic required when will is enabled")
		}
		if c.Will.QoS > 2 {
			return fmt.Errorf("will.qos must be 0, 1 or 2")
		}
		validTypes := map[string]bool{"own": true, "last_message": true, "statistics": true}
		if !validTypes[c.Will.Type] {
			return fmt.Errorf("will.type must be one of: own, last_message, statistics")
		}
		if c.Will.Type != "own" && c.Will.StatisticsTopic == "" {
			return fmt.Errorf("will.statistics_topic required when will type is '%s'", c.Will.Type)
		}
		if c.Will.Type == "statistics" && len(c.Will.Statistics) == 0 {
			return fmt.Errorf("will.statistics cannot be empty when will type is 'statistics'")
		}
		if c.Will.StatisticsColumn < 0 {
			return fmt.Errorf("will.statistics_column cannot be negative")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	validStorage := map[string]bool{"memory": true, "badger": true}
	if !validStorage[c.Storage.Type] {
		return fmt.Errorf("storage.type must be one of: memory, badger")
	}
	if c.Storage.Type == "badger" && c.Storage.BadgerDir == "" {
		return fmt.Errorf("storage.badger_dir required when type is badger")
	}
	if c.Storage.Type == "badger" && c.Broker.ClientID == "" {
		return fmt.Errorf("broker.client_id required when storage type is badger")
	}

	// OpenTelemetry validation (only if metrics enabled)
	if c.Metrics.Enabled {
		if c.Metrics.ServiceName == "" {
			return fmt.Errorf("metrics.service_name cannot be empty when metrics enabled")
		}
		if c.Metrics.Endpoint == "" {
			return fmt.Errorf("metrics.endpoint cannot be empty when metrics enabled")
		}
		if c.Metrics.Interval < time.Second {
			return fmt.Errorf("metrics.interval must be at least 1 second")
		}
		if c.Metrics.TraceSampleRate < 0.0 || c.Metrics.TraceSampleRate > 1.0 {
			return fmt.Errorf("metrics.trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	if c.Health.Enabled && c.Health.Addr == "" {
		return fmt.Errorf("health.addr cannot be empty when health is enabled")
	}

	if c.RateLimit.Enabled && c.RateLimit.Reconnect.Rate <= 0 {
		return fmt.Errorf("ratelimit.reconnect.rate must be positive")
	}

	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
