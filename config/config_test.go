// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Broker.Host != "localhost" || cfg.Broker.Port != 1883 {
		t.Errorf("expected default broker localhost:1883, got %s:%d", cfg.Broker.Host, cfg.Broker.Port)
	}
	if cfg.Broker.AckTimeout != 10*time.Second {
		t.Errorf("expected ack timeout 10s, got %v", cfg.Broker.AckTimeout)
	}
	if cfg.Client.KeepN != 1000 {
		t.Errorf("expected keep_n 1000, got %d", cfg.Client.KeepN)
	}
	if cfg.Client.AcceptRetained {
		t.Error("expected retained messages to be rejected by default")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "default config is valid",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty host",
			modify:  func(c *Config) { c.Broker.Host = "" },
			wantErr: true,
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.Broker.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "unknown scheme",
			modify:  func(c *Config) { c.Broker.Scheme = "quic" },
			wantErr: true,
		},
		{
			name:    "tls on plain tcp",
			modify:  func(c *Config) { c.Broker.TLS.ServerName = "broker.local" },
			wantErr: true,
		},
		{
			name: "tls on ssl",
			modify: func(c *Config) {
				c.Broker.Scheme = "ssl"
				c.Broker.TLS.ServerName = "broker.local"
			},
			wantErr: false,
		},
		{
			name: "tls cert without key",
			modify: func(c *Config) {
				c.Broker.Scheme = "ssl"
				c.Broker.TLS.CertFile = "client.pem"
			},
			wantErr: true,
		},
		{
			name: "health without address",
			modify: func(c *Config) {
				c.Health.Enabled = true
				c.Health.Addr = ""
			},
			wantErr: true,
		},
		{
			name:    "negative keep_n",
			modify:  func(c *Config) { c.Client.KeepN = -1 },
			wantErr: true,
		},
		{
			name: "subscription qos too high",
			modify: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{Pattern: "a/#", QoS: 3}}
			},
			wantErr: true,
		},
		{
			name: "subscription without pattern",
			modify: func(c *Config) {
				c.Subscriptions = []SubscriptionConfig{{QoS: 1}}
			},
			wantErr: true,
		},
		{
			name: "will without topic",
			modify: func(c *Config) {
				c.Will.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "statistics will without source topic",
			modify: func(c *Config) {
				c.Will.Enabled = true
				c.Will.Topic = "scope/will"
				c.Will.Type = "statistics"
			},
			wantErr: true,
		},
		{
			name: "valid statistics will",
			modify: func(c *Config) {
				c.Will.Enabled = true
				c.Will.Topic = "scope/will"
				c.Will.Type = "statistics"
				c.Will.StatisticsTopic = "home/kitchen/temp"
			},
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: true,
		},
		{
			name: "badger without dir",
			modify: func(c *Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = ""
			},
			wantErr: true,
		},
		{
			name: "badger without client id",
			modify: func(c *Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = "/tmp/mqttscope"
				c.Broker.ClientID = ""
			},
			wantErr: true,
		},
		{
			name: "badger with client id",
			modify: func(c *Config) {
				c.Storage.Type = "badger"
				c.Storage.BadgerDir = "/tmp/mqttscope"
				c.Broker.ClientID = "scope"
			},
			wantErr: false,
		},
		{
			name: "metrics sample rate out of range",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.TraceSampleRate = 2
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load() should return a default config, got nil")
	}
	if cfg.Broker.Port != 1883 {
		t.Errorf("expected default config, got port %d", cfg.Broker.Port)
	}
}

func TestLoadYAML(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	data := `
broker:
  host: broker.local
  port: 8883
  scheme: ssl
client:
  keep_n: 10
  discovery_filter: "#"
subscriptions:
  - pattern: home/kitchen/+
    qos: 1
  - pattern: office/#
will:
  enabled: true
  topic: scope/will
  type: last_message
  statistics_topic: home/kitchen/temp
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Broker.Host != "broker.local" || cfg.Broker.Port != 8883 || cfg.Broker.Scheme != "ssl" {
		t.Errorf("unexpected broker %+v", cfg.Broker)
	}
	if cfg.Client.KeepN != 10 || cfg.Client.DiscoveryFilter != "#" {
		t.Errorf("unexpected client %+v", cfg.Client)
	}
	// Fields not in the file keep their defaults.
	if cfg.Client.EventBuffer != 1024 {
		t.Errorf("expected default event buffer, got %d", cfg.Client.EventBuffer)
	}
	if len(cfg.Subscriptions) != 2 || cfg.Subscriptions[0].QoS != 1 || cfg.Subscriptions[1].Pattern != "office/#" {
		t.Errorf("unexpected subscriptions %+v", cfg.Subscriptions)
	}
	if !cfg.Will.Enabled || cfg.Will.Type != "last_message" {
		t.Errorf("unexpected will %+v", cfg.Will)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte("broker:\n  port: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() should reject an invalid port")
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := t.TempDir() + "/config.yaml"

	cfg := Default()
	cfg.Broker.Host = "10.0.0.1"
	cfg.Client.UpdateInterval = 5 * time.Second
	cfg.Log.Level = "debug"

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Broker.Host != "10.0.0.1" {
		t.Errorf("expected host 10.0.0.1, got %s", loaded.Broker.Host)
	}
	if loaded.Client.UpdateInterval != 5*time.Second {
		t.Errorf("expected update interval 5s, got %v", loaded.Client.UpdateInterval)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}
