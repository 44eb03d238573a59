// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command mqttscope runs one subscription engine against a broker without a
// user interface. It subscribes the configured patterns, logs every event and
// saves the subscription layout on exit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/mqttscope/client"
	"github.com/absmach/mqttscope/config"
	"github.com/absmach/mqttscope/metrics"
	mqtttls "github.com/absmach/mqttscope/pkg/tls"
	"github.com/absmach/mqttscope/ratelimit"
	"github.com/absmach/mqttscope/server/health"
	"github.com/absmach/mqttscope/session"
	"github.com/absmach/mqttscope/storage"
	"github.com/absmach/mqttscope/storage/badger"
	"github.com/absmach/mqttscope/storage/memory"
	"github.com/absmach/mqttscope/transport/paho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting mqttscope",
		"broker", cfg.Broker.Host,
		"port", cfg.Broker.Port,
		"scheme", cfg.Broker.Scheme,
		"storage", cfg.Storage.Type,
		"subscriptions", len(cfg.Subscriptions),
		"log_level", cfg.Log.Level)

	var store storage.Store
	switch cfg.Storage.Type {
	case "memory":
		store = memory.New()
		slog.Info("Using in-memory storage")
	case "badger":
		badgerStore, err := badger.New(badger.Config{Dir: cfg.Storage.BadgerDir})
		if err != nil {
			slog.Error("Failed to initialize BadgerDB storage", "error", err)
			os.Exit(1)
		}
		store = badgerStore
		slog.Info("Using BadgerDB persistent storage", "dir", cfg.Storage.BadgerDir)
	default:
		slog.Error("Unknown storage type", "type", cfg.Storage.Type)
		os.Exit(1)
	}
	defer store.Close()

	var m *metrics.Metrics
	var tracer trace.Tracer
	if cfg.Metrics.Enabled {
		shutdown, err := metrics.InitProvider(cfg.Metrics, cfg.Broker.ClientID)
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(ctx); err != nil {
				slog.Error("OpenTelemetry shutdown failed", "error", err)
			}
		}()

		m, err = metrics.New(otel.Meter("mqttscope"))
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		if cfg.Metrics.TracesEnabled {
			tracer = otel.Tracer("mqttscope")
		}
		slog.Info("OpenTelemetry enabled", "endpoint", cfg.Metrics.Endpoint, "traces", cfg.Metrics.TracesEnabled)
	}

	limiter := ratelimit.NewManager(cfg.RateLimit)
	defer limiter.Stop()

	opts, err := clientOptions(cfg)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	tlsCfg, err := mqtttls.LoadClientConfig(&cfg.Broker.TLS)
	if err != nil {
		slog.Error("Failed to load TLS configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("Broker transport", "scheme", cfg.Broker.Scheme, "security", mqtttls.SecurityStatus(tlsCfg))

	opts.SetDialer(paho.Dialer(paho.Options{
		Scheme:          cfg.Broker.Scheme,
		ProtocolVersion: cfg.Broker.ProtocolVersion,
		TLS:             tlsCfg,
		Logger:          logger,
	})).
		SetRateLimit(limiter).
		SetWillStore(store.Wills()).
		SetLogger(logger).
		SetMetrics(m).
		SetTracer(tracer)

	c, err := client.New(opts)
	if err != nil {
		slog.Error("Failed to create client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go logEvents(c)

	if cfg.Health.Enabled {
		hs := health.New(health.Config{Address: cfg.Health.Addr, ShutdownTimeout: 5 * time.Second}, c, logger)
		go func() {
			if err := hs.Listen(ctx); err != nil {
				slog.Error("Health check server failed", "error", err)
			}
		}()
	}

	if err := restore(ctx, c, store.States()); err != nil {
		slog.Error("Failed to restore subscriptions", "error", err)
	}
	if err := c.Connect(ctx); err != nil {
		slog.Error("Failed to connect", "error", err)
		os.Exit(1)
	}
	if err := waitConnected(ctx, c, cfg.Broker.ConnectTimeout); err != nil {
		slog.Warn("Broker not reachable yet, configured patterns stay pending until connected", "error", err)
	}
	go subscribeConfigured(ctx, c, cfg.Subscriptions, cfg.Client.DefaultQoS)

	<-ctx.Done()
	slog.Info("Shutting down")

	saveCtx, saveCancel := context.WithTimeout(context.Background(), cfg.Broker.AckTimeout)
	if err := save(saveCtx, c, store.States()); err != nil {
		slog.Error("Failed to save subscriptions", "error", err)
	}
	saveCancel()

	if err := c.Close(); err != nil {
		slog.Error("Failed to close client", "error", err)
	}
	slog.Info("mqttscope stopped")
}

func restore(ctx context.Context, c *client.Client, states storage.StateStore) error {
	state, err := states.Get(c.ClientID())
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := c.Restore(ctx, state); err != nil {
		return err
	}
	slog.Info("Restored subscriptions", "count", len(state.Subscriptions), "saved_at", state.SavedAt)
	return nil
}

func save(ctx context.Context, c *client.Client, states storage.StateStore) error {
	state, err := c.Snapshot(ctx)
	if err != nil {
		return err
	}
	return states.Save(state)
}

// waitConnected blocks until the session is connected or timeout elapses.
func waitConnected(ctx context.Context, c *client.Client, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.Session().State() == session.StateConnected {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func logEvents(c *client.Client) {
	for env := range c.Events() {
		data, err := json.Marshal(env)
		if err != nil {
			slog.Warn("Failed to encode event", "event_type", env.EventType, "error", err)
			continue
		}
		slog.Info("event", "type", env.EventType, "payload", string(data))
	}
}
