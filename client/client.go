// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client is the controller a user talks to: it owns one subscription
// set and topic tree, attached to the broker session shared per endpoint.
//
// Every operation on the subscription set runs on the session goroutine, so
// messages arriving while the set is rewritten are queued and routed to the
// topic's new owner afterwards.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mqttscope/decoder"
	"github.com/absmach/mqttscope/events"
	"github.com/absmach/mqttscope/metrics"
	"github.com/absmach/mqttscope/ratelimit"
	"github.com/absmach/mqttscope/session"
	"github.com/absmach/mqttscope/storage"
	"github.com/absmach/mqttscope/store"
	"github.com/absmach/mqttscope/subscriptions"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Client is a logical MQTT client. Several clients targeting the same broker
// share one session through a session.Registry.
type Client struct {
	opts     *Options
	clientID string
	endpoint session.Endpoint
	logger   *slog.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	limiter  *ratelimit.Manager

	registry    *session.Registry
	ownRegistry bool
	sess        *session.Session
	conn        *session.Conn

	store *store.Store
	set   *subscriptions.Set

	eventsMu sync.RWMutex
	events   chan *events.Envelope
	closed   bool

	wantConnected atomic.Bool
	dirty         atomic.Bool
	willEnabled   atomic.Bool
	lastWill      atomic.Int64

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a client and attaches it to the session of its broker. It does
// not connect.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	clientID := opts.ClientID
	if clientID == "" {
		clientID = "mqttscope-" + uuid.NewString()[:8]
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("client_id", clientID))
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("")
	}

	dec, err := decoder.NewJQ(opts.DecoderExpression)
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:     opts,
		clientID: clientID,
		endpoint: session.Endpoint{Host: opts.Host, Port: opts.Port},
		logger:   logger,
		metrics:  opts.Metrics,
		tracer:   tracer,
		limiter:  opts.RateLimit,
		registry: opts.Registry,
		store:    store.New(opts.KeepN, dec),
		events:   make(chan *events.Envelope, opts.EventBufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	c.willEnabled.Store(opts.Will.Enabled)
	if c.registry == nil {
		c.registry = session.NewRegistry(opts.Dialer, logger, opts.Metrics)
		c.ownRegistry = true
	}

	c.sess, err = c.registry.Acquire(c.endpoint, session.Config{
		Connect: session.ConnectOptions{
			ClientID:       clientID,
			Username:       opts.Username,
			Password:       opts.Password,
			KeepAlive:      opts.KeepAlive,
			ConnectTimeout: opts.ConnectTimeout,
			CleanSession:   opts.CleanSession,
		},
		DiscoveryFilter:  opts.DiscoveryFilter,
		OpTimeout:        opts.AckTimeout,
		BreakerThreshold: opts.BreakerThreshold,
		BreakerTimeout:   opts.BreakerTimeout,
		Logger:           logger,
		Metrics:          opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to acquire session: %w", err)
	}

	c.conn, err = c.sess.Attach(context.Background(), session.SubscriberOptions{
		OnMessage:      c.route,
		OnEvent:        c.onSessionEvent,
		AcceptRetained: opts.AcceptRetained,
	})
	if err != nil {
		c.registry.Release(c.endpoint)
		return nil, fmt.Errorf("failed to attach to session: %w", err)
	}

	c.set = subscriptions.New(subscriptions.Config{
		Store:   c.store,
		Broker:  c.conn,
		Known:   c.conn.KnownTopics,
		Notify:  c.onSetEvent,
		Metrics: opts.Metrics,
		Logger:  logger,
	})

	go c.updateLoop()
	return c, nil
}

// ClientID returns the client identifier.
func (c *Client) ClientID() string {
	return c.clientID
}

// Session returns the shared broker session.
func (c *Client) Session() *session.Session {
	return c.sess
}

// State returns the connection state of the shared session.
func (c *Client) State() session.State {
	return c.sess.State()
}

// Events returns the event channel. It is closed by Close. Events are dropped
// when the channel is full.
func (c *Client) Events() <-chan *events.Envelope {
	return c.events
}

// Connect starts connecting to the broker and keeps the connection up: after
// a failure or a lost connection the update timer reconnects, throttled by
// the rate limiter. The outcome arrives as events.
func (c *Client) Connect(ctx context.Context) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.wantConnected.Store(true)

	if c.willEnabled.Load() {
		err := c.UpdateWill(ctx)
		if errors.Is(err, ErrWillUnavailable) {
			err = c.restoreWill()
		}
		if err != nil && !errors.Is(err, ErrWillUnavailable) {
			return err
		}
	}
	return c.sess.Connect()
}

// Disconnect closes the broker connection and stops reconnecting. An attempt
// in progress is abandoned.
func (c *Client) Disconnect() error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.wantConnected.Store(false)
	return c.sess.DisconnectAll()
}

// Subscribe adds pattern to the subscription set.
func (c *Client) Subscribe(ctx context.Context, pattern string, qos byte) error {
	return c.exec(ctx, "client.subscribe", pattern, func(ctx context.Context) error {
		return c.set.Subscribe(ctx, pattern, subscriptions.Options{QoS: qos})
	})
}

// Unsubscribe removes a subscription, or a single topic living inside a
// wildcard subscription, which is then split around it.
func (c *Client) Unsubscribe(ctx context.Context, pattern string) error {
	return c.exec(ctx, "client.unsubscribe", pattern, func(ctx context.Context) error {
		if _, ok := c.set.Get(pattern); ok {
			return c.set.Unsubscribe(ctx, pattern)
		}
		if owner, ok := c.set.Owner(pattern); ok {
			return c.set.SplitOut(ctx, pattern, owner, false)
		}
		return fmt.Errorf("%w: %q", subscriptions.ErrNotFound, pattern)
	})
}

// SplitOut decomposes the wildcard subscription from around leaf.
func (c *Client) SplitOut(ctx context.Context, leaf, from string, keepLeaf bool) error {
	return c.exec(ctx, "client.split_out", from, func(ctx context.Context) error {
		return c.set.SplitOut(ctx, leaf, from, keepLeaf)
	})
}

// Consolidate merges sibling subscriptions where it is safe.
func (c *Client) Consolidate(ctx context.Context) error {
	return c.exec(ctx, "client.consolidate", "", func(ctx context.Context) error {
		return c.set.Consolidate(ctx)
	})
}

// ReparentTopic moves a topic to another subscription.
func (c *Client) ReparentTopic(ctx context.Context, topic, target string) error {
	return c.exec(ctx, "client.reparent_topic", target, func(context.Context) error {
		return c.set.ReparentTopic(topic, target)
	})
}

// Subscriptions returns the active subscriptions sorted by pattern.
func (c *Client) Subscriptions(ctx context.Context) ([]subscriptions.Subscription, error) {
	var subs []subscriptions.Subscription
	err := c.read(ctx, func() {
		subs = c.set.Subscriptions()
	})
	return subs, err
}

// Topics lists the topics owned by a subscription in discovery order.
func (c *Client) Topics(ctx context.Context, pattern string) ([]string, error) {
	var names []string
	err := c.read(ctx, func() {
		names = c.set.Topics(pattern)
	})
	return names, err
}

// Records returns the buffered records of a topic, oldest first.
func (c *Client) Records(ctx context.Context, topic string) ([]store.Record, error) {
	var records []store.Record
	var found bool
	err := c.read(ctx, func() {
		var t *store.Topic
		if t, found = c.store.Get(topic); found {
			records = t.Records()
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: topic %q", subscriptions.ErrNotFound, topic)
	}
	return records, nil
}

// Snapshot returns the persistable state of the subscription set.
func (c *Client) Snapshot(ctx context.Context) (*storage.State, error) {
	var entries []subscriptions.Entry
	if err := c.read(ctx, func() {
		entries = c.set.Snapshot()
	}); err != nil {
		return nil, err
	}

	state := &storage.State{
		ClientID:      c.clientID,
		Endpoint:      c.endpoint.String(),
		Subscriptions: make([]storage.SubscriptionState, 0, len(entries)),
		SavedAt:       time.Now().UTC(),
	}
	for _, e := range entries {
		state.Subscriptions = append(state.Subscriptions, storage.SubscriptionState{
			Pattern: e.Pattern,
			QoS:     e.QoS,
			Topics:  e.Topics,
		})
	}
	return state, nil
}

// Restore rebuilds the subscription set from a snapshot. The patterns are
// registered with the session, which subscribes them on every connect.
func (c *Client) Restore(ctx context.Context, state *storage.State) error {
	entries := make([]subscriptions.Entry, 0, len(state.Subscriptions))
	for _, s := range state.Subscriptions {
		entries = append(entries, subscriptions.Entry{
			Pattern: s.Pattern,
			QoS:     s.QoS,
			Topics:  s.Topics,
		})
	}

	return c.exec(ctx, "client.restore", "", func(context.Context) error {
		if err := c.set.Restore(entries); err != nil {
			return err
		}
		for _, e := range entries {
			c.conn.Track(e.Pattern, e.QoS)
		}
		return nil
	})
}

// Publish sends a message through the shared session.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if !c.limiter.AllowPublish(c.clientID) {
		return ErrRateLimited
	}
	return c.conn.Publish(ctx, topic, payload, qos, retain)
}

// Close detaches from the session, releasing it when no other client uses it,
// and closes the Events channel.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.eventsMu.Lock()
		c.closed = true
		c.eventsMu.Unlock()

		close(c.stop)
		<-c.done

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
		err = c.conn.Detach(ctx)
		cancel()
		if errors.Is(err, session.ErrSessionClosed) {
			err = nil
		}

		c.registry.Release(c.endpoint)
		if c.ownRegistry {
			c.registry.Close()
		}
		c.limiter.OnClientClose(c.clientID)

		c.eventsMu.Lock()
		close(c.events)
		c.eventsMu.Unlock()

		c.logger.Info("client closed")
	})
	return err
}

// exec runs fn on the session goroutine inside a span.
func (c *Client) exec(ctx context.Context, op, pattern string, fn func(ctx context.Context) error) error {
	if c.isClosed() {
		return ErrClientClosed
	}

	ctx, span := c.tracer.Start(ctx, op, trace.WithAttributes(
		attribute.String("mqtt.client_id", c.clientID),
		attribute.String("mqtt.pattern", pattern),
	))
	defer span.End()

	err := c.conn.Exec(ctx, fn)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Client) read(ctx context.Context, fn func()) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	return c.conn.Exec(ctx, func(context.Context) error {
		fn()
		return nil
	})
}

// route runs on the session goroutine.
func (c *Client) route(topic string, payload []byte, retained bool) {
	if _, err := c.set.Route(topic, payload, retained); err != nil {
		c.logger.Debug("message not routed",
			slog.String("topic", topic),
			slog.String("error", err.Error()))
	}
}

func (c *Client) onSetEvent(e events.Event) {
	if e.Type() == events.TypeTopicDiscovered {
		c.dirty.Store(true)
	}
	c.emit(e)
}

func (c *Client) onSessionEvent(e events.Event) {
	if e.Type() == events.TypeConnected {
		c.dirty.Store(true)
	}
	c.emit(e)
}

func (c *Client) emit(e events.Event) {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	if c.closed {
		return
	}

	select {
	case c.events <- e.Wrap(c.clientID):
	default:
		c.logger.Warn("event buffer full, dropping event", slog.String("event_type", e.Type()))
	}
}

func (c *Client) isClosed() bool {
	c.eventsMu.RLock()
	defer c.eventsMu.RUnlock()
	return c.closed
}
