// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package session implements the broker session: one physical connection per
// endpoint, shared by reference count between logical clients, and a single
// goroutine that serializes every operation and inbound message of it.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/mqttscope/events"
	"github.com/absmach/mqttscope/metrics"
	"github.com/sony/gobreaker"
)

// Default values.
const (
	DefaultOpTimeout        = 10 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerTimeout   = 30 * time.Second

	discoverySuffix = "-discovery"
)

// Config configures a Session.
type Config struct {
	Connect ConnectOptions

	// DiscoveryFilter, when set, opens a second connection subscribed to this
	// filter. Its messages only feed KnownTopics.
	DiscoveryFilter string

	// OpTimeout bounds the broker calls the session issues on its own, such as
	// resubscribing after a connect.
	OpTimeout time.Duration

	// BreakerThreshold consecutive transport failures open the circuit for
	// BreakerTimeout.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Session is the BrokerSession. Operations that change subscriptions run on
// the session goroutine, reached through Exec.
type Session struct {
	endpoint  Endpoint
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	transport Transport
	discovery Transport
	breaker   *gobreaker.CircuitBreaker
	state     *stateManager

	mb        *mailbox
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Owned by the session goroutine.
	filters     *filterRegistry
	subscribers map[uint64]*subscriber
	nextID      uint64
	will        willMachine

	knownMu sync.RWMutex
	known   map[string]struct{}
}

// New dials the transports for an endpoint and starts the session goroutine.
// It does not connect.
func New(ep Endpoint, dial Dialer, cfg Config) (*Session, error) {
	if dial == nil {
		return nil, ErrNoTransport
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = DefaultBreakerThreshold
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = DefaultBreakerTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("endpoint", ep.String()))

	s := &Session{
		endpoint:    ep,
		cfg:         cfg,
		logger:      logger,
		metrics:     cfg.Metrics,
		state:       newStateManager(),
		mb:          newMailbox(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		filters:     newFilterRegistry(),
		subscribers: make(map[uint64]*subscriber),
		known:       make(map[string]struct{}),
	}
	s.will.current = cfg.Connect.Will

	threshold := cfg.BreakerThreshold
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        ep.String(),
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("broker circuit breaker state changed",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})

	var err error
	s.transport, err = dial(ep, Handlers{
		OnConnect: func() { s.mb.push(s.onConnect) },
		OnConnectFailed: func(err error) {
			s.mb.push(func() { s.onConnectFailed(err) })
		},
		OnConnectionLost: func(err error) {
			s.mb.push(func() { s.onConnectionLost(err) })
		},
		OnMessage: func(topic string, payload []byte, retained bool) {
			s.mb.push(func() { s.deliver(topic, payload, retained) })
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	if cfg.DiscoveryFilter != "" {
		s.discovery, err = dial(ep, Handlers{
			OnConnect: func() { s.mb.push(s.onDiscoveryConnect) },
			OnConnectFailed: func(err error) {
				logger.Warn("discovery connection failed", slog.String("error", err.Error()))
			},
			OnConnectionLost: func(err error) {
				logger.Warn("discovery connection lost", slog.String("error", err.Error()))
			},
			OnMessage: func(topic string, _ []byte, _ bool) { s.observe(topic) },
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create discovery transport: %w", err)
		}
	}

	go s.run()
	s.metrics.AddSessions(1)
	return s, nil
}

func (s *Session) run() {
	defer close(s.done)
	for {
		select {
		case <-s.mb.notify:
			for _, fn := range s.mb.drain() {
				fn()
			}
		case <-s.stop:
			return
		}
	}
}

// Exec runs fn on the session goroutine and returns its result. Messages that
// arrive while fn runs are queued behind it. If ctx ends before fn started, fn
// never runs. Exec must not be called from the session goroutine.
func (s *Session) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	var claimed atomic.Bool
	ok := s.mb.push(func() {
		if !claimed.CompareAndSwap(false, true) {
			return
		}
		done <- fn(ctx)
	})
	if !ok {
		return ErrSessionClosed
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		if claimed.CompareAndSwap(false, true) {
			return ctx.Err()
		}
		return <-done
	case <-s.done:
		if claimed.CompareAndSwap(false, true) {
			return ErrSessionClosed
		}
		return <-done
	}
}

// Endpoint returns the broker the session talks to.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// State returns the connection state.
func (s *Session) State() State {
	return s.state.get()
}

// Connect starts a connection attempt unless one is in progress or the
// session is connected. The outcome arrives as Connected or TransportFailed
// events; a failed attempt is not retried.
func (s *Session) Connect() error {
	if s.state.isClosed() || !s.mb.push(s.connect) {
		return ErrSessionClosed
	}
	return nil
}

// DisconnectAll closes the connections, abandoning an attempt in progress.
func (s *Session) DisconnectAll() error {
	if s.state.isClosed() {
		return ErrSessionClosed
	}
	ok := s.mb.push(func() {
		s.disconnect("normal")
		if s.discovery != nil {
			s.discovery.Disconnect()
		}
		s.will.reset()
	})
	if !ok {
		return ErrSessionClosed
	}
	return nil
}

// Close disconnects and stops the session goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		_ = s.Exec(context.Background(), func(context.Context) error {
			s.disconnect("normal")
			if s.discovery != nil {
				s.discovery.Disconnect()
			}
			return nil
		})
		s.state.set(StateClosed)
		s.mb.close()
		close(s.stop)
		<-s.done
		s.metrics.AddSessions(-1)
		s.logger.Info("session closed")
	})
}

// KnownTopics lists every topic name seen on the session's connections, sorted.
func (s *Session) KnownTopics() []string {
	s.knownMu.RLock()
	defer s.knownMu.RUnlock()

	names := make([]string, 0, len(s.known))
	for name := range s.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Session) observe(topic string) {
	s.knownMu.Lock()
	s.known[topic] = struct{}{}
	s.knownMu.Unlock()
}

func (s *Session) connect() {
	if !s.state.transition(StateDisconnected, StateConnecting) {
		return
	}
	opts := s.cfg.Connect
	opts.Will = s.will.current

	s.logger.Debug("connecting", slog.String("client_id", opts.ClientID), slog.Bool("will", opts.Will != nil))
	if err := s.transport.Connect(opts); err != nil {
		s.onConnectFailed(err)
		return
	}

	if s.discovery != nil {
		dopts := s.cfg.Connect
		dopts.ClientID += discoverySuffix
		dopts.Will = nil
		dopts.CleanSession = true
		if err := s.discovery.Connect(dopts); err != nil {
			s.logger.Warn("discovery connect failed", slog.String("error", err.Error()))
		}
	}
}

// disconnect closes the main connection. It reports whether it was connected.
func (s *Session) disconnect(reason string) bool {
	prev := s.state.get()
	if !s.state.transitionFrom(StateDisconnecting, StateConnected, StateConnecting) {
		return false
	}
	s.transport.Disconnect()
	s.state.set(StateDisconnected)

	if prev == StateConnected {
		s.logger.Info("disconnected", slog.String("reason", reason))
		s.broadcast(events.Disconnected{Endpoint: s.endpoint.String(), Reason: reason})
	}
	return prev == StateConnected
}

func (s *Session) onConnect() {
	if !s.state.transition(StateConnecting, StateConnected) {
		// The attempt was abandoned while in flight.
		if s.state.get() != StateConnected {
			s.transport.Disconnect()
		}
		return
	}
	s.logger.Info("connected")

	s.resubscribe()
	s.broadcast(events.Connected{Endpoint: s.endpoint.String()})

	if s.will.connected() {
		s.beginWillCycle()
	}
}

func (s *Session) onConnectFailed(err error) {
	if !s.state.transition(StateConnecting, StateDisconnected) {
		return
	}
	s.will.connectFailed()
	s.metrics.RecordTransportError(KindConnect.String())
	s.logger.Warn("connect failed", slog.String("error", err.Error()))
	s.broadcast(events.TransportFailed{
		Endpoint: s.endpoint.String(),
		Op:       KindConnect.String(),
		Error:    err.Error(),
	})
}

func (s *Session) onConnectionLost(err error) {
	if !s.state.transition(StateConnected, StateDisconnected) {
		return
	}
	s.metrics.RecordTransportError(KindConnectionLost.String())
	s.logger.Warn("connection lost", slog.String("error", err.Error()))
	s.broadcast(events.Disconnected{Endpoint: s.endpoint.String(), Reason: "error"})
}

func (s *Session) onDiscoveryConnect() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if err := s.discovery.Subscribe(ctx, s.cfg.DiscoveryFilter, 0); err != nil {
		s.logger.Warn("discovery subscribe failed",
			slog.String("filter", s.cfg.DiscoveryFilter),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("discovery subscribed", slog.String("filter", s.cfg.DiscoveryFilter))
}

// resubscribe registers every held filter again; a clean session starts empty.
func (s *Session) resubscribe() {
	for _, rec := range s.filters.snapshot() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
		filter, qos := rec.filter, rec.qos
		err := s.call(KindSubscribe, filter, func() error {
			return s.transport.Subscribe(ctx, filter, qos)
		})
		cancel()
		if err != nil {
			s.reportFailure(err)
		}
	}
}

// deliver hands an inbound message to the subscribers holding a matching filter.
func (s *Session) deliver(topic string, payload []byte, retained bool) {
	s.observe(topic)

	owners := s.filters.matching(topic)
	if len(owners) == 0 {
		s.metrics.RecordDropped("unmatched")
		s.logger.Debug("dropping message for released filter", slog.String("topic", topic))
		return
	}

	for _, id := range sortedIDs(owners) {
		sub, ok := s.subscribers[id]
		if !ok || sub.onMessage == nil {
			continue
		}
		if retained && !sub.acceptRetained {
			s.metrics.RecordDropped("retained")
			continue
		}
		sub.onMessage(topic, payload, retained)
	}
}

// call runs a transport operation through the circuit breaker.
func (s *Session) call(kind ErrorKind, topic string, fn func() error) error {
	var err error
	if !s.state.isConnected() {
		err = ErrNotConnected
	} else {
		_, err = s.breaker.Execute(func() (interface{}, error) {
			return nil, fn()
		})
	}
	if err == nil {
		return nil
	}
	s.metrics.RecordTransportError(kind.String())
	return &TransportError{Kind: kind, Endpoint: s.endpoint, Topic: topic, Err: err}
}

func (s *Session) reportFailure(err error) {
	var te *TransportError
	if !errors.As(err, &te) {
		return
	}
	s.logger.Warn("broker operation failed",
		slog.String("op", te.Kind.String()),
		slog.String("topic", te.Topic),
		slog.String("error", te.Err.Error()))
	s.broadcast(events.TransportFailed{
		Endpoint: s.endpoint.String(),
		Op:       te.Kind.String(),
		Error:    te.Err.Error(),
	})
}

func (s *Session) broadcast(e events.Event) {
	for _, id := range sortedIDs(s.subscriberIDs()) {
		if sub := s.subscribers[id]; sub.onEvent != nil {
			sub.onEvent(e)
		}
	}
}

func (s *Session) subscriberIDs() map[uint64]struct{} {
	ids := make(map[uint64]struct{}, len(s.subscribers))
	for id := range s.subscribers {
		ids[id] = struct{}{}
	}
	return ids
}

func sortedIDs(ids map[uint64]struct{}) []uint64 {
	out := make([]uint64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
