// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package paho implements session.Transport on the Eclipse Paho MQTT client.
package paho

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/mqttscope/session"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	// DefaultScheme is used when Options.Scheme is empty.
	DefaultScheme = "tcp"

	disconnectQuiesce = 250 // milliseconds
)

// Options tune the dialer.
type Options struct {
	// Scheme of the broker URL: tcp, ssl, ws or wss.
	Scheme string

	// ProtocolVersion is 3 (MQTT 3.1) or 4 (MQTT 3.1.1). Zero lets paho
	// negotiate.
	ProtocolVersion uint

	// TLS is used by the ssl and wss schemes. Nil uses the system defaults.
	TLS *tls.Config

	Logger *slog.Logger
}

// Dialer returns a session.Dialer creating paho transports.
func Dialer(opts Options) session.Dialer {
	if opts.Scheme == "" {
		opts.Scheme = DefaultScheme
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return func(ep session.Endpoint, h session.Handlers) (session.Transport, error) {
		switch opts.Scheme {
		case "tcp", "ssl", "ws", "wss":
		default:
			return nil, fmt.Errorf("unsupported broker scheme %q", opts.Scheme)
		}
		return &transport{
			endpoint: ep,
			opts:     opts,
			handlers: h,
			logger:   opts.Logger.With(slog.String("endpoint", ep.String())),
		}, nil
	}
}

// transport creates a fresh paho client for every connection attempt, since
// the will is fixed at CONNECT. Callbacks from a client that was replaced or
// disconnected are ignored.
type transport struct {
	endpoint session.Endpoint
	opts     Options
	handlers session.Handlers
	logger   *slog.Logger

	mu     sync.Mutex
	client mqtt.Client
	gen    uint64
}

func (t *transport) Connect(opts session.ConnectOptions) error {
	t.mu.Lock()
	if t.client != nil && t.client.IsConnectionOpen() {
		t.client.Disconnect(0)
	}
	t.gen++
	gen := t.gen
	client := mqtt.NewClient(t.buildOptions(opts, gen))
	t.client = client
	t.mu.Unlock()

	tok := client.Connect()
	go func() {
		tok.Wait()
		if !t.current(gen) {
			if tok.Error() == nil {
				client.Disconnect(0)
			}
			return
		}
		if err := tok.Error(); err != nil {
			t.drop(gen)
			t.handlers.OnConnectFailed(err)
			return
		}
		t.handlers.OnConnect()
	}()
	return nil
}

func (t *transport) Disconnect() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.gen++
	t.mu.Unlock()

	if client != nil && client.IsConnectionOpen() {
		client.Disconnect(disconnectQuiesce)
	}
}

func (t *transport) Subscribe(ctx context.Context, filter string, qos byte) error {
	client, err := t.connected()
	if err != nil {
		return err
	}
	return wait(ctx, client.Subscribe(filter, qos, nil))
}

func (t *transport) Unsubscribe(ctx context.Context, filter string) error {
	client, err := t.connected()
	if err != nil {
		return err
	}
	return wait(ctx, client.Unsubscribe(filter))
}

func (t *transport) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	client, err := t.connected()
	if err != nil {
		return err
	}
	return wait(ctx, client.Publish(topic, qos, retain, payload))
}

// buildOptions maps connect options onto paho. Reconnects are left to the
// owner of the session, so paho's own retry is off.
func (t *transport) buildOptions(opts session.ConnectOptions, gen uint64) *mqtt.ClientOptions {
	o := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("%s://%s", t.opts.Scheme, t.endpoint.String())).
		SetClientID(opts.ClientID).
		SetCleanSession(opts.CleanSession).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true)

	if t.opts.ProtocolVersion != 0 {
		o.SetProtocolVersion(t.opts.ProtocolVersion)
	}
	if t.opts.TLS != nil {
		o.SetTLSConfig(t.opts.TLS)
	}
	if opts.Username != "" {
		o.SetUsername(opts.Username)
		o.SetPassword(opts.Password)
	}
	if opts.KeepAlive > 0 {
		o.SetKeepAlive(opts.KeepAlive)
	}
	if opts.ConnectTimeout > 0 {
		o.SetConnectTimeout(opts.ConnectTimeout)
	}
	if w := opts.Will; w != nil {
		o.SetBinaryWill(w.Topic, w.Payload, w.QoS, w.Retain)
	}

	o.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if !t.current(gen) {
			return
		}
		t.handlers.OnMessage(msg.Topic(), msg.Payload(), msg.Retained())
	})
	o.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if !t.drop(gen) {
			return
		}
		t.logger.Warn("paho connection lost", slog.String("error", err.Error()))
		t.handlers.OnConnectionLost(err)
	})
	return o
}

func (t *transport) current(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen && t.client != nil
}

// drop forgets the client of generation gen. It reports whether gen was current.
func (t *transport) drop(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen || t.client == nil {
		return false
	}
	t.client = nil
	return true
}

func (t *transport) connected() (mqtt.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil || !t.client.IsConnectionOpen() {
		return nil, session.ErrNotConnected
	}
	return t.client, nil
}

func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ session.Transport = (*transport)(nil)

