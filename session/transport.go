// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"net"
	"strconv"
	"time"
)

// Endpoint identifies a broker. Sessions are shared per endpoint.
type Endpoint struct {
	Host string
	Port int
}

// String returns host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// Will is the last will and testament set on a connection.
type Will struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// ConnectOptions are the parameters of one connection attempt.
type ConnectOptions struct {
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	CleanSession   bool
	Will           *Will
}

// Handlers receive transport events. They may be called from any goroutine and
// must not block.
type Handlers struct {
	OnConnect        func()
	OnConnectFailed  func(err error)
	OnConnectionLost func(err error)
	OnMessage        func(topic string, payload []byte, retained bool)
}

// Transport is one MQTT connection to a broker.
//
// Connect starts an attempt and returns at once; the outcome is reported
// through Handlers. Disconnect closes the connection or abandons an attempt in
// progress, without reporting a lost connection. Subscribe, Unsubscribe and
// Publish block until the broker acknowledged them or ctx is done.
type Transport interface {
	Connect(opts ConnectOptions) error
	Disconnect()
	Subscribe(ctx context.Context, filter string, qos byte) error
	Unsubscribe(ctx context.Context, filter string) error
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Dialer creates a transport for an endpoint.
type Dialer func(ep Endpoint, h Handlers) (Transport, error)
