// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"time"

	"github.com/absmach/mqttscope/decoder"
	"github.com/absmach/mqttscope/metrics"
	"github.com/absmach/mqttscope/ratelimit"
	"github.com/absmach/mqttscope/session"
	"github.com/absmach/mqttscope/storage"
	"go.opentelemetry.io/otel/trace"
)

// Default values.
const (
	DefaultPort            = 1883
	DefaultKeepAlive       = 60 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
	DefaultAckTimeout      = 10 * time.Second
	DefaultUpdateInterval  = time.Second
	DefaultKeepN           = 1000
	DefaultEventBufferSize = 1024
)

// WillType selects how the will payload is produced.
type WillType string

// Will types.
const (
	// WillOwn publishes WillOptions.Message.
	WillOwn WillType = "own"
	// WillLastMessage publishes the newest payload of the source topic.
	WillLastMessage WillType = "last_message"
	// WillStatistics publishes a summary of the source topic's decoded data.
	WillStatistics WillType = "statistics"
)

// WillOptions configure the last will and testament.
type WillOptions struct {
	Enabled bool
	Topic   string
	QoS     byte
	Retain  bool
	Type    WillType
	Message string

	// Source of last_message and statistics wills.
	StatisticsTopic  string
	StatisticsColumn int
	Statistics       []decoder.Statistic

	// UpdateInterval refreshes the will periodically while connected. Zero
	// updates only on Client.UpdateWill.
	UpdateInterval time.Duration
}

// Options configures the client.
type Options struct {
	// Connection
	Host            string        // Broker host
	Port            int           // Broker port
	ClientID        string        // Client identifier, generated when empty
	Username        string        // Optional username
	Password        string        // Optional password
	ConnectTimeout  time.Duration // Timeout for connection attempts
	KeepAlive       time.Duration // Keep-alive interval (0 to disable)
	CleanSession    bool          // Start with clean session
	AckTimeout      time.Duration // Timeout waiting for SUBACK/UNSUBACK/PUBACK

	// Circuit breaker around broker operations.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration

	// Topic tree
	KeepN             int    // Records kept per topic (0 = unbounded)
	AcceptRetained    bool   // Keep retained messages instead of dropping them
	DiscoveryFilter   string // Filter of the discovery connection ("" = none)
	DecoderExpression string // jq expression turning payloads into rows

	// Will
	Will WillOptions

	// Background work
	UpdateInterval  time.Duration // Reconnect, consolidation and will timer
	EventBufferSize int           // Size of the Events channel

	// Collaborators
	Dialer    session.Dialer     // Transport factory, required unless Registry is set
	Registry  *session.Registry  // Shared session registry (nil = private registry)
	RateLimit *ratelimit.Manager // Reconnect and publish limits (nil = unlimited)
	WillStore storage.WillStore  // Persists computed wills (nil = not persisted)
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer // nil if tracing disabled
}

// NewOptions creates Options with sensible defaults.
func NewOptions() *Options {
	return &Options{
		Host:              "localhost",
		Port:              DefaultPort,
		CleanSession:      true,
		KeepAlive:         DefaultKeepAlive,
		ConnectTimeout:    DefaultConnectTimeout,
		AckTimeout:        DefaultAckTimeout,
		BreakerThreshold:  session.DefaultBreakerThreshold,
		BreakerTimeout:    session.DefaultBreakerTimeout,
		KeepN:             DefaultKeepN,
		DecoderExpression: decoder.DefaultExpression,
		Will: WillOptions{
			Type:       WillOwn,
			Statistics: []decoder.Statistic{decoder.StatMean},
		},
		UpdateInterval:  DefaultUpdateInterval,
		EventBufferSize: DefaultEventBufferSize,
	}
}

// SetBroker sets the broker address.
func (o *Options) SetBroker(host string, port int) *Options {
	o.Host = host
	o.Port = port
	return o
}

// SetClientID sets the client identifier.
func (o *Options) SetClientID(id string) *Options {
	o.ClientID = id
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetCleanSession sets the clean session flag.
func (o *Options) SetCleanSession(clean bool) *Options {
	o.CleanSession = clean
	return o
}

// SetKeepAlive sets the keep-alive interval.
func (o *Options) SetKeepAlive(d time.Duration) *Options {
	o.KeepAlive = d
	return o
}

// SetConnectTimeout sets the connection timeout.
func (o *Options) SetConnectTimeout(d time.Duration) *Options {
	o.ConnectTimeout = d
	return o
}

// SetAckTimeout sets the acknowledgment timeout.
func (o *Options) SetAckTimeout(d time.Duration) *Options {
	o.AckTimeout = d
	return o
}

// SetBreaker configures the circuit breaker around broker operations.
func (o *Options) SetBreaker(threshold uint32, timeout time.Duration) *Options {
	o.BreakerThreshold = threshold
	o.BreakerTimeout = timeout
	return o
}

// SetKeepN sets how many records every topic keeps.
func (o *Options) SetKeepN(n int) *Options {
	o.KeepN = n
	return o
}

// SetAcceptRetained lets retained messages into the topic buffers.
func (o *Options) SetAcceptRetained(accept bool) *Options {
	o.AcceptRetained = accept
	return o
}

// SetDiscoveryFilter enables the discovery connection.
func (o *Options) SetDiscoveryFilter(filter string) *Options {
	o.DiscoveryFilter = filter
	return o
}

// SetDecoderExpression sets the jq expression used to decode payloads.
func (o *Options) SetDecoderExpression(expr string) *Options {
	o.DecoderExpression = expr
	return o
}

// SetWill sets the last will and testament.
func (o *Options) SetWill(w WillOptions) *Options {
	o.Will = w
	return o
}

// SetUpdateInterval sets the period of the background timer.
func (o *Options) SetUpdateInterval(d time.Duration) *Options {
	o.UpdateInterval = d
	return o
}

// SetEventBufferSize sets the size of the Events channel.
func (o *Options) SetEventBufferSize(n int) *Options {
	o.EventBufferSize = n
	return o
}

// SetDialer sets the transport factory.
func (o *Options) SetDialer(d session.Dialer) *Options {
	o.Dialer = d
	return o
}

// SetRegistry shares sessions with other clients of the same registry.
func (o *Options) SetRegistry(r *session.Registry) *Options {
	o.Registry = r
	return o
}

// SetRateLimit sets the reconnect and publish limiter.
func (o *Options) SetRateLimit(m *ratelimit.Manager) *Options {
	o.RateLimit = m
	return o
}

// SetWillStore sets where computed wills are persisted.
func (o *Options) SetWillStore(ws storage.WillStore) *Options {
	o.WillStore = ws
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// SetMetrics sets the metrics recorder.
func (o *Options) SetMetrics(m *metrics.Metrics) *Options {
	o.Metrics = m
	return o
}

// SetTracer sets the tracer.
func (o *Options) SetTracer(t trace.Tracer) *Options {
	o.Tracer = t
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.Host == "" {
		return ErrNoHost
	}
	if o.Port < 1 || o.Port > 65535 {
		return ErrInvalidPort
	}
	if o.KeepN < 0 {
		return ErrInvalidKeepN
	}
	if o.Dialer == nil && o.Registry == nil {
		return ErrNoDialer
	}
	if err := o.Will.validate(); err != nil {
		return err
	}
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = DefaultUpdateInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = DefaultEventBufferSize
	}
	return nil
}

func (w WillOptions) validate() error {
	if !w.Enabled {
		return nil
	}
	if w.Topic == "" {
		return ErrNoWillTopic
	}
	if w.QoS > 2 {
		return ErrInvalidQoS
	}
	switch w.Type {
	case WillOwn:
	case WillLastMessage, WillStatistics:
		if w.StatisticsTopic == "" {
			return ErrNoWillSource
		}
	default:
		return ErrInvalidWillType
	}
	return nil
}
