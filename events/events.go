// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeTopicDiscovered      = "topic.discovered"
	TypeSubscriptionsChanged = "subscriptions.changed"
	TypeMessageArrived       = "message.arrived"
	TypeConnected            = "session.connected"
	TypeDisconnected         = "session.disconnected"
	TypeTransportFailed      = "transport.failed"
)

// Event is the common interface for all client events.
type Event interface {
	// Type returns the event type identifier (e.g., "topic.discovered")
	Type() string

	// Topic returns the MQTT topic or pattern the event concerns, empty for others
	Topic() string

	// Wrap wraps the event in a common envelope with metadata
	Wrap(clientID string) *Envelope
}

// Envelope is the common wrapper for all events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	ClientID  string `json:"client_id"`
	Data      any    `json:"data"`
}

// MarshalJSON serializes the envelope to JSON.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	type plain Envelope
	return json.Marshal((*plain)(e))
}

func wrap(e Event, clientID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		ClientID:  clientID,
		Data:      e,
	}
}

// TopicDiscovered is emitted the first time a message arrives on a topic.
type TopicDiscovered struct {
	Name         string `json:"topic"`
	Subscription string `json:"subscription"`
}

func (e TopicDiscovered) Type() string                   { return TypeTopicDiscovered }
func (e TopicDiscovered) Topic() string                  { return e.Name }
func (e TopicDiscovered) Wrap(clientID string) *Envelope { return wrap(e, clientID) }

// SubscriptionsChanged is emitted after a subscribe, unsubscribe, split or merge
// has been acknowledged by the broker.
type SubscriptionsChanged struct {
	Subscriptions []string `json:"subscriptions"`
	Added         []string `json:"added,omitempty"`
	Removed       []string `json:"removed,omitempty"`
}

func (e SubscriptionsChanged) Type() string                   { return TypeSubscriptionsChanged }
func (e SubscriptionsChanged) Topic() string                  { return "" }
func (e SubscriptionsChanged) Wrap(clientID string) *Envelope { return wrap(e, clientID) }

// MessageArrived is emitted when a payload was appended to a topic buffer.
type MessageArrived struct {
	Name         string `json:"topic"`
	Subscription string `json:"subscription"`
	Seq          uint64 `json:"seq"`
	PayloadSize  int    `json:"payload_size"`
	Retained     bool   `json:"retained"`
	DecodeError  string `json:"decode_error,omitempty"`
}

func (e MessageArrived) Type() string                   { return TypeMessageArrived }
func (e MessageArrived) Topic() string                  { return e.Name }
func (e MessageArrived) Wrap(clientID string) *Envelope { return wrap(e, clientID) }

// Connected is emitted when the broker session is (re)connected.
type Connected struct {
	Endpoint string `json:"endpoint"`
}

func (e Connected) Type() string                   { return TypeConnected }
func (e Connected) Topic() string                  { return "" }
func (e Connected) Wrap(clientID string) *Envelope { return wrap(e, clientID) }

// Disconnected is emitted when the broker session loses its connection.
type Disconnected struct {
	Endpoint string `json:"endpoint"`
	Reason   string `json:"reason"` // "normal", "error", "will_update"
}

func (e Disconnected) Type() string                   { return TypeDisconnected }
func (e Disconnected) Topic() string                  { return "" }
func (e Disconnected) Wrap(clientID string) *Envelope { return wrap(e, clientID) }

// TransportFailed is emitted when a connect attempt or broker operation fails.
type TransportFailed struct {
	Endpoint string `json:"endpoint"`
	Op       string `json:"op"`
	Error    string `json:"error"`
}

func (e TransportFailed) Type() string                   { return TypeTransportFailed }
func (e TransportFailed) Topic() string                  { return "" }
func (e TransportFailed) Wrap(clientID string) *Envelope { return wrap(e, clientID) }
