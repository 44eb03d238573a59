// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package storage persists what a client needs to rebuild its subscriptions
// and topic tree after a restart.
package storage

import (
	"errors"
	"time"
)

// Common errors.
var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidKey = errors.New("client id cannot be empty")
)

// Store is the composite storage interface.
type Store interface {
	// States returns the subscription state store.
	States() StateStore

	// Wills returns the store of the last will applied per client.
	Wills() WillStore

	// Close closes all storage backends.
	Close() error
}

// SubscriptionState is one broker subscription and the concrete topics it
// owned, in discovery order.
type SubscriptionState struct {
	Pattern string   `msgpack:"pattern" json:"pattern"`
	QoS     byte     `msgpack:"qos" json:"qos"`
	Topics  []string `msgpack:"topics" json:"topics"`
}

// State is a client's persisted subscription set.
type State struct {
	ClientID      string              `msgpack:"client_id" json:"client_id"`
	Endpoint      string              `msgpack:"endpoint" json:"endpoint"`
	Subscriptions []SubscriptionState `msgpack:"subscriptions" json:"subscriptions"`
	SavedAt       time.Time           `msgpack:"saved_at" json:"saved_at"`
}

// Will is the last will a client connected with.
type Will struct {
	ClientID  string    `msgpack:"client_id"`
	Topic     string    `msgpack:"topic"`
	Payload   []byte    `msgpack:"payload"`
	QoS       byte      `msgpack:"qos"`
	Retain    bool      `msgpack:"retain"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// StateStore handles subscription state persistence.
type StateStore interface {
	// Get retrieves the state of a client.
	Get(clientID string) (*State, error)

	// Save persists a state, replacing the previous one.
	Save(state *State) error

	// Delete removes the state of a client.
	Delete(clientID string) error

	// List returns all states, sorted by client ID.
	List() ([]*State, error)
}

// WillStore handles will persistence.
type WillStore interface {
	// Get retrieves the will of a client.
	Get(clientID string) (*Will, error)

	// Set stores the will of a client.
	Set(will *Will) error

	// Delete removes the will of a client.
	Delete(clientID string) error
}

// CopyState returns a deep copy of s.
func CopyState(s *State) *State {
	if s == nil {
		return nil
	}
	out := *s
	out.Subscriptions = make([]SubscriptionState, len(s.Subscriptions))
	for i, sub := range s.Subscriptions {
		out.Subscriptions[i] = SubscriptionState{
			Pattern: sub.Pattern,
			QoS:     sub.QoS,
			Topics:  append([]string(nil), sub.Topics...),
		}
	}
	return &out
}

// CopyWill returns a deep copy of w.
func CopyWill(w *Will) *Will {
	if w == nil {
		return nil
	}
	out := *w
	out.Payload = append([]byte(nil), w.Payload...)
	return &out
}
