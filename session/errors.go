// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

// Session errors.
var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotConnected  = errors.New("session not connected")
	ErrNoTransport   = errors.New("no transport dialer configured")
)

// ErrorKind classifies transport failures.
type ErrorKind uint8

// Transport failure kinds.
const (
	KindConnect ErrorKind = iota
	KindConnectionLost
	KindSubscribe
	KindUnsubscribe
	KindPublish
)

// String returns the operation name.
func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindConnectionLost:
		return "connection_lost"
	case KindSubscribe:
		return "subscribe"
	case KindUnsubscribe:
		return "unsubscribe"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// TransportError is a failed broker operation.
type TransportError struct {
	Kind     ErrorKind
	Endpoint Endpoint
	Topic    string
	Err      error
}

func (e *TransportError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("%s %s: %v", e.Kind, e.Endpoint, e.Err)
	}
	return fmt.Sprintf("%s %q on %s: %v", e.Kind, e.Topic, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
