// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package decoder turns raw MQTT payloads into numeric rows and summarizes them.
package decoder

import (
	"errors"
	"fmt"
)

// ErrDecode is the sentinel wrapped by every DecodeError.
var ErrDecode = errors.New("payload decode failed")

// Row is one decoded record: the numeric columns extracted from a payload.
type Row []float64

// Decoder turns a payload received on a topic into rows.
type Decoder interface {
	Decode(topic string, payload []byte) ([]Row, error)
}

// DecodeError reports a payload the decoder could not turn into rows.
type DecodeError struct {
	Topic string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Topic, e.Err)
}

func (e *DecodeError) Unwrap() []error {
	return []error{ErrDecode, e.Err}
}
