// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"errors"

	"github.com/absmach/mqttscope/topics"
)

// Subscription set errors.
var (
	// Input errors.
	ErrInvalidPattern = topics.ErrInvalidPattern
	ErrInvalidQoS     = errors.New("invalid QoS level (must be 0, 1, or 2)")

	// Precondition errors.
	ErrAlreadyCovered = errors.New("pattern is already covered by an existing subscription")
	ErrAlreadyExists  = errors.New("subscription already exists")
	ErrNotFound       = errors.New("subscription or topic not found")

	// ErrTransport wraps every broker failure. The set is left as it was before the call.
	ErrTransport = errors.New("broker operation failed")

	// ErrMergeRejected is logged by consolidation when the sibling check fails.
	// It is never returned to callers.
	ErrMergeRejected = errors.New("merge rejected")
)
