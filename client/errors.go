// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "errors"

// Client errors.
var (
	// Configuration errors.
	ErrNoHost          = errors.New("broker host not configured")
	ErrInvalidPort     = errors.New("invalid broker port")
	ErrInvalidQoS      = errors.New("invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidKeepN    = errors.New("keep_n cannot be negative")
	ErrNoWillTopic     = errors.New("will topic required when will is enabled")
	ErrInvalidWillType = errors.New("invalid will type (must be own, last_message or statistics)")
	ErrNoWillSource    = errors.New("will source topic required for last_message and statistics wills")
	ErrNoDialer        = errors.New("no transport dialer configured")

	// Operation errors.
	ErrClientClosed    = errors.New("client has been closed")
	ErrRateLimited     = errors.New("publish rate limited")
	ErrWillUnavailable = errors.New("will source topic has no data")
	ErrWillDisabled    = errors.New("will is disabled")
)
