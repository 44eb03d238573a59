// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/mqttscope/config"
	"github.com/absmach/mqttscope/session"
)

const subscribeRetryInterval = 250 * time.Millisecond

type subscriber interface {
	State() session.State
	Subscribe(ctx context.Context, pattern string, qos byte) error
}

// subscribeConfigured subscribes the configured patterns once the session is
// connected. Patterns rejected because the connection dropped stay pending and
// are retried on the next connect. It returns when every pattern was handled
// or ctx is done.
func subscribeConfigured(ctx context.Context, c subscriber, subs []config.SubscriptionConfig, defaultQoS byte) {
	pending := append([]config.SubscriptionConfig(nil), subs...)

	ticker := time.NewTicker(subscribeRetryInterval)
	defer ticker.Stop()
	for len(pending) > 0 {
		if c.State() == session.StateConnected {
			pending = subscribePending(ctx, c, pending, defaultQoS)
			if len(pending) == 0 {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func subscribePending(ctx context.Context, c subscriber, pending []config.SubscriptionConfig, defaultQoS byte) []config.SubscriptionConfig {
	var retry []config.SubscriptionConfig
	for _, s := range pending {
		qos := s.QoS
		if qos == 0 {
			qos = defaultQoS
		}
		err := c.Subscribe(ctx, s.Pattern, qos)
		switch {
		case err == nil:
			slog.Info("Subscribed", "pattern", s.Pattern, "qos", qos)
		case errors.Is(err, session.ErrNotConnected):
			retry = append(retry, s)
		case errors.Is(err, context.Canceled):
			return nil
		default:
			slog.Error("Failed to subscribe", "pattern", s.Pattern, "error", err)
		}
	}
	return retry
}
