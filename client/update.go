// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/absmach/mqttscope/session"
)

// updateLoop is the client's update timer: it reconnects, consolidates after
// new topics were discovered and refreshes the will.
func (c *Client) updateLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.update()
		case <-c.stop:
			return
		}
	}
}

func (c *Client) update() {
	switch c.sess.State() {
	case session.StateDisconnected:
		c.reconnect()
		return
	case session.StateConnected:
	default:
		return
	}

	if c.dirty.Swap(false) {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
		if err := c.Consolidate(ctx); err != nil && !errors.Is(err, ErrClientClosed) {
			c.logger.Warn("periodic consolidation failed", slog.String("error", err.Error()))
		}
		cancel()
	}

	w := c.opts.Will
	if c.willEnabled.Load() && w.UpdateInterval > 0 && time.Since(time.Unix(0, c.lastWill.Load())) >= w.UpdateInterval {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.AckTimeout)
		if err := c.UpdateWill(ctx); err != nil {
			c.logger.Debug("periodic will update skipped", slog.String("error", err.Error()))
			c.lastWill.Store(time.Now().UnixNano())
		}
		cancel()
	}
}

func (c *Client) reconnect() {
	if !c.wantConnected.Load() {
		return
	}
	if !c.limiter.AllowReconnect(c.endpoint.String()) {
		return
	}
	c.logger.Info("reconnecting", slog.String("endpoint", c.endpoint.String()))
	if err := c.sess.Connect(); err != nil {
		c.logger.Warn("reconnect failed", slog.String("error", err.Error()))
	}
}
