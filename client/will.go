// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/mqttscope/decoder"
	"github.com/absmach/mqttscope/session"
	"github.com/absmach/mqttscope/storage"
)

// UpdateWill recomputes the will from the topic tree and hands it to the
// session. While connected the session reconnects to apply it.
//
// The will belongs to the shared connection, so with several clients on one
// session the last update wins.
func (c *Client) UpdateWill(ctx context.Context) error {
	if !c.willEnabled.Load() {
		return ErrWillDisabled
	}

	var will *session.Will
	err := c.exec(ctx, "client.update_will", c.opts.Will.Topic, func(context.Context) error {
		var err error
		will, err = c.computeWill()
		return err
	})
	if err != nil {
		return err
	}

	c.lastWill.Store(time.Now().UnixNano())
	c.logger.Debug("will updated",
		slog.String("topic", will.Topic),
		slog.Int("payload_size", len(will.Payload)))
	c.persistWill(will)
	return c.sess.UpdateWill(will)
}

// restoreWill applies the will saved by a previous run. It is used on connect
// when the will can not be computed yet.
func (c *Client) restoreWill() error {
	if c.opts.WillStore == nil {
		return ErrWillUnavailable
	}
	saved, err := c.opts.WillStore.Get(c.clientID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrWillUnavailable
		}
		return err
	}
	if saved.Topic != c.opts.Will.Topic {
		return ErrWillUnavailable
	}

	c.logger.Info("using persisted will", slog.Time("updated_at", saved.UpdatedAt))
	return c.sess.UpdateWill(&session.Will{
		Topic:   saved.Topic,
		Payload: saved.Payload,
		QoS:     saved.QoS,
		Retain:  saved.Retain,
	})
}

func (c *Client) persistWill(will *session.Will) {
	if c.opts.WillStore == nil {
		return
	}
	err := c.opts.WillStore.Set(&storage.Will{
		ClientID:  c.clientID,
		Topic:     will.Topic,
		Payload:   will.Payload,
		QoS:       will.QoS,
		Retain:    will.Retain,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		c.logger.Warn("failed to persist will", slog.String("error", err.Error()))
	}
}

// DisableWill clears the will and cancels updates that were not applied yet.
func (c *Client) DisableWill() error {
	if c.isClosed() {
		return ErrClientClosed
	}
	c.willEnabled.Store(false)
	return c.sess.UpdateWill(nil)
}

// computeWill runs on the session goroutine.
func (c *Client) computeWill() (*session.Will, error) {
	w := c.opts.Will
	will := &session.Will{
		Topic:  w.Topic,
		QoS:    w.QoS,
		Retain: w.Retain,
	}

	switch w.Type {
	case WillOwn:
		will.Payload = []byte(w.Message)
		return will, nil
	}

	t, ok := c.store.Get(w.StatisticsTopic)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrWillUnavailable, w.StatisticsTopic)
	}

	switch w.Type {
	case WillLastMessage:
		rec, ok := t.Last()
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrWillUnavailable, w.StatisticsTopic)
		}
		will.Payload = rec.Payload
	case WillStatistics:
		summary, err := decoder.Summarize(t.Rows(), w.StatisticsColumn, w.Statistics)
		if errors.Is(err, decoder.ErrNoData) {
			return nil, fmt.Errorf("%w: %q", ErrWillUnavailable, w.StatisticsTopic)
		}
		if err != nil {
			return nil, err
		}
		will.Payload = []byte(summary)
	default:
		return nil, ErrInvalidWillType
	}
	return will, nil
}
