// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
)

// txn issues broker operations and remembers how to undo them. Local state is
// only touched once every broker operation of a transaction succeeded.
type txn struct {
	broker Broker
	logger *slog.Logger
	undo   []func(context.Context) error
}

func (s *Set) begin() *txn {
	return &txn{broker: s.broker, logger: s.logger}
}

func (t *txn) subscribe(ctx context.Context, pattern string, qos byte) error {
	if err := t.broker.Subscribe(ctx, pattern, qos); err != nil {
		return fmt.Errorf("%w: subscribe %q: %w", ErrTransport, pattern, err)
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		return t.broker.Unsubscribe(ctx, pattern)
	})
	return nil
}

func (t *txn) unsubscribe(ctx context.Context, pattern string, qos byte) error {
	if err := t.broker.Unsubscribe(ctx, pattern); err != nil {
		return fmt.Errorf("%w: unsubscribe %q: %w", ErrTransport, pattern, err)
	}
	t.undo = append(t.undo, func(ctx context.Context) error {
		return t.broker.Subscribe(ctx, pattern, qos)
	})
	return nil
}

// rollback undoes the completed broker operations in reverse order. It runs even
// when ctx is already canceled.
func (t *txn) rollback(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](ctx); err != nil {
			t.logger.Warn("rollback step failed", slog.String("error", err.Error()))
		}
	}
	t.undo = nil
}
