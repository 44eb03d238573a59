// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"

	"github.com/absmach/mqttscope/events"
)

// SubscriberOptions configure a logical client attached to a session.
type SubscriberOptions struct {
	// OnMessage receives messages on the filters the subscriber holds. It runs
	// on the session goroutine.
	OnMessage func(topic string, payload []byte, retained bool)

	// OnEvent receives connection events. It runs on the session goroutine.
	OnEvent func(events.Event)

	// AcceptRetained lets retained messages through; they are dropped otherwise.
	AcceptRetained bool
}

type subscriber struct {
	id             uint64
	onMessage      func(topic string, payload []byte, retained bool)
	onEvent        func(events.Event)
	acceptRetained bool
}

// Conn is one logical client's view of a shared session. Subscribe,
// Unsubscribe and Track must run on the session goroutine, inside Exec or a
// subscriber callback.
type Conn struct {
	s  *Session
	id uint64
}

// Attach registers a subscriber on the session.
func (s *Session) Attach(ctx context.Context, opts SubscriberOptions) (*Conn, error) {
	var c *Conn
	err := s.Exec(ctx, func(context.Context) error {
		s.nextID++
		s.subscribers[s.nextID] = &subscriber{
			id:             s.nextID,
			onMessage:      opts.OnMessage,
			onEvent:        opts.OnEvent,
			acceptRetained: opts.AcceptRetained,
		}
		c = &Conn{s: s, id: s.nextID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Session returns the shared session.
func (c *Conn) Session() *Session {
	return c.s
}

// Exec runs fn on the session goroutine.
func (c *Conn) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.s.Exec(ctx, fn)
}

// KnownTopics lists the topic names seen on the session.
func (c *Conn) KnownTopics() []string {
	return c.s.KnownTopics()
}

// Subscribe holds filter for this subscriber. SUBSCRIBE goes to the broker
// only for the first holder or a QoS upgrade.
func (c *Conn) Subscribe(ctx context.Context, filter string, qos byte) error {
	s := c.s
	rec, existed := s.filters.get(filter)
	var prevQoS byte
	var held bool
	if existed {
		prevQoS, held = rec.owners[c.id]
	}

	want, send := s.filters.add(c.id, filter, qos)
	if !send {
		return nil
	}

	err := s.call(KindSubscribe, filter, func() error {
		return s.transport.Subscribe(ctx, filter, want)
	})
	if err != nil {
		if held {
			rec.owners[c.id] = prevQoS
		} else {
			s.filters.remove(c.id, filter)
		}
		return err
	}

	rec, _ = s.filters.get(filter)
	rec.qos = want
	s.logger.Debug("filter subscribed", slog.String("filter", filter), slog.Int("qos", int(want)))
	return nil
}

// Unsubscribe releases filter for this subscriber. UNSUBSCRIBE goes to the
// broker when the last holder releases it.
func (c *Conn) Unsubscribe(ctx context.Context, filter string) error {
	s := c.s
	rec, ok := s.filters.get(filter)
	if !ok {
		return nil
	}
	qos, held := rec.owners[c.id]
	if !held {
		return nil
	}
	if !s.filters.remove(c.id, filter) {
		return nil
	}

	err := s.call(KindUnsubscribe, filter, func() error {
		return s.transport.Unsubscribe(ctx, filter)
	})
	if err != nil {
		rec.owners[c.id] = qos
		s.filters.filters[filter] = rec
		return err
	}
	s.logger.Debug("filter unsubscribed", slog.String("filter", filter))
	return nil
}

// Track holds filter without waiting for the broker. The filter is subscribed
// now when connected and on every connect; failures are reported as events.
func (c *Conn) Track(filter string, qos byte) {
	s := c.s
	want, send := s.filters.add(c.id, filter, qos)
	if !send {
		return
	}
	rec, _ := s.filters.get(filter)
	rec.qos = want
	if !s.state.isConnected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.OpTimeout)
	defer cancel()
	if err := s.call(KindSubscribe, filter, func() error {
		return s.transport.Subscribe(ctx, filter, want)
	}); err != nil {
		s.reportFailure(err)
	}
}

// Publish sends a message. It may be called from any goroutine.
func (c *Conn) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	s := c.s
	return s.call(KindPublish, topic, func() error {
		return s.transport.Publish(ctx, topic, payload, qos, retain)
	})
}

// Filters lists the filters this subscriber holds. It must run on the session
// goroutine.
func (c *Conn) Filters() []string {
	return c.s.filters.owned(c.id)
}

// Detach releases every filter of the subscriber and removes it from the
// session. Filters nobody else holds are unsubscribed on a best-effort basis.
func (c *Conn) Detach(ctx context.Context) error {
	s := c.s
	return s.Exec(ctx, func(ctx context.Context) error {
		for _, filter := range s.filters.owned(c.id) {
			if !s.filters.remove(c.id, filter) || !s.state.isConnected() {
				continue
			}
			if err := s.call(KindUnsubscribe, filter, func() error {
				return s.transport.Unsubscribe(ctx, filter)
			}); err != nil {
				s.logger.Warn("failed to release filter",
					slog.String("filter", filter),
					slog.String("error", err.Error()))
			}
		}
		delete(s.subscribers, c.id)
		return nil
	})
}
