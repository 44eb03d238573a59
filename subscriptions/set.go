// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package subscriptions maintains the minimal, non-overlapping set of broker
// subscriptions that covers what the user asked for, and routes incoming
// messages to the topic buffers those subscriptions own.
//
// A Set is not safe for concurrent use. Every call, message routing included,
// must come from the single goroutine that owns the broker session.
package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/absmach/mqttscope/events"
	"github.com/absmach/mqttscope/metrics"
	"github.com/absmach/mqttscope/store"
	"github.com/absmach/mqttscope/topics"
)

// Broker registers and removes subscriptions on the broker. Both calls block
// until the broker acknowledged the request or it failed.
type Broker interface {
	Subscribe(ctx context.Context, pattern string, qos byte) error
	Unsubscribe(ctx context.Context, pattern string) error
}

// Options are the per-subscription settings passed to Subscribe.
type Options struct {
	QoS byte
}

// Subscription is one pattern registered with the broker.
type Subscription struct {
	Pattern string
	QoS     byte
}

// Entry is the persisted form of a subscription and the topics it owns.
type Entry struct {
	Pattern string
	QoS     byte
	Topics  []string
}

// Config holds the collaborators of a Set. Store and Broker are required.
type Config struct {
	Store  *store.Store
	Broker Broker

	// Known returns topic names seen on the broker outside this set, such as
	// the ones reported by a discovery connection. Optional.
	Known func() []string

	// Notify receives events. Optional.
	Notify func(events.Event)

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Set is the SubscriptionSet.
type Set struct {
	store   *store.Store
	broker  Broker
	known   func() []string
	notify  func(events.Event)
	metrics *metrics.Metrics
	logger  *slog.Logger

	subs  map[string]*Subscription
	index *index

	// seen holds every topic routed through the set, including topics whose
	// buffers were deleted since.
	seen map[string]struct{}
}

// New creates an empty Set.
func New(cfg Config) *Set {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Set{
		store:   cfg.Store,
		broker:  cfg.Broker,
		known:   cfg.Known,
		notify:  cfg.Notify,
		metrics: cfg.Metrics,
		logger:  logger,
		subs:    make(map[string]*Subscription),
		index:   newIndex(),
		seen:    make(map[string]struct{}),
	}
}

// Subscriptions returns the active subscriptions sorted by pattern.
func (s *Set) Subscriptions() []Subscription {
	out := make([]Subscription, 0, len(s.subs))
	for _, key := range s.keys() {
		out = append(out, *s.subs[key])
	}
	return out
}

// Get returns the subscription registered under pattern.
func (s *Set) Get(pattern string) (Subscription, bool) {
	sub, ok := s.subs[pattern]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Len returns the number of active subscriptions.
func (s *Set) Len() int {
	return len(s.subs)
}

// Topics lists the topics owned by a subscription in discovery order.
func (s *Set) Topics(pattern string) []string {
	return s.store.TopicsOf(pattern)
}

// Owner returns the subscription owning a topic.
func (s *Set) Owner(topic string) (string, bool) {
	t, ok := s.store.Get(topic)
	if !ok || t.Owner() == "" {
		return "", false
	}
	return t.Owner(), true
}

// Subscribe registers pattern with the broker. Existing subscriptions that the
// pattern contains are absorbed into it, and the set is consolidated afterwards.
// Subscribing to a pattern that already exists is a no-op.
func (s *Set) Subscribe(ctx context.Context, pattern string, opts Options) error {
	if err := topics.ValidatePattern(pattern); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, pattern)
	}
	if opts.QoS > 2 {
		return ErrInvalidQoS
	}
	if _, ok := s.subs[pattern]; ok {
		return nil
	}

	var inferior []string
	for _, key := range s.keys() {
		if topics.Contains(key, pattern) {
			return fmt.Errorf("%w: %q is covered by %q", ErrAlreadyCovered, pattern, key)
		}
		if topics.Contains(pattern, key) {
			inferior = append(inferior, key)
		}
	}

	tx := s.begin()
	if err := tx.subscribe(ctx, pattern, opts.QoS); err != nil {
		return err
	}
	for _, key := range inferior {
		if err := tx.unsubscribe(ctx, key, s.subs[key].QoS); err != nil {
			tx.rollback(ctx)
			return err
		}
	}

	var changes changeLog
	s.add(pattern, opts.QoS)
	changes.added(pattern)
	for _, key := range inferior {
		s.moveTopics(key, pattern)
		s.drop(key)
		changes.removed(key)
	}
	s.adoptDetached(pattern)

	s.logger.Info("subscribed",
		slog.String("pattern", pattern),
		slog.Int("qos", int(opts.QoS)),
		slog.Int("absorbed", len(inferior)))

	if err := s.consolidate(ctx, &changes); err != nil {
		s.logger.Warn("consolidation after subscribe failed",
			slog.String("pattern", pattern),
			slog.String("error", err.Error()))
	}
	s.emitChanged(changes)
	return nil
}

// Unsubscribe removes the subscription registered under pattern. The topics it
// owns are deleted together with their buffers.
func (s *Set) Unsubscribe(ctx context.Context, pattern string) error {
	if _, ok := s.subs[pattern]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, pattern)
	}
	if err := s.broker.Unsubscribe(ctx, pattern); err != nil {
		return fmt.Errorf("%w: unsubscribe %q: %w", ErrTransport, pattern, err)
	}

	owned := s.store.TopicsOf(pattern)
	for _, name := range owned {
		s.store.Remove(name)
	}
	s.drop(pattern)

	s.logger.Info("unsubscribed",
		slog.String("pattern", pattern),
		slog.Int("topics_deleted", len(owned)))

	var changes changeLog
	changes.removed(pattern)
	s.emitChanged(changes)
	return nil
}

// ReparentTopic moves a topic to another existing subscription without any
// broker traffic.
func (s *Set) ReparentTopic(topic, target string) error {
	t, ok := s.store.Get(topic)
	if !ok {
		return fmt.Errorf("%w: topic %q", ErrNotFound, topic)
	}
	if _, ok := s.subs[target]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, target)
	}
	from := t.Owner()
	if err := s.store.Reparent(t, from, target); err != nil {
		return err
	}
	s.logger.Debug("topic reparented",
		slog.String("topic", topic),
		slog.String("from", from),
		slog.String("to", target))
	return nil
}

// Snapshot returns every subscription with the topics it owns, sorted by pattern.
func (s *Set) Snapshot() []Entry {
	entries := make([]Entry, 0, len(s.subs))
	for _, key := range s.keys() {
		entries = append(entries, Entry{
			Pattern: key,
			QoS:     s.subs[key].QoS,
			Topics:  s.store.TopicsOf(key),
		})
	}
	return entries
}

// Restore loads persisted subscriptions without talking to the broker and
// without re-deriving merges. Topics are created empty under their owner.
// Nothing is restored when any entry is invalid.
func (s *Set) Restore(entries []Entry) error {
	patterns := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if err := topics.ValidatePattern(e.Pattern); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidPattern, e.Pattern)
		}
		if e.QoS > 2 {
			return ErrInvalidQoS
		}
		if _, ok := patterns[e.Pattern]; ok {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, e.Pattern)
		}
		if _, ok := s.subs[e.Pattern]; ok {
			return fmt.Errorf("%w: %q", ErrAlreadyExists, e.Pattern)
		}
		patterns[e.Pattern] = struct{}{}
	}

	var changes changeLog
	for _, e := range entries {
		s.add(e.Pattern, e.QoS)
		changes.added(e.Pattern)

		for _, name := range e.Topics {
			t, _, err := s.store.Observe(name)
			if err != nil {
				s.logger.Warn("skipping invalid persisted topic",
					slog.String("pattern", e.Pattern),
					slog.String("topic", name))
				continue
			}
			if err := s.store.Reparent(t, t.Owner(), e.Pattern); err != nil {
				return err
			}
			s.seen[name] = struct{}{}
		}
	}

	s.logger.Info("subscriptions restored", slog.Int("count", len(entries)))
	s.emitChanged(changes)
	return nil
}

func (s *Set) keys() []string {
	keys := make([]string, 0, len(s.subs))
	for key := range s.subs {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (s *Set) add(pattern string, qos byte) {
	s.subs[pattern] = &Subscription{Pattern: pattern, QoS: qos}
	s.index.insert(pattern)
	s.metrics.AddSubscriptions(1)
}

// drop forgets a subscription. Its topics must have been moved or removed first.
func (s *Set) drop(pattern string) {
	delete(s.subs, pattern)
	s.index.remove(pattern)
	s.metrics.AddSubscriptions(-1)
}

func (s *Set) moveTopics(from, to string) {
	for _, name := range s.store.TopicsOf(from) {
		if t, ok := s.store.Get(name); ok {
			_ = s.store.Reparent(t, from, to)
		}
	}
}

// adoptDetached hands detached topics matched by pattern to it.
func (s *Set) adoptDetached(pattern string) {
	for _, name := range s.store.Detached() {
		if !topics.TopicMatch(pattern, name) {
			continue
		}
		if t, ok := s.store.Get(name); ok {
			_ = s.store.Reparent(t, "", pattern)
		}
	}
}

// knownNames is every topic name known to exist: routed topics, stored topics,
// externally discovered topics and concrete subscription patterns.
func (s *Set) knownNames() []string {
	names := make([]string, 0, len(s.seen)+len(s.subs))
	for name := range s.seen {
		names = append(names, name)
	}
	names = append(names, s.store.Names()...)
	if s.known != nil {
		names = append(names, s.known()...)
	}
	for key := range s.subs {
		if !topics.HasWildcard(key) {
			names = append(names, key)
		}
	}
	return names
}

func (s *Set) emit(e events.Event) {
	if s.notify != nil {
		s.notify(e)
	}
}

func (s *Set) emitChanged(c changeLog) {
	added, removed := c.result()
	if len(added) == 0 && len(removed) == 0 {
		return
	}
	s.emit(events.SubscriptionsChanged{
		Subscriptions: s.keys(),
		Added:         added,
		Removed:       removed,
	})
}

// changeLog nets out subscriptions added and removed within one operation.
type changeLog struct {
	net map[string]int
}

func (c *changeLog) added(pattern string)   { c.bump(pattern, 1) }
func (c *changeLog) removed(pattern string) { c.bump(pattern, -1) }

func (c *changeLog) bump(pattern string, delta int) {
	if c.net == nil {
		c.net = make(map[string]int)
	}
	c.net[pattern] += delta
}

func (c changeLog) result() (added, removed []string) {
	for pattern, n := range c.net {
		switch {
		case n > 0:
			added = append(added, pattern)
		case n < 0:
			removed = append(removed, pattern)
		}
	}
	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}
