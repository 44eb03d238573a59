// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/absmach/mqttscope/events"
	"github.com/absmach/mqttscope/store"
	"github.com/absmach/mqttscope/topics"
)

// Route delivers a message to the buffer of its topic, creating the topic under
// the subscription that matches it on first sight. A topic keeps the owner it
// was explicitly reparented to for as long as that subscription exists.
//
// Messages matching no subscription return ErrNotFound. A payload the decoder
// rejects is still buffered; the failure is reported on the MessageArrived event.
func (s *Set) Route(topic string, payload []byte, retained bool) (store.Record, error) {
	if err := topics.ValidateTopicName(topic); err != nil {
		s.metrics.RecordDropped("invalid_topic")
		return store.Record{}, fmt.Errorf("%w: %q", err, topic)
	}
	s.seen[topic] = struct{}{}

	owner := s.match(topic)
	if owner == "" {
		s.metrics.RecordDropped("unmatched")
		s.logger.Debug("message matches no subscription", slog.String("topic", topic))
		return store.Record{}, fmt.Errorf("%w: no subscription for %q", ErrNotFound, topic)
	}

	t, created, err := s.store.Observe(topic)
	if err != nil {
		return store.Record{}, err
	}
	if current := t.Owner(); current != owner {
		if _, ok := s.subs[current]; ok {
			owner = current
		} else {
			_ = s.store.Reparent(t, current, owner)
		}
	}
	if created {
		s.metrics.RecordTopicDiscovered()
		s.logger.Debug("topic discovered",
			slog.String("topic", topic),
			slog.String("subscription", owner))
		s.emit(events.TopicDiscovered{Name: topic, Subscription: owner})
	}

	rec, err := s.store.Append(t, payload, retained)
	arrived := events.MessageArrived{
		Name:         topic,
		Subscription: owner,
		Seq:          rec.Seq,
		PayloadSize:  len(payload),
		Retained:     retained,
	}
	if err != nil {
		arrived.DecodeError = err.Error()
		s.logger.Warn("payload decode failed",
			slog.String("topic", topic),
			slog.String("error", err.Error()))
	}
	s.metrics.RecordRouted(retained)
	s.emit(arrived)
	return rec, nil
}

// match picks the subscription that owns a new topic: the exact pattern if one
// exists, else the first matching pattern in sorted order.
func (s *Set) match(topic string) string {
	matched := s.index.match(topic)
	if len(matched) == 0 {
		return ""
	}
	for _, p := range matched {
		if p == topic {
			return p
		}
	}
	sort.Strings(matched)
	return matched[0]
}
