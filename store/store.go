// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package store keeps every concrete topic that has produced data, its bounded
// record buffer, and which subscription owns it.
//
// A Store is not safe for concurrent use. It is owned by one client and mutated
// only from the session goroutine that serializes that client's operations.
package store

import (
	"errors"
	"sort"
	"time"

	"github.com/absmach/mqttscope/decoder"
	"github.com/absmach/mqttscope/topics"
)

// ErrWrongOwner is returned by Reparent when the topic is not owned by the given source.
var ErrWrongOwner = errors.New("topic is not owned by the given subscription")

// Store is the TopicStore: topic name -> Topic, plus an owner index so a
// subscription's topics can be listed in discovery order.
type Store struct {
	keepN   int
	decoder decoder.Decoder
	now     func() time.Time

	seq    uint64
	topics map[string]*Topic
	owners map[string]*topicList
}

// New creates a Store. keepN bounds every topic buffer (0 = unbounded).
// dec may be nil, in which case records carry no rows.
func New(keepN int, dec decoder.Decoder) *Store {
	if keepN < 0 {
		keepN = 0
	}
	return &Store{
		keepN:   keepN,
		decoder: dec,
		now:     time.Now,
		topics:  make(map[string]*Topic),
		owners:  make(map[string]*topicList),
	}
}

// KeepN returns the per-topic retention limit.
func (s *Store) KeepN() int {
	return s.keepN
}

// Observe returns the topic, creating it detached when it has not been seen.
// The boolean is true only when the topic was created by this call.
func (s *Store) Observe(name string) (*Topic, bool, error) {
	if t, ok := s.topics[name]; ok {
		return t, false, nil
	}
	if err := topics.ValidateTopicName(name); err != nil {
		return nil, false, err
	}

	t := newTopic(name, s.keepN)
	s.topics[name] = t
	s.list("").add(name)
	return t, true, nil
}

// Get returns an existing topic.
func (s *Store) Get(name string) (*Topic, bool) {
	t, ok := s.topics[name]
	return t, ok
}

// Len returns the number of topics.
func (s *Store) Len() int {
	return len(s.topics)
}

// Names returns all topic names, sorted.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Append stores a payload on the topic, evicting the oldest record when the
// buffer is full. A decode failure is returned alongside the stored record:
// the raw payload is kept either way.
func (s *Store) Append(t *Topic, payload []byte, retained bool) (Record, error) {
	s.seq++
	rec := Record{
		Seq:      s.seq,
		Payload:  payload,
		Retained: retained,
		Received: s.now(),
	}

	var err error
	if s.decoder != nil {
		rec.Rows, err = s.decoder.Decode(t.name, payload)
	}

	t.push(rec)
	return rec, err
}

// Reparent moves the topic from one owner to another. The topic's buffer and
// decoded rows are untouched. Either owner may be "" (detached).
func (s *Store) Reparent(t *Topic, from, to string) error {
	if t.owner != from {
		return ErrWrongOwner
	}
	if from == to {
		return nil
	}

	s.list(from).remove(t.name)
	s.dropEmpty(from)
	s.list(to).add(t.name)
	t.owner = to
	return nil
}

// Remove deletes a topic and its buffer.
func (s *Store) Remove(name string) {
	t, ok := s.topics[name]
	if !ok {
		return
	}
	s.list(t.owner).remove(name)
	s.dropEmpty(t.owner)
	delete(s.topics, name)
}

// TopicsOf lists the names of the topics owned by a subscription, in discovery order.
func (s *Store) TopicsOf(owner string) []string {
	l, ok := s.owners[owner]
	if !ok {
		return nil
	}
	return l.names()
}

// Detached lists topics not owned by any subscription.
func (s *Store) Detached() []string {
	return s.TopicsOf("")
}

// KnownDescendants returns the topics whose names are covered by the pattern,
// sorted by name.
func (s *Store) KnownDescendants(pattern string) []*Topic {
	var out []*Topic
	for name, t := range s.topics {
		if topics.Contains(pattern, name) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (s *Store) list(owner string) *topicList {
	l, ok := s.owners[owner]
	if !ok {
		l = newTopicList()
		s.owners[owner] = l
	}
	return l
}

func (s *Store) dropEmpty(owner string) {
	if l, ok := s.owners[owner]; ok && l.len() == 0 {
		delete(s.owners, owner)
	}
}
