// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/absmach/mqttscope/topics"
)

// candidate is a wildcard pattern that could replace its member subscriptions.
type candidate struct {
	pattern string
	level   int
	members map[string]struct{}
}

func (c *candidate) sortedMembers() []string {
	members := make([]string, 0, len(c.members))
	for m := range c.members {
		members = append(members, m)
	}
	sort.Strings(members)
	return members
}

// Consolidate merges sibling subscriptions into '+' subscriptions for as long
// as a merge is possible. A merge happens only when every known sibling under
// the merged pattern is already one of the members.
func (s *Set) Consolidate(ctx context.Context) error {
	var changes changeLog
	err := s.consolidate(ctx, &changes)
	s.emitChanged(changes)
	return err
}

func (s *Set) consolidate(ctx context.Context, changes *changeLog) error {
	for {
		merged, err := s.mergeOnce(ctx, changes)
		if err != nil || !merged {
			return err
		}
	}
}

// mergeOnce performs the first legal merge, lowest wildcard level first.
func (s *Set) mergeOnce(ctx context.Context, changes *changeLog) (bool, error) {
	cands := s.candidates()
	if len(cands) == 0 {
		return false, nil
	}

	known := newKnownTree(s.knownNames())
	for _, c := range cands {
		if err := s.checkMerge(known, c); err != nil {
			s.logger.Debug("merge candidate skipped",
				slog.String("pattern", c.pattern),
				slog.Int("members", len(c.members)),
				slog.String("reason", err.Error()))
			continue
		}
		if err := s.merge(ctx, c, changes); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

// candidates groups every pair of subscriptions with a common level by the
// pattern they would merge into.
func (s *Set) candidates() []*candidate {
	keys := s.keys()
	byPattern := make(map[string]*candidate)
	for i := range keys {
		for j := i + 1; j < len(keys); j++ {
			pattern, level, ok := topics.CommonLevel(keys[i], keys[j])
			if !ok {
				continue
			}
			c, ok := byPattern[pattern]
			if !ok {
				c = &candidate{pattern: pattern, level: level, members: make(map[string]struct{})}
				byPattern[pattern] = c
			}
			c.members[keys[i]] = struct{}{}
			c.members[keys[j]] = struct{}{}
		}
	}

	cands := make([]*candidate, 0, len(byPattern))
	for _, c := range byPattern {
		cands = append(cands, c)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].level != cands[j].level {
			return cands[i].level < cands[j].level
		}
		return cands[i].pattern < cands[j].pattern
	})
	return cands
}

// checkMerge returns ErrMergeRejected unless the known siblings at the
// candidate's wildcard level are exactly its members.
func (s *Set) checkMerge(known *knownTree, c *candidate) error {
	for key := range s.subs {
		if _, member := c.members[key]; member {
			continue
		}
		if topics.Contains(key, c.pattern) || topics.Contains(c.pattern, key) {
			return fmt.Errorf("%w: overlaps %q", ErrMergeRejected, key)
		}
	}

	siblings, ok := known.siblings(c.pattern, c.level)
	if !ok {
		return fmt.Errorf("%w: siblings disagree on their children", ErrMergeRejected)
	}
	if len(siblings) != len(c.members) {
		return fmt.Errorf("%w: expected %d siblings, have %d members", ErrMergeRejected, len(siblings), len(c.members))
	}
	for m := range c.members {
		if _, ok := siblings[topics.Levels(m)[c.level]]; !ok {
			return fmt.Errorf("%w: member %q is not a known sibling", ErrMergeRejected, m)
		}
	}
	return nil
}

func (s *Set) merge(ctx context.Context, c *candidate, changes *changeLog) error {
	members := c.sortedMembers()
	var qos byte
	for _, m := range members {
		qos = max(qos, s.subs[m].QoS)
	}

	tx := s.begin()
	if err := tx.subscribe(ctx, c.pattern, qos); err != nil {
		return err
	}
	for _, m := range members {
		if err := tx.unsubscribe(ctx, m, s.subs[m].QoS); err != nil {
			tx.rollback(ctx)
			return err
		}
	}

	s.add(c.pattern, qos)
	changes.added(c.pattern)
	for _, m := range members {
		s.moveTopics(m, c.pattern)
		s.drop(m)
		changes.removed(m)
	}
	s.metrics.RecordMerge(len(members))

	s.logger.Info("subscriptions merged",
		slog.String("pattern", c.pattern),
		slog.Any("members", members))
	return nil
}
