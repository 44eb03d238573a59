// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/absmach/mqttscope/topics"
)

// SplitOut removes leaf from the wildcard subscription from. The known siblings
// of leaf are subscribed individually, their topics move over with their
// buffers intact, and from is unsubscribed. The leaf's own topics are deleted,
// or kept detached from any subscription when keepLeaf is set.
//
// Only siblings already seen on the broker are resubscribed.
func (s *Set) SplitOut(ctx context.Context, leaf, from string, keepLeaf bool) error {
	sub, ok := s.subs[from]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, from)
	}
	if err := topics.ValidatePattern(leaf); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPattern, leaf)
	}
	if leaf == from || !topics.HasWildcard(from) || !inside(from, leaf) {
		return fmt.Errorf("%w: %q is not inside %q", ErrNotFound, leaf, from)
	}

	known := newKnownTree(s.knownNames())
	pieces := uniq(decompose(known, from, leaf))

	tx := s.begin()
	for _, p := range pieces {
		if err := tx.subscribe(ctx, p, sub.QoS); err != nil {
			tx.rollback(ctx)
			return err
		}
	}
	if err := tx.unsubscribe(ctx, from, sub.QoS); err != nil {
		tx.rollback(ctx)
		return err
	}

	var changes changeLog
	for _, p := range pieces {
		s.add(p, sub.QoS)
		changes.added(p)
	}

	var removed int
	for _, name := range s.store.TopicsOf(from) {
		t, ok := s.store.Get(name)
		if !ok {
			continue
		}
		if target := coveringPiece(pieces, leaf, name); target != "" {
			_ = s.store.Reparent(t, from, target)
			continue
		}
		removed++
		if keepLeaf {
			_ = s.store.Reparent(t, from, "")
			continue
		}
		s.store.Remove(name)
	}
	s.drop(from)
	changes.removed(from)
	s.metrics.RecordSplit()

	s.logger.Info("subscription split",
		slog.String("pattern", from),
		slog.String("leaf", leaf),
		slog.Any("siblings", pieces),
		slog.Int("leaf_topics", removed),
		slog.Bool("keep_leaf", keepLeaf))

	if err := s.consolidate(ctx, &changes); err != nil {
		s.logger.Warn("consolidation after split failed",
			slog.String("pattern", from),
			slog.String("error", err.Error()))
	}
	s.emitChanged(changes)
	return nil
}

// decompose returns the patterns that together cover what pattern covers among
// the known topics, minus leaf. The first wildcard level is expanded into one
// pattern per known child; the child holding leaf is expanded further.
func decompose(known *knownTree, pattern, leaf string) []string {
	levels := topics.Levels(pattern)
	w := topics.FirstWildcard(pattern)
	if w < 0 {
		return nil
	}

	prefix := levels[:w]
	exact, deeper, parent := known.children(levels, w)

	var cands []string
	if parent {
		cands = append(cands, topics.Join(prefix))
	}
	for _, v := range exact {
		c := withLevel(levels, w, v)
		if levels[w] == topics.MultiLevel {
			c = withLevel(levels[:w+1], w, v)
		}
		cands = append(cands, c)
	}
	for _, v := range deeper {
		cands = append(cands, topics.Join(append(append([]string{}, prefix...), v, topics.MultiLevel)))
	}

	var pieces []string
	for _, c := range cands {
		switch {
		case c == leaf:
		case topics.Contains(leaf, c):
		case topics.HasWildcard(c) && inside(c, leaf):
			pieces = append(pieces, decompose(known, c, leaf)...)
		default:
			pieces = append(pieces, c)
		}
	}
	return pieces
}

// uniq drops repeated patterns, keeping the first occurrence. A topic that has
// both its own messages and children is reached twice under '#'.
func uniq(patterns []string) []string {
	seen := make(map[string]struct{}, len(patterns))
	out := patterns[:0]
	for _, p := range patterns {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// inside reports whether leaf lies within pattern, counting the parent level
// a trailing '#' also receives.
func inside(pattern, leaf string) bool {
	if topics.Contains(pattern, leaf) {
		return true
	}
	return !topics.HasWildcard(leaf) && topics.TopicMatch(pattern, leaf)
}

func withLevel(levels []string, i int, value string) string {
	out := append([]string{}, levels...)
	out[i] = value
	return topics.Join(out)
}

// coveringPiece returns the piece a topic moves to, or "" for the leaf's topics.
func coveringPiece(pieces []string, leaf, topic string) string {
	if topic == leaf || topics.Contains(leaf, topic) {
		return ""
	}
	for _, p := range pieces {
		if p == topic {
			return p
		}
	}
	for _, p := range pieces {
		if topics.TopicMatch(p, topic) {
			return p
		}
	}
	return ""
}
