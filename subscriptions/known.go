// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"sort"
	"strings"

	"github.com/absmach/mqttscope/topics"
)

// knownTree is a trie of concrete topic names known to exist on the broker.
type knownTree struct {
	root *knownNode
}

type knownNode struct {
	children map[string]*knownNode
	terminal bool
}

func newKnownNode() *knownNode {
	return &knownNode{children: make(map[string]*knownNode)}
}

func newKnownTree(names []string) *knownTree {
	t := &knownTree{root: newKnownNode()}
	for _, name := range names {
		t.add(name)
	}
	return t
}

func (t *knownTree) add(name string) {
	if topics.HasWildcard(name) {
		return
	}
	n := t.root
	for _, level := range topics.Levels(name) {
		child, ok := n.children[level]
		if !ok {
			child = newKnownNode()
			n.children[level] = child
		}
		n = child
	}
	n.terminal = true
}

// siblings returns the distinct values found at level d of the known topics
// matched by pattern. A '+' level before d must lead to branches that agree on
// how many children they have at d; when they disagree the result is not ok.
func (t *knownTree) siblings(pattern string, d int) (map[string]struct{}, bool) {
	levels := topics.Levels(pattern)
	if d < 0 || d >= len(levels) {
		return nil, false
	}
	return t.root.siblings(levels, 0, d)
}

func (n *knownNode) siblings(levels []string, i, d int) (map[string]struct{}, bool) {
	if i == d {
		values := make(map[string]struct{})
		for value, child := range n.children {
			if i == 0 && strings.HasPrefix(value, "$") {
				continue
			}
			if child.matches(levels[d+1:]) {
				values[value] = struct{}{}
			}
		}
		return values, true
	}

	if levels[i] != topics.SingleLevel {
		child, ok := n.children[levels[i]]
		if !ok {
			return map[string]struct{}{}, true
		}
		return child.siblings(levels, i+1, d)
	}

	union := make(map[string]struct{})
	count := -1
	for value, child := range n.children {
		if i == 0 && strings.HasPrefix(value, "$") {
			continue
		}
		values, ok := child.siblings(levels, i+1, d)
		if !ok {
			return nil, false
		}
		if len(values) == 0 {
			continue
		}
		if count >= 0 && len(values) != count {
			return nil, false
		}
		count = len(values)
		for v := range values {
			union[v] = struct{}{}
		}
	}
	return union, true
}

// matches reports whether some known topic below n matches the remaining levels.
func (n *knownNode) matches(suffix []string) bool {
	if len(suffix) == 0 {
		return n.terminal
	}
	switch suffix[0] {
	case topics.MultiLevel:
		return n.terminal || len(n.children) > 0
	case topics.SingleLevel:
		for _, child := range n.children {
			if child.matches(suffix[1:]) {
				return true
			}
		}
		return false
	default:
		child, ok := n.children[suffix[0]]
		return ok && child.matches(suffix[1:])
	}
}

// children lists the values at level w of the known topics matched by a pattern
// whose first wildcard is at level w. For a '+' at w, exact holds the values whose
// branch matches the rest of the pattern. For a trailing '#', exact holds the
// values that are topics themselves and deeper the values with topics below
// them; parent is true when the prefix before w is itself a known topic.
func (t *knownTree) children(levels []string, w int) (exact, deeper []string, parent bool) {
	n := t.root
	for _, level := range levels[:w] {
		child, ok := n.children[level]
		if !ok {
			return nil, nil, false
		}
		n = child
	}

	multi := levels[w] == topics.MultiLevel
	for value, child := range n.children {
		if w == 0 && strings.HasPrefix(value, "$") {
			continue
		}
		if !multi {
			if child.matches(levels[w+1:]) {
				exact = append(exact, value)
			}
			continue
		}
		if child.terminal {
			exact = append(exact, value)
		}
		if len(child.children) > 0 {
			deeper = append(deeper, value)
		}
	}
	sort.Strings(exact)
	sort.Strings(deeper)
	return exact, deeper, multi && w > 0 && n.terminal
}
