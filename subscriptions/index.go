// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package subscriptions

import (
	"strings"

	"github.com/absmach/mqttscope/topics"
)

// index is a trie of subscription patterns answering "which patterns would the
// broker deliver this topic for".
type index struct {
	root *node
}

type node struct {
	children map[string]*node
	pattern  string // non-empty when a subscription ends at this level
}

func newIndex() *index {
	return &index{root: newNode()}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

func (x *index) insert(pattern string) {
	n := x.root
	for _, level := range topics.Levels(pattern) {
		child, ok := n.children[level]
		if !ok {
			child = newNode()
			n.children[level] = child
		}
		n = child
	}
	n.pattern = pattern
}

func (x *index) remove(pattern string) {
	levels := topics.Levels(pattern)
	path := make([]*node, 0, len(levels)+1)
	n := x.root
	path = append(path, n)
	for _, level := range levels {
		child, ok := n.children[level]
		if !ok {
			return
		}
		n = child
		path = append(path, n)
	}
	n.pattern = ""

	// Prune empty branches bottom-up.
	for i := len(levels) - 1; i >= 0; i-- {
		child := path[i+1]
		if child.pattern != "" || len(child.children) > 0 {
			return
		}
		delete(path[i].children, levels[i])
	}
}

// match returns the patterns matching the topic.
func (x *index) match(topic string) []string {
	var matched []string
	levels := topics.Levels(topic)
	system := strings.HasPrefix(topic, "$")
	matchLevel(x.root, levels, 0, system, &matched)
	return matched
}

func matchLevel(n *node, levels []string, i int, system bool, matched *[]string) {
	wildcards := !(system && i == 0)

	if i == len(levels) {
		// Reached end of topic: exact matches and a '#' matching the parent level.
		if n.pattern != "" {
			*matched = append(*matched, n.pattern)
		}
		if wild, ok := n.children[topics.MultiLevel]; ok && wild.pattern != "" && wildcards {
			*matched = append(*matched, wild.pattern)
		}
		return
	}

	if child, ok := n.children[levels[i]]; ok {
		matchLevel(child, levels, i+1, system, matched)
	}
	if !wildcards {
		return
	}
	if child, ok := n.children[topics.SingleLevel]; ok {
		matchLevel(child, levels, i+1, system, matched)
	}
	if child, ok := n.children[topics.MultiLevel]; ok && child.pattern != "" {
		*matched = append(*matched, child.pattern)
	}
}
