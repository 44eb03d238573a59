// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package store

import "container/list"

// topicList is an insertion-ordered set of topic names with O(1) add and remove.
type topicList struct {
	order *list.List
	index map[string]*list.Element
}

func newTopicList() *topicList {
	return &topicList{
		order: list.New(),
		index: make(map[string]*list.Element),
	}
}

func (l *topicList) add(name string) {
	if _, ok := l.index[name]; ok {
		return
	}
	l.index[name] = l.order.PushBack(name)
}

func (l *topicList) remove(name string) {
	if e, ok := l.index[name]; ok {
		l.order.Remove(e)
		delete(l.index, name)
	}
}

func (l *topicList) len() int {
	return len(l.index)
}

func (l *topicList) names() []string {
	names := make([]string, 0, len(l.index))
	for e := l.order.Front(); e != nil; e = e.Next() {
		names = append(names, e.Value.(string))
	}
	return names
}
