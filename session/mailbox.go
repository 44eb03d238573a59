// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// mailbox is the unbounded FIFO feeding the session goroutine. Pushing never
// blocks, so transport callbacks cannot stall behind a running operation.
type mailbox struct {
	mu     sync.Mutex
	items  []func()
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push enqueues fn. It returns false once the mailbox is closed.
func (m *mailbox) push(fn func()) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, fn)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// drain takes every queued item.
func (m *mailbox) drain() []func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items
	m.items = nil
	return items
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()
}
