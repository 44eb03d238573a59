// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"sort"
	"sync"

	"github.com/absmach/mqttscope/session"
)

// fakeBroker is a transport that acknowledges everything at once and keeps the
// broker-side filter set.
type fakeBroker struct {
	mu       sync.Mutex
	h        session.Handlers
	connects []session.ConnectOptions
	filters  map[string]byte
	pubs     []string
}

func (b *fakeBroker) Connect(opts session.ConnectOptions) error {
	b.mu.Lock()
	b.connects = append(b.connects, opts)
	b.mu.Unlock()
	b.h.OnConnect()
	return nil
}

func (b *fakeBroker) Disconnect() {}

func (b *fakeBroker) Subscribe(_ context.Context, filter string, qos byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.filters[filter] = qos
	return nil
}

func (b *fakeBroker) Unsubscribe(_ context.Context, filter string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.filters, filter)
	return nil
}

func (b *fakeBroker) Publish(_ context.Context, topic string, _ []byte, _ byte, _ bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pubs = append(b.pubs, topic)
	return nil
}

func (b *fakeBroker) send(topic, payload string) {
	b.h.OnMessage(topic, []byte(payload), false)
}

func (b *fakeBroker) patterns() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.filters))
	for f := range b.filters {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func (b *fakeBroker) lastConnect() session.ConnectOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.connects) == 0 {
		return session.ConnectOptions{}
	}
	return b.connects[len(b.connects)-1]
}

func (b *fakeBroker) connectCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.connects)
}

type fakeDialer struct {
	mu      sync.Mutex
	brokers []*fakeBroker
}

func (d *fakeDialer) dial(_ session.Endpoint, h session.Handlers) (session.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := &fakeBroker{h: h, filters: make(map[string]byte)}
	d.brokers = append(d.brokers, b)
	return b, nil
}

func (d *fakeDialer) broker() *fakeBroker {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.brokers[0]
}
