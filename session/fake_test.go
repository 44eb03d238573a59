// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
)

var errBroker = errors.New("broker said no")

type subCall struct {
	filter string
	qos    byte
}

// fakeTransport records calls. With auto set, Connect reports success at once.
type fakeTransport struct {
	mu       sync.Mutex
	h        Handlers
	auto     bool
	connects []ConnectOptions
	subs     []subCall
	unsubs   []string
	pubs     []string
	disconns int
	failSub  bool
}

func (f *fakeTransport) Connect(opts ConnectOptions) error {
	f.mu.Lock()
	f.connects = append(f.connects, opts)
	auto := f.auto
	f.mu.Unlock()
	if auto {
		f.h.OnConnect()
	}
	return nil
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	f.disconns++
	f.mu.Unlock()
}

func (f *fakeTransport) Subscribe(_ context.Context, filter string, qos byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSub {
		return errBroker
	}
	f.subs = append(f.subs, subCall{filter: filter, qos: qos})
	return nil
}

func (f *fakeTransport) Unsubscribe(_ context.Context, filter string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubs = append(f.unsubs, filter)
	return nil
}

func (f *fakeTransport) Publish(_ context.Context, topic string, _ []byte, _ byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pubs = append(f.pubs, topic)
	return nil
}

func (f *fakeTransport) connectCalls() []ConnectOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ConnectOptions(nil), f.connects...)
}

func (f *fakeTransport) subCalls() []subCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]subCall(nil), f.subs...)
}

func (f *fakeTransport) unsubCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubs...)
}

func (f *fakeTransport) setFailSub(v bool) {
	f.mu.Lock()
	f.failSub = v
	f.mu.Unlock()
}

// fakeDialer hands out the main transport first and the discovery one second.
type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	auto       bool
}

func (d *fakeDialer) dial(_ Endpoint, h Handlers) (Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t := &fakeTransport{h: h, auto: d.auto}
	d.transports = append(d.transports, t)
	return t, nil
}

func (d *fakeDialer) get(i int) *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.transports[i]
}
