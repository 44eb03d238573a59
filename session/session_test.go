// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/absmach/mqttscope/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEndpoint = Endpoint{Host: "localhost", Port: 1883}

type recorder struct {
	mu       sync.Mutex
	messages []string
	events   []events.Event
}

func (r *recorder) options(acceptRetained bool) SubscriberOptions {
	return SubscriberOptions{
		OnMessage: func(topic string, _ []byte, _ bool) {
			r.mu.Lock()
			r.messages = append(r.messages, topic)
			r.mu.Unlock()
		},
		OnEvent: func(e events.Event) {
			r.mu.Lock()
			r.events = append(r.events, e)
			r.mu.Unlock()
		},
		AcceptRetained: acceptRetained,
	}
}

func (r *recorder) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *recorder) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func newTestSession(t *testing.T, auto bool, cfg Config) (*Session, *fakeDialer) {
	t.Helper()
	d := &fakeDialer{auto: auto}
	if cfg.Connect.ClientID == "" {
		cfg.Connect.ClientID = "scope"
	}
	s, err := New(testEndpoint, d.dial, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, d
}

func flush(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Exec(context.Background(), func(context.Context) error { return nil }))
}

func connectAndWait(t *testing.T, s *Session) {
	t.Helper()
	require.NoError(t, s.Connect())
	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, 5*time.Millisecond)
}

func attach(t *testing.T, s *Session, r *recorder, acceptRetained bool) *Conn {
	t.Helper()
	c, err := s.Attach(context.Background(), r.options(acceptRetained))
	require.NoError(t, err)
	return c
}

func TestNewWithoutDialer(t *testing.T) {
	_, err := New(testEndpoint, nil, Config{})
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestConnect(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	r := &recorder{}
	attach(t, s, r, false)

	connectAndWait(t, s)
	flush(t, s)

	assert.Equal(t, []string{events.TypeConnected}, r.eventTypes())
	require.Len(t, d.get(0).connectCalls(), 1)
	assert.Equal(t, "scope", d.get(0).connectCalls()[0].ClientID)
}

func TestConnectFailed(t *testing.T) {
	s, d := newTestSession(t, false, Config{})
	r := &recorder{}
	attach(t, s, r, false)

	require.NoError(t, s.Connect())
	flush(t, s)
	d.get(0).h.OnConnectFailed(errBroker)
	flush(t, s)

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, []string{events.TypeTransportFailed}, r.eventTypes())
}

func TestSubscribeSharedFilter(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	connectAndWait(t, s)
	c1 := attach(t, s, &recorder{}, false)
	c2 := attach(t, s, &recorder{}, false)
	ctx := context.Background()

	require.NoError(t, c1.Exec(ctx, func(ctx context.Context) error { return c1.Subscribe(ctx, "a/#", 0) }))
	require.NoError(t, c2.Exec(ctx, func(ctx context.Context) error { return c2.Subscribe(ctx, "a/#", 0) }))
	assert.Equal(t, []subCall{{"a/#", 0}}, d.get(0).subCalls())

	// A higher QoS from another holder upgrades the broker subscription.
	require.NoError(t, c2.Exec(ctx, func(ctx context.Context) error { return c2.Subscribe(ctx, "a/#", 1) }))
	assert.Equal(t, []subCall{{"a/#", 0}, {"a/#", 1}}, d.get(0).subCalls())

	require.NoError(t, c1.Exec(ctx, func(ctx context.Context) error { return c1.Unsubscribe(ctx, "a/#") }))
	assert.Empty(t, d.get(0).unsubCalls())

	require.NoError(t, c2.Exec(ctx, func(ctx context.Context) error { return c2.Unsubscribe(ctx, "a/#") }))
	assert.Equal(t, []string{"a/#"}, d.get(0).unsubCalls())
}

func TestSubscribeNotConnected(t *testing.T) {
	s, _ := newTestSession(t, false, Config{})
	c := attach(t, s, &recorder{}, false)

	var filters []string
	err := c.Exec(context.Background(), func(ctx context.Context) error {
		err := c.Subscribe(ctx, "a/#", 0)
		filters = c.Filters()
		return err
	})

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, KindSubscribe, te.Kind)
	assert.Equal(t, "a/#", te.Topic)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, filters)
}

func TestSubscribeFailureReverts(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	connectAndWait(t, s)
	c := attach(t, s, &recorder{}, false)
	ctx := context.Background()

	require.NoError(t, c.Exec(ctx, func(ctx context.Context) error { return c.Subscribe(ctx, "a/#", 0) }))
	d.get(0).setFailSub(true)

	err := c.Exec(ctx, func(ctx context.Context) error { return c.Subscribe(ctx, "a/#", 2) })
	assert.ErrorIs(t, err, errBroker)
	err = c.Exec(ctx, func(ctx context.Context) error { return c.Subscribe(ctx, "b/#", 0) })
	assert.ErrorIs(t, err, errBroker)

	require.NoError(t, c.Exec(ctx, func(context.Context) error {
		assert.Equal(t, []string{"a/#"}, c.Filters())
		rec, ok := s.filters.get("a/#")
		if assert.True(t, ok) {
			assert.Equal(t, byte(0), rec.owners[c.id])
			assert.Equal(t, byte(0), rec.qos)
		}
		return nil
	}))
}

func TestResubscribeOnConnect(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	c := attach(t, s, &recorder{}, false)

	require.NoError(t, c.Exec(context.Background(), func(context.Context) error {
		c.Track("a/+", 1)
		return nil
	}))
	assert.Empty(t, d.get(0).subCalls())

	connectAndWait(t, s)
	flush(t, s)
	assert.Equal(t, []subCall{{"a/+", 1}}, d.get(0).subCalls())
}

func TestDeliver(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	connectAndWait(t, s)
	strict := &recorder{}
	open := &recorder{}
	c1 := attach(t, s, strict, false)
	c2 := attach(t, s, open, true)
	ctx := context.Background()

	require.NoError(t, c1.Exec(ctx, func(ctx context.Context) error { return c1.Subscribe(ctx, "a/#", 0) }))
	require.NoError(t, c2.Exec(ctx, func(ctx context.Context) error { return c2.Subscribe(ctx, "a/+", 0) }))

	h := d.get(0).h
	h.OnMessage("a/b", []byte("1"), false)
	h.OnMessage("a/c", []byte("2"), true)
	h.OnMessage("a/b/c", []byte("3"), false)
	h.OnMessage("x/y", []byte("4"), false)
	flush(t, s)

	assert.Equal(t, []string{"a/b", "a/b/c"}, strict.topics())
	assert.Equal(t, []string{"a/b", "a/c"}, open.topics())
	assert.Equal(t, []string{"a/b", "a/b/c", "a/c", "x/y"}, s.KnownTopics())
}

func TestDetach(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	connectAndWait(t, s)
	r := &recorder{}
	c1 := attach(t, s, r, false)
	c2 := attach(t, s, &recorder{}, false)
	ctx := context.Background()

	require.NoError(t, c1.Exec(ctx, func(ctx context.Context) error {
		if err := c1.Subscribe(ctx, "a/#", 0); err != nil {
			return err
		}
		return c1.Subscribe(ctx, "b/#", 0)
	}))
	require.NoError(t, c2.Exec(ctx, func(ctx context.Context) error { return c2.Subscribe(ctx, "b/#", 0) }))

	require.NoError(t, c1.Detach(ctx))
	assert.Equal(t, []string{"a/#"}, d.get(0).unsubCalls())

	d.get(0).h.OnMessage("b/x", nil, false)
	flush(t, s)
	assert.Empty(t, r.topics())
}

func TestPublish(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	c := attach(t, s, &recorder{}, false)

	err := c.Publish(context.Background(), "a/b", []byte("x"), 0, false)
	assert.ErrorIs(t, err, ErrNotConnected)

	connectAndWait(t, s)
	require.NoError(t, c.Publish(context.Background(), "a/b", []byte("x"), 0, false))
	assert.Equal(t, []string{"a/b"}, d.get(0).pubs)
}

func TestWillUpdateReconnects(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	r := &recorder{}
	attach(t, s, r, false)
	connectAndWait(t, s)

	will := &Will{Topic: "scope/will", Payload: []byte("gone")}
	require.NoError(t, s.UpdateWill(will))

	require.Eventually(t, func() bool { return len(d.get(0).connectCalls()) == 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return s.State() == StateConnected }, time.Second, 5*time.Millisecond)
	flush(t, s)

	calls := d.get(0).connectCalls()
	assert.Nil(t, calls[0].Will)
	assert.Equal(t, will, calls[1].Will)
	assert.Equal(t, []string{
		events.TypeConnected,
		events.TypeDisconnected,
		events.TypeConnected,
	}, r.eventTypes())
}

func TestWillUpdateWhileDisconnected(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	will := &Will{Topic: "scope/will"}
	require.NoError(t, s.UpdateWill(will))

	connectAndWait(t, s)
	calls := d.get(0).connectCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, will, calls[0].Will)
}

func TestWillMachineCoalesces(t *testing.T) {
	w1 := &Will{Topic: "w/1"}
	w2 := &Will{Topic: "w/2"}
	w3 := &Will{Topic: "w/3"}

	var m willMachine
	require.True(t, m.request(w1, true))
	m.phase = willAwaiting

	assert.False(t, m.request(w2, true))
	assert.False(t, m.request(w3, true))
	require.True(t, m.apply())
	assert.Equal(t, w3, m.current)
	assert.Equal(t, willReconnecting, m.phase)

	// An update that arrives while reconnecting starts another cycle.
	assert.False(t, m.request(w1, true))
	assert.True(t, m.connected())
	assert.Equal(t, willIdle, m.phase)
}

func TestWillMachineDisable(t *testing.T) {
	var m willMachine
	m.current = &Will{Topic: "w/1"}
	m.phase = willAwaiting
	m.request(&Will{Topic: "w/2"}, true)

	m.disable()
	require.True(t, m.apply())
	assert.Nil(t, m.current)
	assert.False(t, m.connected())
}

func TestWillMachineReset(t *testing.T) {
	var m willMachine
	m.phase = willAwaiting
	w := &Will{Topic: "w/1"}
	m.request(w, true)

	m.reset()
	assert.Equal(t, willIdle, m.phase)
	assert.Equal(t, w, m.current)
	assert.False(t, m.apply())
}

func TestDisconnectAllAbandonsConnect(t *testing.T) {
	s, d := newTestSession(t, false, Config{})
	require.NoError(t, s.Connect())
	flush(t, s)
	assert.Equal(t, StateConnecting, s.State())

	require.NoError(t, s.DisconnectAll())
	flush(t, s)
	assert.Equal(t, StateDisconnected, s.State())

	// The broker accepts the abandoned attempt late.
	d.get(0).h.OnConnect()
	flush(t, s)
	assert.Equal(t, StateDisconnected, s.State())
	d.get(0).mu.Lock()
	assert.Equal(t, 2, d.get(0).disconns)
	d.get(0).mu.Unlock()
}

func TestConnectionLost(t *testing.T) {
	s, d := newTestSession(t, true, Config{})
	r := &recorder{}
	attach(t, s, r, false)
	connectAndWait(t, s)

	d.get(0).h.OnConnectionLost(errBroker)
	flush(t, s)

	assert.Equal(t, StateDisconnected, s.State())
	assert.Equal(t, []string{events.TypeConnected, events.TypeDisconnected}, r.eventTypes())
}

func TestDiscovery(t *testing.T) {
	s, d := newTestSession(t, true, Config{DiscoveryFilter: "#"})
	connectAndWait(t, s)

	disc := d.get(1)
	require.Eventually(t, func() bool { return len(disc.subCalls()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, subCall{"#", 0}, disc.subCalls()[0])

	dopts := disc.connectCalls()[0]
	assert.Equal(t, "scope-discovery", dopts.ClientID)
	assert.True(t, dopts.CleanSession)
	assert.Nil(t, dopts.Will)

	disc.h.OnMessage("x/y", nil, false)
	assert.Equal(t, []string{"x/y"}, s.KnownTopics())
}

func TestExecCanceled(t *testing.T) {
	s, _ := newTestSession(t, false, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := s.Exec(ctx, func(context.Context) error {
		ran = true
		return nil
	})
	flush(t, s)
	if err != nil {
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, ran)
	}
}

func TestClose(t *testing.T) {
	d := &fakeDialer{auto: true}
	s, err := New(testEndpoint, d.dial, Config{})
	require.NoError(t, err)
	connectAndWait(t, s)

	s.Close()
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Connect(), ErrSessionClosed)
	assert.ErrorIs(t, s.DisconnectAll(), ErrSessionClosed)
	assert.ErrorIs(t, s.Exec(context.Background(), func(context.Context) error { return nil }), ErrSessionClosed)
	s.Close()
}

func TestStateManager(t *testing.T) {
	sm := newStateManager()
	assert.Equal(t, StateDisconnected, sm.get())

	assert.False(t, sm.transitionFrom(StateDisconnecting, StateConnected, StateConnecting))
	assert.Equal(t, StateDisconnected, sm.get())

	require.True(t, sm.transition(StateDisconnected, StateConnecting))
	assert.True(t, sm.transitionFrom(StateDisconnecting, StateConnected, StateConnecting))
	assert.Equal(t, StateDisconnecting, sm.get())

	assert.False(t, sm.isClosed())
	sm.set(StateClosed)
	assert.True(t, sm.isClosed())
	assert.False(t, sm.isConnected())
}

func TestRegistry(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, nil, nil)

	s1, err := reg.Acquire(testEndpoint, Config{})
	require.NoError(t, err)
	s2, err := reg.Acquire(testEndpoint, Config{})
	require.NoError(t, err)
	assert.Same(t, s1, s2)
	assert.Equal(t, 2, reg.RefCount(testEndpoint))

	other, err := reg.Acquire(Endpoint{Host: "other", Port: 1883}, Config{})
	require.NoError(t, err)
	assert.NotSame(t, s1, other)

	reg.Release(testEndpoint)
	assert.Equal(t, 1, reg.RefCount(testEndpoint))
	assert.NotEqual(t, StateClosed, s1.State())

	reg.Release(testEndpoint)
	assert.Equal(t, 0, reg.RefCount(testEndpoint))
	assert.Equal(t, StateClosed, s1.State())

	reg.Close()
	assert.Equal(t, StateClosed, other.State())
	_, err = reg.Acquire(testEndpoint, Config{})
	assert.ErrorIs(t, err, ErrRegistryClosed)
}
