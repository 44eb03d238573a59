// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/absmach/mqttscope/metrics"
)

// ErrRegistryClosed is returned by Acquire after Close.
var ErrRegistryClosed = errors.New("session registry closed")

type entry struct {
	session *Session
	refs    int
}

// Registry shares one Session per broker endpoint between the clients that
// talk to it. Sessions are reference counted and closed with the last release.
type Registry struct {
	mu       sync.Mutex
	sessions map[Endpoint]*entry
	closed   bool

	dial    Dialer
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRegistry creates a registry that dials new sessions with dial.
func NewRegistry(dial Dialer, logger *slog.Logger, m *metrics.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[Endpoint]*entry),
		dial:     dial,
		logger:   logger,
		metrics:  m,
	}
}

// Acquire returns the session for ep, creating it with cfg if none exists.
// cfg is ignored when the session is already open. Every Acquire must be
// paired with a Release.
func (r *Registry) Acquire(ep Endpoint, cfg Config) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRegistryClosed
	}
	if e, ok := r.sessions[ep]; ok {
		e.refs++
		return e.session, nil
	}

	if cfg.Logger == nil {
		cfg.Logger = r.logger
	}
	if cfg.Metrics == nil {
		cfg.Metrics = r.metrics
	}
	s, err := New(ep, r.dial, cfg)
	if err != nil {
		return nil, err
	}
	r.sessions[ep] = &entry{session: s, refs: 1}
	r.logger.Debug("session created", slog.String("endpoint", ep.String()))
	return s, nil
}

// Release drops one reference to the session for ep, closing it when none
// are left.
func (r *Registry) Release(ep Endpoint) {
	r.mu.Lock()
	e, ok := r.sessions[ep]
	if !ok {
		r.mu.Unlock()
		return
	}
	e.refs--
	if e.refs > 0 {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, ep)
	r.mu.Unlock()

	e.session.Close()
}

// RefCount returns the number of holders of the session for ep.
func (r *Registry) RefCount(ep Endpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[ep]; ok {
		return e.refs
	}
	return 0
}

// Close closes every session regardless of references.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for ep, e := range r.sessions {
		sessions = append(sessions, e.session)
		delete(r.sessions, ep)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
