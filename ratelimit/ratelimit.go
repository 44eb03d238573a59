// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles reconnect attempts per broker endpoint and
// publishes per client.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key. Keys idle for two cleanup
// intervals are forgotten.
type KeyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter creates a limiter allowing r events per second per key with
// the given burst. A non-positive cleanupInterval disables cleanup.
func NewKeyedLimiter(r float64, burst int, cleanupInterval time.Duration) *KeyedLimiter {
	l := &KeyedLimiter{
		limiters: make(map[string]*entry),
		rate:     rate.Limit(r),
		burst:    burst,
		cleanup:  cleanupInterval,
		stopCh:   make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go l.cleanupLoop()
	}
	return l
}

// Allow reports whether an event for key may happen now.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

// Reserve returns how long the caller must wait before an event for key is
// allowed, consuming the token.
func (l *KeyedLimiter) Reserve(key string) time.Duration {
	return l.limiter(key).Reserve().Delay()
}

// Forget drops the bucket of key.
func (l *KeyedLimiter) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, key)
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedLimiter) limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (l *KeyedLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanupStale(time.Now())
		case <-l.stopCh:
			return
		}
	}
}

func (l *KeyedLimiter) cleanupStale(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	threshold := now.Add(-l.cleanup * 2)
	for key, e := range l.limiters {
		if e.lastSeen.Before(threshold) {
			delete(l.limiters, key)
		}
	}
}

// Stop stops the cleanup goroutine.
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool `yaml:"enabled"`

	Reconnect ReconnectConfig `yaml:"reconnect"`
	Publish   PublishConfig   `yaml:"publish"`
}

// ReconnectConfig limits connection attempts per broker endpoint.
type ReconnectConfig struct {
	Rate            float64       `yaml:"rate"`             // attempts per second per endpoint
	Burst           int           `yaml:"burst"`            // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // cleanup interval for stale entries
}

// PublishConfig limits publishes per client.
type PublishConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`  // messages per second per client
	Burst   int     `yaml:"burst"` // burst allowance
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Reconnect: ReconnectConfig{
			Rate:            1.0 / 5.0, // one attempt every 5 seconds per endpoint
			Burst:           3,
			CleanupInterval: 5 * time.Minute,
		},
		Publish: PublishConfig{
			Enabled: false,
			Rate:    100,
			Burst:   20,
		},
	}
}

// Manager coordinates the limiters. A disabled manager allows everything.
type Manager struct {
	config    Config
	reconnect *KeyedLimiter
	publish   *KeyedLimiter
	disabled  bool
}

// NewManager creates a new rate limit manager.
func NewManager(cfg Config) *Manager {
	if !cfg.Enabled {
		return &Manager{disabled: true, config: cfg}
	}

	m := &Manager{
		config:    cfg,
		reconnect: NewKeyedLimiter(cfg.Reconnect.Rate, cfg.Reconnect.Burst, cfg.Reconnect.CleanupInterval),
	}
	if cfg.Publish.Enabled {
		m.publish = NewKeyedLimiter(cfg.Publish.Rate, cfg.Publish.Burst, 0)
	}
	return m
}

// AllowReconnect checks if a connection attempt to endpoint may start now.
func (m *Manager) AllowReconnect(endpoint string) bool {
	if m == nil || m.disabled {
		return true
	}
	return m.reconnect.Allow(endpoint)
}

// AllowPublish checks if a publish from the given client is allowed.
func (m *Manager) AllowPublish(clientID string) bool {
	if m == nil || m.disabled || m.publish == nil {
		return true
	}
	return m.publish.Allow(clientID)
}

// OnClientClose cleans up the publish limiter of a closed client.
func (m *Manager) OnClientClose(clientID string) {
	if m == nil || m.disabled || m.publish == nil {
		return
	}
	m.publish.Forget(clientID)
}

// Stop stops the rate limiter manager and cleans up resources.
func (m *Manager) Stop() {
	if m == nil || m.reconnect == nil {
		return
	}
	m.reconnect.Stop()
}
