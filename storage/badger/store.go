// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"sync"
	"time"

	"github.com/absmach/mqttscope/storage"
	"github.com/dgraph-io/badger/v4"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite BadgerDB store implementing all storage interfaces.
type Store struct {
	db *badger.DB

	states *StateStore
	wills  *WillStore

	gcStopCh chan struct{}
	gcDone   chan struct{}
	closed   bool
	mu       sync.Mutex
}

// Config holds BadgerDB configuration.
type Config struct {
	Dir        string        // Directory for BadgerDB data
	GCInterval time.Duration // value log GC period, 5m when zero
}

// New creates a new BadgerDB-backed store.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.SyncWrites = true
	opts.NumVersionsToKeep = 1

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = 5 * time.Minute
	}

	s := &Store{
		db:       db,
		states:   NewStateStore(db),
		wills:    NewWillStore(db),
		gcStopCh: make(chan struct{}),
		gcDone:   make(chan struct{}),
	}

	go s.runGC(gcInterval)

	return s, nil
}

// States returns the state store.
func (s *Store) States() storage.StateStore {
	return s.states
}

// Wills returns the will store.
func (s *Store) Wills() storage.WillStore {
	return s.wills
}

// Close gracefully closes the BadgerDB database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.gcStopCh)
	<-s.gcDone

	return s.db.Close()
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC(interval time.Duration) {
	defer close(s.gcDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to reclaim.
			_ = s.db.RunValueLogGC(0.5)
		case <-s.gcStopCh:
			return
		}
	}
}
