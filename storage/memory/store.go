// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"github.com/absmach/mqttscope/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is the composite in-memory store.
type Store struct {
	states *StateStore
	wills  *WillStore
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		states: NewStateStore(),
		wills:  NewWillStore(),
	}
}

// States returns the state store.
func (s *Store) States() storage.StateStore {
	return s.states
}

// Wills returns the will store.
func (s *Store) Wills() storage.WillStore {
	return s.wills
}

// Close closes all stores (no-op for memory).
func (s *Store) Close() error {
	return nil
}
