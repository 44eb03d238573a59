// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sort"
	"sync"

	"github.com/absmach/mqttscope/storage"
)

var _ storage.StateStore = (*StateStore)(nil)

// StateStore is an in-memory implementation of storage.StateStore.
type StateStore struct {
	mu   sync.RWMutex
	data map[string]*storage.State
}

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{
		data: make(map[string]*storage.State),
	}
}

// Get retrieves the state of a client.
func (s *StateStore) Get(clientID string) (*storage.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.data[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyState(state), nil
}

// Save persists a state.
func (s *StateStore) Save(state *storage.State) error {
	if state.ClientID == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[state.ClientID] = storage.CopyState(state)
	return nil
}

// Delete removes the state of a client.
func (s *StateStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, clientID)
	return nil
}

// List returns all states.
func (s *StateStore) List() ([]*storage.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	states := make([]*storage.State, 0, len(s.data))
	for _, state := range s.data {
		states = append(states, storage.CopyState(state))
	}
	sort.Slice(states, func(i, j int) bool { return states[i].ClientID < states[j].ClientID })
	return states, nil
}
