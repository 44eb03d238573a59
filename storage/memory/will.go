// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"sync"

	"github.com/absmach/mqttscope/storage"
)

var _ storage.WillStore = (*WillStore)(nil)

// WillStore is an in-memory implementation of storage.WillStore.
type WillStore struct {
	mu   sync.RWMutex
	data map[string]*storage.Will
}

// NewWillStore creates a new in-memory will store.
func NewWillStore() *WillStore {
	return &WillStore{
		data: make(map[string]*storage.Will),
	}
}

// Get retrieves the will of a client.
func (s *WillStore) Get(clientID string) (*storage.Will, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	will, ok := s.data[clientID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return storage.CopyWill(will), nil
}

// Set stores the will of a client.
func (s *WillStore) Set(will *storage.Will) error {
	if will.ClientID == "" {
		return storage.ErrInvalidKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[will.ClientID] = storage.CopyWill(will)
	return nil
}

// Delete removes the will of a client.
func (s *WillStore) Delete(clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, clientID)
	return nil
}
