// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"errors"
	"fmt"

	"github.com/absmach/mqttscope/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

var _ storage.StateStore = (*StateStore)(nil)

const statePrefix = "state:"

// StateStore implements storage.StateStore using BadgerDB.
//
// Key format: state:{clientID}, value msgpack.
type StateStore struct {
	db *badger.DB
}

// NewStateStore creates a new BadgerDB state store.
func NewStateStore(db *badger.DB) *StateStore {
	return &StateStore{db: db}
}

// Get retrieves the state of a client.
func (s *StateStore) Get(clientID string) (*storage.State, error) {
	key := []byte(statePrefix + clientID)

	var state *storage.State
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			state = &storage.State{}
			return msgpack.Unmarshal(val, state)
		})
	})
	if err != nil {
		return nil, err
	}

	return state, nil
}

// Save persists a state.
func (s *StateStore) Save(state *storage.State) error {
	if state.ClientID == "" {
		return storage.ErrInvalidKey
	}
	key := []byte(statePrefix + state.ClientID)

	data, err := msgpack.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Delete removes the state of a client.
func (s *StateStore) Delete(clientID string) error {
	key := []byte(statePrefix + clientID)

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// List returns all states. Keys iterate in byte order, so the result is
// sorted by client ID.
func (s *StateStore) List() ([]*storage.State, error) {
	var states []*storage.State

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(statePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var state storage.State
				if err := msgpack.Unmarshal(val, &state); err != nil {
					return err
				}
				states = append(states, &state)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal state: %w", err)
			}
		}

		return nil
	})

	return states, err
}
