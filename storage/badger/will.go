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

var _ storage.WillStore = (*WillStore)(nil)

// WillStore implements storage.WillStore using BadgerDB.
//
// Key format: will:{clientID}.
type WillStore struct {
	db *badger.DB
}

// NewWillStore creates a new BadgerDB will store.
func NewWillStore(db *badger.DB) *WillStore {
	return &WillStore{db: db}
}

// Set stores the will of a client.
func (w *WillStore) Set(will *storage.Will) error {
	if will.ClientID == "" {
		return storage.ErrInvalidKey
	}
	key := []byte("will:" + will.ClientID)

	data, err := msgpack.Marshal(will)
	if err != nil {
		return fmt.Errorf("failed to marshal will message: %w", err)
	}

	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// Get retrieves the will of a client.
func (w *WillStore) Get(clientID string) (*storage.Will, error) {
	key := []byte("will:" + clientID)

	var will *storage.Will
	err := w.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}

		return item.Value(func(val []byte) error {
			will = &storage.Will{}
			return msgpack.Unmarshal(val, will)
		})
	})
	if err != nil {
		return nil, err
	}

	return will, nil
}

// Delete removes the will of a client.
func (w *WillStore) Delete(clientID string) error {
	key := []byte("will:" + clientID)

	return w.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}
