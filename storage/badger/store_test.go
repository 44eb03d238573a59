// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/absmach/mqttscope/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStateStore_SaveGet(t *testing.T) {
	store := setupStore(t)

	saved := time.Now().UTC().Truncate(time.Millisecond)
	state := &storage.State{
		ClientID: "scope",
		Endpoint: "localhost:1883",
		Subscriptions: []storage.SubscriptionState{
			{Pattern: "home/kitchen/+", QoS: 1, Topics: []string{"home/kitchen/temp", "home/kitchen/humidity"}},
			{Pattern: "office/#", QoS: 2, Topics: []string{}},
		},
		SavedAt: saved,
	}
	require.NoError(t, store.States().Save(state))

	got, err := store.States().Get("scope")
	require.NoError(t, err)
	assert.Equal(t, "localhost:1883", got.Endpoint)
	require.Len(t, got.Subscriptions, 2)
	assert.Equal(t, state.Subscriptions[0], got.Subscriptions[0])
	assert.Equal(t, "office/#", got.Subscriptions[1].Pattern)
	assert.Equal(t, byte(2), got.Subscriptions[1].QoS)
	assert.True(t, saved.Equal(got.SavedAt))
}

func TestStateStore_GetNotFound(t *testing.T) {
	store := setupStore(t)

	_, err := store.States().Get("nonexistent")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStateStore_Overwrite(t *testing.T) {
	store := setupStore(t)

	require.NoError(t, store.States().Save(&storage.State{
		ClientID:      "scope",
		Subscriptions: []storage.SubscriptionState{{Pattern: "a/b"}, {Pattern: "a/c"}},
	}))
	require.NoError(t, store.States().Save(&storage.State{
		ClientID:      "scope",
		Subscriptions: []storage.SubscriptionState{{Pattern: "a/+", Topics: []string{"a/b", "a/c"}}},
	}))

	got, err := store.States().Get("scope")
	require.NoError(t, err)
	require.Len(t, got.Subscriptions, 1)
	assert.Equal(t, "a/+", got.Subscriptions[0].Pattern)
}

func TestStateStore_DeleteList(t *testing.T) {
	store := setupStore(t)

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.States().Save(&storage.State{ClientID: id}))
	}
	require.NoError(t, store.States().Delete("b"))

	list, err := store.States().List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ClientID)
	assert.Equal(t, "c", list[1].ClientID)
}

func TestStateStore_EmptyClientID(t *testing.T) {
	store := setupStore(t)
	assert.ErrorIs(t, store.States().Save(&storage.State{}), storage.ErrInvalidKey)
}

func TestWillStore(t *testing.T) {
	store := setupStore(t)

	will := &storage.Will{
		ClientID:  "scope",
		Topic:     "scope/will",
		Payload:   []byte("mean=21.5"),
		QoS:       1,
		Retain:    true,
		UpdatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Wills().Set(will))

	got, err := store.Wills().Get("scope")
	require.NoError(t, err)
	assert.Equal(t, will.Topic, got.Topic)
	assert.Equal(t, will.Payload, got.Payload)
	assert.Equal(t, will.QoS, got.QoS)
	assert.True(t, got.Retain)

	require.NoError(t, store.Wills().Delete("scope"))
	_, err = store.Wills().Get("scope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStore_Reopen(t *testing.T) {
	dir := t.TempDir()

	store, err := New(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, store.States().Save(&storage.State{
		ClientID:      "scope",
		Subscriptions: []storage.SubscriptionState{{Pattern: "a/#", QoS: 1}},
	}))
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	store, err = New(Config{Dir: dir})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.States().Get("scope")
	require.NoError(t, err)
	assert.Equal(t, "a/#", got.Subscriptions[0].Pattern)
}

func TestStore_ErrorHandling(t *testing.T) {
	// A regular file where the directory should be.
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := New(Config{Dir: file})
	assert.Error(t, err)
}
