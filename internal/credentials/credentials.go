// Package credentials persists the remote sync credentials in the local
// store. The id is kept in clear; the secret is sealed with AES-GCM under a
// key derived from a master key held in the OS keyring.
package credentials

import (
	"errors"

	"github.com/timepulse/timepulse/internal/localstore"
)

var (
	// ErrNoKeySource is returned when no master key can be read or created.
	ErrNoKeySource = errors.New("credentials: no usable key source")
	// ErrCorrupt is returned when a sealed secret cannot be decrypted.
	ErrCorrupt = errors.New("credentials: sealed secret is corrupt")
	// ErrEmpty is returned by Save for a blank id or secret.
	ErrEmpty = errors.New("credentials: id and secret are required")
)

// State is the pair of opaque credentials addressing the remote document.
type State struct {
	RemoteID     string
	RemoteSecret string
}

// Manager reads and writes State in a localstore.Store.
type Manager struct {
	store localstore.Store
	keys  KeySource
}

func NewManager(store localstore.Store, keys KeySource) *Manager {
	return &Manager{store: store, keys: keys}
}

// Load returns the stored credentials or nil when sync is not configured.
func (m *Manager) Load() (*State, error) {
	id, ok := m.store.Get(localstore.KeySyncID)
	if !ok || id == "" {
		return nil, nil
	}
	secret, ok := m.store.Get(localstore.KeySyncPassword)
	if !ok || secret == "" {
		return nil, nil
	}
	if isSealed(secret) {
		key, err := m.keys.GetKey()
		if err != nil {
			return nil, errors.Join(ErrNoKeySource, err)
		}
		secret, err = open(secret, key)
		if err != nil {
			return nil, err
		}
	}
	return &State{RemoteID: id, RemoteSecret: secret}, nil
}

// Save seals secret and stores both values in one write.
func (m *Manager) Save(id, secret string) error {
	if id == "" || secret == "" {
		return ErrEmpty
	}
	key, err := masterKey(m.keys)
	if err != nil {
		return err
	}
	sealed, err := seal(secret, key)
	if err != nil {
		return err
	}
	return m.store.SetMany(map[string]string{
		localstore.KeySyncID:       id,
		localstore.KeySyncPassword: sealed,
	})
}

// Clear removes the credentials, returning the app to local-only mode.
func (m *Manager) Clear() error {
	return m.store.Delete(localstore.KeySyncID, localstore.KeySyncPassword)
}
