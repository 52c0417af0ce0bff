package credentials

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zalando/go-keyring"
)

const (
	keyFileName = "sync.key"
	keyFileMode = 0o600
	keySize     = 32
)

// KeySource stores the master key used to seal the sync secret.
type KeySource interface {
	GetKey() ([]byte, error)
	SetKey() ([]byte, error)
	DeleteKey() error
}

var (
	keyringSet    = keyring.Set
	keyringGet    = keyring.Get
	keyringDelete = keyring.Delete
	randRead      = rand.Read
)

// Keyring keeps the master key in the OS keyring.
type Keyring struct {
	AppName  string
	KeyField string
}

func NewKeyring() *Keyring {
	return &Keyring{
		AppName:  "timepulse",
		KeyField: "sync",
	}
}

func (k *Keyring) SetKey() ([]byte, error) {
	key := make([]byte, keySize)
	if _, err := randRead(key); err != nil {
		return nil, err
	}
	if err := keyringSet(k.AppName, k.KeyField, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	return key, nil
}

func (k *Keyring) GetKey() ([]byte, error) {
	v, err := keyringGet(k.AppName, k.KeyField)
	if err != nil {
		return nil, err
	}
	return decodeKey(v)
}

func (k *Keyring) DeleteKey() error {
	return keyringDelete(k.AppName, k.KeyField)
}

// FileKeyStore keeps the master key hex encoded in a 0600 file.
// It backs up Keyring on hosts without a secret service.
type FileKeyStore struct {
	fs        afero.Fs
	configDir string
}

func NewFileKeyStore(fsys afero.Fs, configDir string) *FileKeyStore {
	return &FileKeyStore{fs: fsys, configDir: configDir}
}

func (f *FileKeyStore) keyPath() string {
	return filepath.Join(f.configDir, keyFileName)
}

// SetKey generates a new key and writes it atomically.
func (f *FileKeyStore) SetKey() ([]byte, error) {
	if err := f.fs.MkdirAll(f.configDir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	key := make([]byte, keySize)
	if _, err := randRead(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	tmp, err := afero.TempFile(f.fs, f.configDir, ".sync.key.tmp.*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(hex.EncodeToString(key)); err != nil {
		tmp.Close()
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("write key: %w", err)
	}
	if err := tmp.Close(); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("close temp file: %w", err)
	}
	if err := f.fs.Chmod(tmpPath, keyFileMode); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("set permissions: %w", err)
	}
	if err := f.fs.Rename(tmpPath, f.keyPath()); err != nil {
		f.fs.Remove(tmpPath)
		return nil, fmt.Errorf("rename key file: %w", err)
	}
	return key, nil
}

func (f *FileKeyStore) GetKey() ([]byte, error) {
	data, err := afero.ReadFile(f.fs, f.keyPath())
	if err != nil {
		return nil, err
	}
	return decodeKey(string(data))
}

func (f *FileKeyStore) DeleteKey() error {
	return f.fs.Remove(f.keyPath())
}

func decodeKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid key format: %w", err)
	}
	if len(key) != keySize {
		return nil, fmt.Errorf("invalid key length: expected %d, got %d", keySize, len(key))
	}
	return key, nil
}

// chain tries each source in order, reading an existing key before creating one.
type chain []KeySource

// Chain returns a KeySource that prefers the earlier sources.
func Chain(sources ...KeySource) KeySource {
	return chain(sources)
}

func (c chain) GetKey() ([]byte, error) {
	var lastErr error
	for _, s := range c {
		key, err := s.GetKey()
		if err == nil {
			return key, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoKeySource
	}
	return nil, lastErr
}

func (c chain) SetKey() ([]byte, error) {
	var lastErr error
	for _, s := range c {
		key, err := s.SetKey()
		if err == nil {
			return key, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrNoKeySource
	}
	return nil, lastErr
}

func (c chain) DeleteKey() error {
	var lastErr error
	deleted := false
	for _, s := range c {
		if err := s.DeleteKey(); err != nil {
			lastErr = err
			continue
		}
		deleted = true
	}
	if deleted {
		return nil
	}
	return lastErr
}

// masterKey returns the existing key or creates one.
func masterKey(src KeySource) ([]byte, error) {
	if key, err := src.GetKey(); err == nil {
		return key, nil
	}
	key, err := src.SetKey()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoKeySource, err)
	}
	return key, nil
}
