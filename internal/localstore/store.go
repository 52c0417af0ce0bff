// Package localstore is the durable string-keyed store backing the timer
// collection, the active selection and the sync credentials.
package localstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// Well-known keys.
const (
	KeyTimers       = "timers"
	KeyActiveTimer  = "activeTimerId"
	KeySyncID       = "timepulse_sync_id"
	KeySyncPassword = "timepulse_sync_password"
)

// FileName is the default file name of the store inside the config directory.
const FileName = "localstore.json"

// Store is a synchronous string-keyed, string-valued store.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	// SetMany writes every pair in one durable update.
	SetMany(kv map[string]string) error
	Delete(keys ...string) error
	Keys() []string
}

// FileStore keeps every key in a single JSON object file.
// Each write replaces the file through a temp file and rename.
type FileStore struct {
	fs   afero.Fs
	path string

	mu   sync.RWMutex
	data map[string]string
}

var _ Store = (*FileStore)(nil)

// Open loads path from fsys. A missing file yields an empty store; an
// unreadable or malformed one is treated as empty as well and the returned
// error is nil so callers fall through to default bootstrap.
func Open(fsys afero.Fs, path string) (*FileStore, error) {
	s := &FileStore{fs: fsys, path: path, data: make(map[string]string)}
	b, err := afero.ReadFile(fsys, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}
	if len(b) == 0 {
		return s, nil
	}
	var m map[string]string
	if err := json.Unmarshal(b, &m); err != nil {
		return s, nil
	}
	if m != nil {
		s.data = m
	}
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

func (s *FileStore) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

func (s *FileStore) SetMany(kv map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]string, len(s.data)+len(kv))
	for k, v := range s.data {
		next[k] = v
	}
	for k, v := range kv {
		next[k] = v
	}
	if err := s.flush(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *FileStore) Delete(keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]string, len(s.data))
	changed := false
	for k, v := range s.data {
		next[k] = v
	}
	for _, k := range keys {
		if _, ok := next[k]; ok {
			delete(next, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	if err := s.flush(next); err != nil {
		return err
	}
	s.data = next
	return nil
}

func (s *FileStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *FileStore) flush(data map[string]string) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store dir: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := s.fs.Chmod(tmpPath, os.FileMode(0o600)); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		s.fs.Remove(tmpPath)
		return fmt.Errorf("failed to rename store file: %w", err)
	}
	return nil
}
