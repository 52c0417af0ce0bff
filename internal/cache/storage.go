package cache

import (
	"context"
	"sort"
	"sync"
)

// Storage holds named caches of URL-keyed entries.
type Storage interface {
	// Open creates the named cache if it does not exist.
	Open(ctx context.Context, name string) error
	// Delete removes a cache and its entries, reporting whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Names lists existing caches in lexical order.
	Names(ctx context.Context) ([]string, error)
	// Match returns the entry for url in the named cache, nil when absent.
	Match(ctx context.Context, name, url string) (*Entry, error)
	// MatchAll returns every entry in the named cache ordered by URL.
	MatchAll(ctx context.Context, name string) ([]*Entry, error)
	// Put stores e in the named cache, creating the cache when needed.
	Put(ctx context.Context, name string, e *Entry) error
	Close() error
}

// MemoryStorage is a Storage kept in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	caches map[string]map[string]*Entry
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{caches: make(map[string]map[string]*Entry)}
}

func (m *MemoryStorage) Open(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.caches[name]; !ok {
		m.caches[name] = make(map[string]*Entry)
	}
	return nil
}

func (m *MemoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.caches[name]
	delete(m.caches, name)
	return ok, nil
}

func (m *MemoryStorage) Names(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.caches))
	for n := range m.caches {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemoryStorage) Match(ctx context.Context, name, url string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.caches[name][url]
	if !ok {
		return nil, nil
	}
	return e.clone(), nil
}

func (m *MemoryStorage) MatchAll(ctx context.Context, name string) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c := m.caches[name]
	out := make([]*Entry, 0, len(c))
	for _, e := range c {
		out = append(out, e.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *MemoryStorage) Put(ctx context.Context, name string, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[name]
	if !ok {
		c = make(map[string]*Entry)
		m.caches[name] = c
	}
	c[e.URL] = e.clone()
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}
