package notify

import (
	"context"
	"sync"
)

// Memory records notifications in process. It backs tests and headless agents.
type Memory struct {
	mu     sync.Mutex
	nextID uint32
	shown  []Notification
	closed []Notification

	*table
}

var _ Notifier = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{table: newTable()}
}

func (m *Memory) Show(ctx context.Context, title string, opts Options) (Notification, error) {
	if opts.Body == "" {
		opts.Body = DefaultBody
	}
	m.mu.Lock()
	id := m.replaceID(opts.Tag)
	if id == 0 {
		m.nextID++
		id = m.nextID
	}
	n := Notification{ID: id, Title: title, Options: opts}
	m.shown = append(m.shown, n)
	m.mu.Unlock()
	m.add(n)
	return n, nil
}

func (m *Memory) Close(ctx context.Context, n Notification) error {
	if _, ok := m.remove(n.ID); ok {
		m.mu.Lock()
		m.closed = append(m.closed, n)
		m.mu.Unlock()
	}
	return nil
}

// Shown returns every notification displayed so far.
func (m *Memory) Shown() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.shown...)
}

// Closed returns every notification closed so far.
func (m *Memory) Closed() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.closed...)
}

// Click simulates the user activating the notification with id.
func (m *Memory) Click(id uint32) bool {
	n, ok := m.get(id)
	if !ok {
		return false
	}
	m.fireActivate(n)
	return true
}
