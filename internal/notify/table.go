package notify

import "sync"

// table tracks visible notifications by id and tag.
type table struct {
	mu       sync.Mutex
	byID     map[uint32]Notification
	activate func(Notification)
}

func newTable() *table {
	return &table{byID: make(map[uint32]Notification)}
}

func (t *table) add(n Notification) {
	t.mu.Lock()
	t.byID[n.ID] = n
	t.mu.Unlock()
}

func (t *table) remove(id uint32) (Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byID[id]
	delete(t.byID, id)
	return n, ok
}

func (t *table) get(id uint32) (Notification, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.byID[id]
	return n, ok
}

// QueryByTag returns the visible notifications carrying tag.
func (t *table) QueryByTag(tag string) []Notification {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Notification
	for _, n := range t.byID {
		if n.Options.Tag == tag {
			out = append(out, n)
		}
	}
	return out
}

// replaceID returns the id of a visible notification with tag, or 0.
func (t *table) replaceID(tag string) uint32 {
	if tag == "" {
		return 0
	}
	for _, n := range t.QueryByTag(tag) {
		return n.ID
	}
	return 0
}

// OnActivate registers the click handler.
func (t *table) OnActivate(fn func(Notification)) {
	t.mu.Lock()
	t.activate = fn
	t.mu.Unlock()
}

func (t *table) fireActivate(n Notification) {
	t.mu.Lock()
	fn := t.activate
	t.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}
