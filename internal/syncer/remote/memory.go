package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memEntry struct {
	secret  string
	payload Payload
	expires time.Time
}

// Memory is an in-process Store with per-document expiry. It also serves the
// HTTP API through Handler so HTTPStore can run against it.
type Memory struct {
	mu   sync.Mutex
	docs map[string]memEntry
	now  func() time.Time

	gets int
	puts int
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{docs: make(map[string]memEntry), now: time.Now}
}

// SetClock overrides time.Now for expiry checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Get(ctx context.Context, id, secret string) (*Payload, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	e, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	if !m.live(e) {
		delete(m.docs, id)
		return nil, nil
	}
	if e.secret != secret {
		return nil, ErrUnauthorized
	}
	p := e.payload
	p.Timers = append(p.Timers[:0:0], p.Timers...)
	return &p, nil
}

func (m *Memory) Put(ctx context.Context, id, secret string, p Payload, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if e, ok := m.docs[id]; ok && e.secret != secret && m.live(e) {
		return ErrUnauthorized
	}
	var exp time.Time
	if ttl > 0 {
		exp = m.now().Add(ttl)
	}
	p.Timers = append(p.Timers[:0:0], p.Timers...)
	m.docs[id] = memEntry{secret: secret, payload: p, expires: exp}
	return nil
}

func (m *Memory) live(e memEntry) bool {
	return e.expires.IsZero() || m.now().Before(e.expires)
}

// Counts returns how many Get and Put calls were served.
func (m *Memory) Counts() (gets, puts int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets, m.puts
}

// Handler serves the Memory store over the HTTPStore wire format.
func (m *Memory) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := strings.CutPrefix(r.URL.Path, "/api/cache/")
		if !ok || id == "" {
			http.NotFound(w, r)
			return
		}
		secret, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			p, err := m.Get(r.Context(), id, secret)
			switch {
			case errors.Is(err, ErrUnauthorized):
				http.Error(w, err.Error(), http.StatusUnauthorized)
			case err != nil:
				http.Error(w, err.Error(), http.StatusInternalServerError)
			case p == nil:
				http.NotFound(w, r)
			default:
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(p)
			}
		case http.MethodPut:
			var p Payload
			if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			var ttl time.Duration
			if v := r.URL.Query().Get("ttl"); v != "" {
				ms, err := strconv.ParseInt(v, 10, 64)
				if err != nil || ms < 0 {
					http.Error(w, "invalid ttl", http.StatusBadRequest)
					return
				}
				ttl = time.Duration(ms) * time.Millisecond
			}
			if err := m.Put(r.Context(), id, secret, p, ttl); err != nil {
				if errors.Is(err, ErrUnauthorized) {
					http.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			w.Header().Set("Allow", "GET, PUT")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}
