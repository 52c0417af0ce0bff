package server

import (
	"context"
	"errors"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/pkg/logger"
)

// ErrNotConnected is returned by Hello when the calling context does not
// belong to a registered connection, e.g. a one-shot HTTP bridge call.
var ErrNotConnected = errors.New("client.hello requires a persistent connection")

type client struct {
	url string
}

// Registry tracks the jrpc2 servers of connected foreground instances
// and pushes notifications to them.
type Registry struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]*client
	log     logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNopLogger()
	}
	return &Registry{
		servers: make(map[*jrpc2.Server]*client),
		log:     l,
	}
}

// Register adds a server to the broadcast set.
func (r *Registry) Register(srv *jrpc2.Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[srv] = &client{}
}

// Unregister removes a server from the broadcast set.
func (r *Registry) Unregister(srv *jrpc2.Server) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, srv)
}

// Hello records url for the connection serving ctx.
func (r *Registry) Hello(ctx context.Context, url string) error {
	srv := jrpc2.ServerFromContext(ctx)
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.servers[srv]
	if srv == nil || !ok {
		return ErrNotConnected
	}
	c.url = url
	return nil
}

// Broadcast pushes a notification to every registered server.
// Servers that fail to receive are unregistered.
func (r *Registry) Broadcast(action common.Action, payload any) {
	r.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(r.servers))
	for srv := range r.servers {
		servers = append(servers, srv)
	}
	r.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(context.Background(), string(action), payload); err != nil {
			r.log.Warning("push %s failed: %v", action, err)
			failed = append(failed, srv)
		}
	}
	r.drop(failed)
}

// Send pushes a notification to the first server whose hello URL
// satisfies match and reports whether one accepted it.
func (r *Registry) Send(match func(url string) bool, action common.Action, payload any) bool {
	r.mu.RLock()
	var candidates []*jrpc2.Server
	for srv, c := range r.servers {
		if c.url != "" && match(c.url) {
			candidates = append(candidates, srv)
		}
	}
	r.mu.RUnlock()

	var failed []*jrpc2.Server
	defer func() { r.drop(failed) }()
	for _, srv := range candidates {
		if err := srv.Notify(context.Background(), string(action), payload); err != nil {
			r.log.Warning("push %s failed: %v", action, err)
			failed = append(failed, srv)
			continue
		}
		return true
	}
	return false
}

// Clients returns the number of registered servers.
func (r *Registry) Clients() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.servers)
}

// StopAll stops every registered server.
func (r *Registry) StopAll() {
	r.mu.Lock()
	servers := make([]*jrpc2.Server, 0, len(r.servers))
	for srv := range r.servers {
		servers = append(servers, srv)
	}
	r.servers = make(map[*jrpc2.Server]*client)
	r.mu.Unlock()
	for _, srv := range servers {
		srv.Stop()
	}
}

func (r *Registry) drop(failed []*jrpc2.Server) {
	if len(failed) == 0 {
		return
	}
	r.mu.Lock()
	for _, srv := range failed {
		delete(r.servers, srv)
	}
	r.mu.Unlock()
}
