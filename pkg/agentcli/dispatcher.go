package agentcli

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/timepulse/timepulse/common"
)

// Handler processes one push from the agent.
type Handler interface {
	Handle(json.RawMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(json.RawMessage) error

func (f HandlerFunc) Handle(m json.RawMessage) error { return f(m) }

// On returns a Handler that decodes the push payload into T.
func On[T any](fn func(*T) error) Handler {
	return HandlerFunc(func(m json.RawMessage) error {
		var v T
		if len(m) > 0 {
			if err := json.Unmarshal(m, &v); err != nil {
				return err
			}
		}
		return fn(&v)
	})
}

// Dispatcher routes agent pushes to handlers by action.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[common.Action][]Handler
	// Errors receives handler failures. Defaults to stderr.
	Errors func(action common.Action, err error)
}

// NewDispatcher creates a dispatcher with no handlers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[common.Action][]Handler),
		Errors: func(action common.Action, err error) {
			fmt.Fprintf(os.Stderr, "agentcli: %s handler: %v\n", action, err)
		},
	}
}

// AddHandler registers h for action. Handlers run in registration order.
func (d *Dispatcher) AddHandler(action common.Action, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = append(d.handlers[action], h)
}

// RemoveHandler drops every handler for action.
func (d *Dispatcher) RemoveHandler(action common.Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, action)
}

// Handlers returns the number of handlers registered for action.
func (d *Dispatcher) Handlers(action common.Action) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers[action])
}

func (d *Dispatcher) process(req *jrpc2.Request) {
	d.Dispatch(common.Action(req.Method()), json.RawMessage(req.ParamString()))
}

// Dispatch delivers a push to the registered handlers. Unhandled actions
// are ignored.
func (d *Dispatcher) Dispatch(action common.Action, params json.RawMessage) {
	d.mu.RLock()
	hs := append([]Handler(nil), d.handlers[action]...)
	d.mu.RUnlock()
	for _, h := range hs {
		if err := h.Handle(params); err != nil && d.Errors != nil {
			d.Errors(action, err)
		}
	}
}
