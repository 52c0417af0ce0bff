package server

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"

	"github.com/timepulse/timepulse/common"
	"github.com/timepulse/timepulse/internal/agent"
)

// JSON-RPC error codes returned by the bus.
const (
	codeInvalidParams  = jrpc2.Code(-32602)
	codeMethodNotFound = jrpc2.Code(-32601)
	codeInternal       = jrpc2.Code(-32603)
)

// MethodMessage accepts a message in the tagged {"action": ...} shape.
const MethodMessage = "message"

// MethodVersion returns the agent version.
const MethodVersion = "system.getVersion"

// Dispatcher handles inbound bus actions.
type Dispatcher interface {
	Dispatch(ctx context.Context, action common.Action, params json.RawMessage) (any, error)
	DispatchRaw(ctx context.Context, b []byte) (any, error)
}

// VersionResult is the response for system.getVersion.
type VersionResult struct {
	Version string `json:"version"`
}

// Methods builds the jrpc2 method table: one method per inbound action plus
// agent.status, the tagged-message entry point and system.getVersion.
func Methods(d Dispatcher, version string) handler.Map {
	m := handler.Map{
		MethodVersion: handler.New(func(context.Context) (*VersionResult, error) {
			return &VersionResult{Version: version}, nil
		}),
		MethodMessage: func(ctx context.Context, req *jrpc2.Request) (any, error) {
			res, err := d.DispatchRaw(ctx, []byte(req.ParamString()))
			return res, rpcError(err)
		},
	}
	actions := append(append([]common.Action(nil), common.Inbound...), common.AgentStatus)
	for _, action := range actions {
		action := action // per-iteration copy (go < 1.22 loop semantics)
		m[string(action)] = func(ctx context.Context, req *jrpc2.Request) (any, error) {
			res, err := d.Dispatch(ctx, action, json.RawMessage(req.ParamString()))
			return res, rpcError(err)
		}
	}
	return m
}

// rpcError maps dispatcher errors onto JSON-RPC error codes.
func rpcError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, agent.ErrInvalidParams):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	case errors.Is(err, agent.ErrUnknownAction):
		return &jrpc2.Error{Code: codeMethodNotFound, Message: err.Error()}
	case errors.Is(err, ErrNotConnected):
		return &jrpc2.Error{Code: codeInvalidParams, Message: err.Error()}
	default:
		return &jrpc2.Error{Code: codeInternal, Message: err.Error()}
	}
}
