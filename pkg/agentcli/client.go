// Package agentcli is the foreground side of the message bus: a JSON-RPC
// client for the TimePulse agent.
package agentcli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	cws "github.com/coder/websocket"
	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/channel"

	"github.com/timepulse/timepulse/common"
)

const dialTimeout = 2 * time.Second

// Client talks to a running agent. Pushes from the agent are routed through
// the client's Dispatcher.
type Client struct {
	rpc *jrpc2.Client
	d   *Dispatcher
}

// Dial connects to the agent's unix socket. An empty path uses
// common.SocketPath().
func Dial(ctx context.Context, path string) (*Client, error) {
	if path == "" {
		path = common.SocketPath()
	}
	var d net.Dialer
	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	conn, err := d.DialContext(dctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("error connecting to agent: %w", err)
	}
	return NewClient(channel.Line(conn, conn)), nil
}

// DialWS connects to the agent's websocket endpoint, e.g.
// ws://127.0.0.1:7433/jsonrpc/ws.
func DialWS(ctx context.Context, url, secret string) (*Client, error) {
	conn, _, err := cws.Dial(ctx, url, &cws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + secret}},
	})
	if err != nil {
		return nil, fmt.Errorf("error connecting to agent: %w", err)
	}
	return NewClient(NewWSChannel(context.Background(), conn)), nil
}

// NewClient runs a client over an established channel.
func NewClient(ch channel.Channel) *Client {
	c := &Client{d: NewDispatcher()}
	c.rpc = jrpc2.NewClient(ch, &jrpc2.ClientOptions{OnNotify: c.d.process})
	return c
}

// Dispatcher returns the push dispatcher.
func (c *Client) Dispatcher() *Dispatcher {
	return c.d
}

// Close disconnects from the agent.
func (c *Client) Close() error {
	return c.rpc.Close()
}

func (c *Client) notify(ctx context.Context, action common.Action, params any) error {
	if err := c.rpc.Notify(ctx, string(action), params); err != nil {
		return fmt.Errorf("failed to send %s: %w", action, err)
	}
	return nil
}

// Schedule asks the agent to fire a notification at p.Timestamp.
func (c *Client) Schedule(ctx context.Context, p common.ScheduleParams) error {
	return c.notify(ctx, common.ScheduleNotification, p)
}

// Cancel disarms the notification with id and closes it if visible.
func (c *Client) Cancel(ctx context.Context, id string) error {
	return c.notify(ctx, common.CancelNotification, common.CancelParams{ID: id})
}

// UpdateCache asks the agent to purge its runtime cache.
func (c *Client) UpdateCache(ctx context.Context) error {
	return c.notify(ctx, common.UpdateCache, common.UpdateCacheParams{})
}

// CheckForUpdates asks the agent to revalidate the manifest assets.
func (c *Client) CheckForUpdates(ctx context.Context, isInitialLoad bool) error {
	return c.notify(ctx, common.CheckForUpdates, common.CheckParams{IsInitialLoad: isInitialLoad})
}

// Hello registers url as this instance's address for focus pushes.
func (c *Client) Hello(ctx context.Context, url string) error {
	if _, err := c.rpc.Call(ctx, string(common.ClientHello), common.HelloParams{URL: url}); err != nil {
		return fmt.Errorf("failed to invoke %s: %w", common.ClientHello, err)
	}
	return nil
}

// Status returns the agent's state.
func (c *Client) Status(ctx context.Context) (*common.StatusResult, error) {
	var st common.StatusResult
	if err := c.rpc.CallResult(ctx, string(common.AgentStatus), nil, &st); err != nil {
		return nil, fmt.Errorf("failed to invoke %s: %w", common.AgentStatus, err)
	}
	return &st, nil
}

// Version returns the agent's version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var v struct {
		Version string `json:"version"`
	}
	if err := c.rpc.CallResult(ctx, "system.getVersion", nil, &v); err != nil {
		return "", fmt.Errorf("failed to invoke system.getVersion: %w", err)
	}
	return v.Version, nil
}
