package agentcli

import (
	"context"

	cws "github.com/coder/websocket"
)

// WSChannel adapts a coder/websocket.Conn to the jrpc2 channel.Channel
// interface. Each websocket message carries exactly one JSON-RPC message.
type WSChannel struct {
	conn *cws.Conn
	ctx  context.Context
}

// NewWSChannel wraps conn. ctx bounds every read and write.
func NewWSChannel(ctx context.Context, conn *cws.Conn) *WSChannel {
	return &WSChannel{conn: conn, ctx: ctx}
}

// Send writes a JSON-RPC message as one text frame.
func (c *WSChannel) Send(data []byte) error {
	return c.conn.Write(c.ctx, cws.MessageText, data)
}

// Recv reads the next JSON-RPC message.
func (c *WSChannel) Recv() ([]byte, error) {
	_, data, err := c.conn.Read(c.ctx)
	return data, err
}

// Close shuts the connection down with a normal closure status.
func (c *WSChannel) Close() error {
	return c.conn.Close(cws.StatusNormalClosure, "")
}
