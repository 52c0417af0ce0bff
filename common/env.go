// Package common provides the message protocol types and constants shared by
// the TimePulse agent and its foreground clients.
package common

import (
	"os"
	"path/filepath"
)

// Environment variable names for configuration.
const (
	// SocketPathEnv overrides the agent's unix socket path.
	SocketPathEnv = "TIMEPULSE_SOCKET_PATH"

	// HTTPPortEnv overrides the agent's HTTP port (asset proxy and websocket bus).
	HTTPPortEnv = "TIMEPULSE_HTTP_PORT"

	// ConfigDirEnv overrides the configuration/data directory.
	ConfigDirEnv = "TIMEPULSE_CONFIG_DIR"

	// RemoteURLEnv overrides the remote store base URL.
	RemoteURLEnv = "TIMEPULSE_REMOTE_URL"

	// BusSecretEnv sets the bearer token required on the websocket bus.
	BusSecretEnv = "TIMEPULSE_BUS_SECRET"

	// DebugEnv enables debug logging.
	DebugEnv = "TIMEPULSE_DEBUG"
)

// DefaultHTTPPort is used when neither config nor environment set a port.
const DefaultHTTPPort = 7433

// TCPHost is the address the agent's HTTP listener binds to.
const TCPHost = "127.0.0.1"

// SocketPath returns the unix socket path of the agent bus.
func SocketPath() string {
	if path := os.Getenv(SocketPathEnv); path != "" {
		return path
	}
	return filepath.Join(os.TempDir(), "timepulse.sock")
}
