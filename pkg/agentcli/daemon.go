package agentcli

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/timepulse/timepulse/common"
)

const (
	agentStartTimeout  = 3 * time.Second
	socketPollInterval = 50 * time.Millisecond
	socketDialTimeout  = 100 * time.Millisecond
)

// spawn starts the agent process. Replaced in tests.
var spawn = spawnAgent

// EnsureAgent starts the agent in the background unless it already answers
// on path, then waits for its socket. An empty path uses common.SocketPath().
func EnsureAgent(ctx context.Context, path string) error {
	if path == "" {
		path = common.SocketPath()
	}
	if IsAgentRunning(path) {
		return nil
	}
	if err := spawn(); err != nil {
		return err
	}
	return waitForSocket(ctx, path, agentStartTimeout)
}

// IsAgentRunning reports whether something accepts connections on path.
func IsAgentRunning(path string) bool {
	conn, err := net.DialTimeout("unix", path, socketDialTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func waitForSocket(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(socketPollInterval)
	defer ticker.Stop()
	for {
		if IsAgentRunning(path) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("agent failed to start within %v", timeout)
		case <-ticker.C:
		}
	}
}
