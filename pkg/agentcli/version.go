package agentcli

import (
	"context"
	"fmt"
	"io"
	"os"
)

// VersionCheckEnv suppresses version mismatch warnings when set.
const VersionCheckEnv = "TIMEPULSE_SUPPRESS_VERSION_CHECK"

// CheckVersionMismatch warns on w when the agent runs a different version
// than expected. It never fails the caller.
func (c *Client) CheckVersionMismatch(ctx context.Context, w io.Writer, expected string) {
	if expected == "" || os.Getenv(VersionCheckEnv) != "" {
		return
	}
	got, err := c.Version(ctx)
	if err != nil {
		fmt.Fprintf(w, "Warning: could not verify agent version: %v\n", err)
		return
	}
	if got != expected {
		fmt.Fprintf(w, "Warning: CLI version (%s) differs from agent version (%s)\n", expected, got)
		fmt.Fprintf(w, "Run 'timepulse stop-agent' to restart the agent with the new version.\n")
	}
}
