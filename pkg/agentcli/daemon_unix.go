//go:build !windows

package agentcli

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

// spawnAgent runs "<self> agent" detached from the caller's process group
// so it outlives the CLI invocation.
func spawnAgent() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	cmd := exec.Command(executable, "agent")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	_ = cmd.Process.Release()
	return nil
}
