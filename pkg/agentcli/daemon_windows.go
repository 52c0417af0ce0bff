//go:build windows

package agentcli

import (
	"fmt"
	"os"
	"os/exec"
)

func spawnAgent() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}
	cmd := exec.Command(executable, "agent")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}
	_ = cmd.Process.Release()
	return nil
}
