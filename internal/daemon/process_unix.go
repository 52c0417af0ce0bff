//go:build !windows

package daemon

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const pollInterval = 100 * time.Millisecond

// processAlive probes pid with signal 0. EPERM means the process exists
// under another user.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Stop sends SIGTERM to pid and waits up to timeout for it to exit before
// sending SIGKILL. It reports whether the kill was forced.
func Stop(pid int, timeout time.Duration) (forced bool, err error) {
	if !processAlive(pid) {
		return false, fmt.Errorf("agent not running (PID %d)", pid)
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return false, fmt.Errorf("failed to send SIGTERM: %w", err)
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
	if err := unix.Kill(pid, unix.SIGKILL); err != nil {
		return true, fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	return true, nil
}
