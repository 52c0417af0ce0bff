//go:build windows

package daemon

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/windows"
)

func processAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.SYNCHRONIZE, false, uint32(pid))
	if err != nil {
		return false
	}
	windows.CloseHandle(handle)
	return true
}

// Stop terminates pid. Windows has no SIGTERM, so the kill is always forced.
func Stop(pid int, timeout time.Duration) (bool, error) {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false, fmt.Errorf("process not found: %w", err)
	}
	if err := p.Kill(); err != nil {
		return true, err
	}
	return true, nil
}
