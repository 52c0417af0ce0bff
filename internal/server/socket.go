package server

import (
	"fmt"
	"net"
	"os"
)

// listenUnix binds the bus socket at path, replacing a stale socket file.
func listenUnix(path string) (net.Listener, error) {
	_ = os.Remove(path)
	l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", path, err)
	}
	setSocketPermissions(path)
	return l, nil
}

// cleanupSocket removes the socket file. A missing file is not an error.
func cleanupSocket(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
