//go:build !windows

package server

import "os"

// setSocketPermissions restricts the bus socket to its owner.
func setSocketPermissions(path string) {
	_ = os.Chmod(path, 0700)
}
