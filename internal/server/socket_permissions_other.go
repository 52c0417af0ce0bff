//go:build windows

package server

func setSocketPermissions(string) {}
