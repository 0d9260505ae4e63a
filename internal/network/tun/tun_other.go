//go:build !linux

package tun

import "errors"

// Open is unimplemented outside Linux. Windows/macOS support needs a
// platform driver (wintun / utun) this module doesn't vendor yet; this
// mirrors the teacher's own unsupported-platform stubs (socket_windows.go
// returns an explicit error rather than silently no-opping).
func Open(namePrefix string) (Device, error) {
	return nil, errors.New("tun: not implemented on this platform")
}
