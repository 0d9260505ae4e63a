// Package tun opens the host-side virtual network interface the device's
// IP traffic is bridged onto (spec §4.8). Creation is platform-specific;
// this file holds the shared interface every platform implementation
// satisfies, following the teacher's socket.go / socket_<os>.go split.
package tun

import "io"

// Device is a user-space handle to a host TUN interface: Read returns one
// raw IPv4 packet per call, Write injects one back into the kernel routing
// table.
type Device interface {
	io.ReadWriteCloser
	Name() string
}
