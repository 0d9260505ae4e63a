//go:build linux

package tun

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	ifnamsize = 16
	tunsetiff = 0x400454ca // TUNSETIFF on linux/amd64 and linux/arm64
)

type ifReq struct {
	name  [ifnamsize]byte
	flags uint16
	_     [22]byte
}

type linuxDevice struct {
	file *os.File
	name string
}

// Open creates (or attaches to) a TUN interface named namePrefix* and
// returns a Device reading/writing raw IPv4 packets, no Ethernet framing.
func Open(namePrefix string) (Device, error) {
	f, err := os.OpenFile("/dev/net/tun", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("tun: open /dev/net/tun: %w", err)
	}

	var req ifReq
	copy(req.name[:], namePrefix)
	req.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), uintptr(tunsetiff), uintptr(unsafe.Pointer(&req))); errno != 0 {
		f.Close()
		return nil, fmt.Errorf("tun: TUNSETIFF ioctl: %w", errno)
	}

	name := string(req.name[:])
	for i, b := range req.name {
		if b == 0 {
			name = string(req.name[:i])
			break
		}
	}

	return &linuxDevice{file: f, name: name}, nil
}

func (d *linuxDevice) Read(p []byte) (int, error)  { return d.file.Read(p) }
func (d *linuxDevice) Write(p []byte) (int, error) { return d.file.Write(p) }
func (d *linuxDevice) Close() error                { return d.file.Close() }
func (d *linuxDevice) Name() string                { return d.name }
