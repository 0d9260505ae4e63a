//go:build windows

package ctlsock

import (
	"net"

	winio "github.com/Microsoft/go-winio"
)

// Listen opens the control surface as a Windows named pipe, the teacher's
// own stand-in for a Unix socket on that platform (socket_windows.go).
func Listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

// Dial connects to an already-running control named pipe at path.
func Dial(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}
