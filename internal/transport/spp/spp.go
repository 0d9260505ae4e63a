// Package spp is the reference transport.Driver for classic-Bluetooth
// Serial Port Profile sockets, which on every platform Go can reach them
// through already present themselves as a plain net.Conn (an RFCOMM
// socket opened by the OS's Bluetooth stack before this process ever sees
// the file descriptor).
package spp

import (
	"context"
	"net"
	"sync"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/transport"
)

// Driver wraps an already-connected SPP socket.
type Driver struct {
	mu     sync.Mutex
	conn   net.Conn
	closed chan struct{}
	once   sync.Once
}

// Open wraps conn, sending the fixed opening handshake the device expects
// before it starts framing L1 traffic over this socket.
func Open(conn net.Conn) (*Driver, error) {
	d := &Driver{conn: conn, closed: make(chan struct{})}
	if _, err := conn.Write(transport.SPPHandshake); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Driver) Send(ctx context.Context, chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = d.conn.SetWriteDeadline(deadline)
	}
	_, err := d.conn.Write(chunk)
	return err
}

// Closed fires once Close is called or a read on the underlying conn
// observes EOF (the caller's read loop should call Close in that case).
func (d *Driver) Closed() <-chan struct{} { return d.closed }

// Close shuts down the socket and signals Closed.
func (d *Driver) Close() error {
	d.once.Do(func() { close(d.closed) })
	return d.conn.Close()
}

// Read delegates to the underlying socket, for the caller's own receive
// loop feeding the dispatcher.
func (d *Driver) Read(p []byte) (int, error) { return d.conn.Read(p) }

var _ transport.Driver = (*Driver)(nil)
