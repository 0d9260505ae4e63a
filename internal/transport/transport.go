// Package transport defines the byte-pipe abstraction a device connection
// is built on (spec §4.10) and the link-layer chunking every concrete
// driver needs before handing bytes to BLE or SPP: both are MTU-bounded,
// so anything the SAR layer hands down gets sliced before it reaches the
// radio.
package transport

import (
	"context"
	"sync"
)

// Driver is one physical connection to a device. Send must not return
// until the chunk has actually been handed to the radio stack; Closed
// fires once the underlying link drops.
type Driver interface {
	Send(ctx context.Context, chunk []byte) error
	Closed() <-chan struct{}
}

// Chunk sizes per spec §4.10: BLE's ATT MTU leaves much less room per
// write than a classic-Bluetooth SPP socket does.
const (
	ChunkSizeBLE = 244
	ChunkSizeSPP = 977
)

// SPPHandshake is the fixed byte sequence a freshly opened SPP socket must
// send before the device will start framing L1 traffic over it.
var SPPHandshake = []byte{0xBA, 0xDC, 0xFE, 0x00, 0xC0, 0x03, 0x00, 0x00, 0x01, 0x00, 0xEF}

// ChunkSize picks the chunking unit for driver.
func ChunkSize(driver Driver) int {
	if _, ok := driver.(bleTagged); ok {
		return ChunkSizeBLE
	}
	return ChunkSizeSPP
}

// bleTagged is implemented by BLE drivers so ChunkSize can tell them apart
// from SPP drivers without an import cycle on the ble package.
type bleTagged interface {
	IsBLE() bool
}

// Pipe serializes writes to a single Driver and splits payloads into
// MTU-sized chunks, so the SAR controller's Sender can stay oblivious to
// transport framing.
type Pipe struct {
	mu        sync.Mutex
	driver    Driver
	chunkSize int
}

func NewPipe(driver Driver) *Pipe {
	return &Pipe{driver: driver, chunkSize: ChunkSize(driver)}
}

// Send chunks payload and writes each piece in order, holding the pipe's
// lock for the whole call so concurrent SAR/MASS writers can't interleave.
func (p *Pipe) Send(ctx context.Context, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(payload) == 0 {
		return p.driver.Send(ctx, payload)
	}
	for offset := 0; offset < len(payload); offset += p.chunkSize {
		end := offset + p.chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := p.driver.Send(ctx, payload[offset:end]); err != nil {
			return err
		}
	}
	return nil
}

// Closed forwards the underlying driver's closed signal.
func (p *Pipe) Closed() <-chan struct{} { return p.driver.Closed() }
