// Package dispatch implements the per-device receive path: byte-stream
// reassembly into L1 frames, handing each frame to the SAR controller, and
// routing whatever the SAR controller says should go upward to the L2 codec
// and then to the service handlers registered for that channel.
package dispatch

import (
	"sync"

	"github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l1"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l2"
)

// SAR is the subset of *sar.Controller the dispatcher needs; kept as an
// interface so tests can fake it out.
type SAR interface {
	OnL1(f l1.Frame) bool
}

// Handler receives a decoded L2 packet for the channel it was registered
// against. Per spec §5, handlers must not suspend: they run synchronously on
// whatever goroutine is feeding the dispatcher.
type Handler func(l2.Packet)

// CipherLookup resolves the current (encrypt, decrypt) capability for the
// owning device, or nil if authentication has not completed yet.
type CipherLookup func() *l2.Cipher

const magicByte = 0xA5

// Dispatcher owns one device's receive buffer and channel routing table.
type Dispatcher struct {
	mu       sync.Mutex
	buf      []byte
	sar      SAR
	cipherOf CipherLookup
	handlers map[l2.Channel][]Handler
	log      *logging.Logger
}

func New(sarCtl SAR, cipherOf CipherLookup, log *logging.Logger) *Dispatcher {
	return &Dispatcher{
		sar:      sarCtl,
		cipherOf: cipherOf,
		handlers: make(map[l2.Channel][]Handler),
		log:      log,
	}
}

// On registers handler to receive every delivered L2 packet for channel.
func (d *Dispatcher) On(channel l2.Channel, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[channel] = append(d.handlers[channel], handler)
}

// OnBytes appends an inbound burst to the receive buffer and processes as
// many complete L1 frames as are now available.
func (d *Dispatcher) OnBytes(b []byte) {
	d.mu.Lock()
	d.buf = append(d.buf, b...)
	frames := d.extractFramesLocked()
	if len(d.buf) == 0 {
		d.buf = nil
	}
	d.mu.Unlock()

	for _, raw := range frames {
		d.process(raw)
	}
}

// extractFramesLocked repeatedly scans for a confirmed magic pair, then
// slices out a complete frame once its declared length is fully buffered.
// Per spec §6, bytes need not be frame-aligned: a magic pair split exactly
// across two OnBytes calls must survive as a one-byte trailing candidate
// rather than being discarded. Caller must hold d.mu.
func (d *Dispatcher) extractFramesLocked() [][]byte {
	var out [][]byte
	for {
		idx := findMagicPairLocked(d.buf)
		if idx == -1 {
			// No confirmed pair yet. A lone trailing magic byte may be the
			// first half of a pair whose second half hasn't arrived; keep
			// it instead of wiping the buffer.
			if n := len(d.buf); n > 0 && d.buf[n-1] == magicByte {
				d.buf = d.buf[n-1:]
			} else {
				d.buf = d.buf[:0]
			}
			return out
		}
		if idx > 0 {
			d.buf = d.buf[idx:]
		}
		if len(d.buf) < 6 {
			return out
		}
		length, err := l1.DeclaredLength(d.buf)
		if err != nil {
			return out
		}
		total := 8 + length
		if len(d.buf) < total {
			return out
		}
		frame := append([]byte{}, d.buf[:total]...)
		out = append(out, frame)
		d.buf = d.buf[total:]
	}
}

// findMagicPairLocked returns the index of the first confirmed two-byte
// magic sequence in buf, or -1 if none is present yet.
func findMagicPairLocked(buf []byte) int {
	for i := 0; i+1 < len(buf); i++ {
		if buf[i] == magicByte && buf[i+1] == magicByte {
			return i
		}
	}
	return -1
}

func (d *Dispatcher) process(raw []byte) {
	f, err := l1.Decode(raw)
	if err != nil {
		if d.log != nil {
			d.log.Warning("dispatch: malformed L1 frame skipped:", err)
		}
		return
	}
	if !d.sar.OnL1(f) {
		return
	}
	if f.Type != l1.TypeDATA {
		return
	}

	var cipher *l2.Cipher
	if d.cipherOf != nil {
		cipher = d.cipherOf()
	}
	pkt, err := l2.Decode(f.Payload, cipher)
	if err != nil {
		if d.log != nil {
			d.log.Warning("dispatch: L2 decode failed, frame discarded:", err)
		}
		return
	}

	d.mu.Lock()
	hs := append([]Handler{}, d.handlers[pkt.Channel]...)
	d.mu.Unlock()
	for _, h := range hs {
		h(pkt)
	}
}
