// Package network implements the user-space IPv4 tunnel of spec §4.8: raw
// IP datagrams arriving on the device's NETWORK L2 channel are bridged onto
// a host TUN interface (and vice versa), with an embedded DHCP responder
// servicing the device's own virtual network stack and a bandwidth meter
// for observability.
package network

import (
	"sync"

	"github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/network/tun"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l2"
)

// ToDevice writes a raw IPv4 datagram down to the device's NETWORK channel.
type ToDevice func(payload []byte) error

// Tunnel owns one device's bridge between its NETWORK L2 channel and a
// host TUN interface.
type Tunnel struct {
	dev       tun.Device
	toDevice  ToDevice
	dhcp      *DHCPResponder
	meter     *Meter
	capture   *PcapWriter
	log       *logging.Logger

	mu      sync.Mutex
	closed  bool
	stopped chan struct{}
}

type Option func(*Tunnel)

// WithCapture records every datagram crossing the tunnel (both directions)
// to w in pcap format.
func WithCapture(w *PcapWriter) Option {
	return func(t *Tunnel) { t.capture = w }
}

func New(dev tun.Device, toDevice ToDevice, lease LeaseConfig, log *logging.Logger, opts ...Option) *Tunnel {
	t := &Tunnel{
		dev:      dev,
		toDevice: toDevice,
		dhcp:     NewDHCPResponder(lease),
		meter:    NewMeter(),
		log:      log,
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Meter exposes the tunnel's bandwidth counters.
func (t *Tunnel) Meter() *Meter { return t.meter }

// Run pumps packets from the TUN device to the device link until the TUN
// device is closed or Stop is called. Intended to run on its own goroutine.
func (t *Tunnel) Run() error {
	buf := make([]byte, 65535)
	for {
		n, err := t.dev.Read(buf)
		if err != nil {
			select {
			case <-t.stopped:
				return nil
			default:
			}
			return err
		}
		packet := append([]byte{}, buf[:n]...)
		t.meter.RecordTx(len(packet))
		if t.capture != nil {
			_ = t.capture.WritePacket(packet)
		}
		if err := t.toDevice(l2.Encode(l2.ChannelNetwork, l2.OpWrite, packet)); err != nil {
			if t.log != nil {
				t.log.Warning("network: write to device failed:", err)
			}
		}
	}
}

// OnDevicePacket handles one inbound raw IPv4 datagram from the device
// (already L2-decoded). DHCP client messages are answered directly without
// ever reaching the TUN device; everything else is written through.
func (t *Tunnel) OnDevicePacket(pkt l2.Packet) {
	if pkt.Channel != l2.ChannelNetwork {
		return
	}
	t.meter.RecordRx(len(pkt.Payload))
	if t.capture != nil {
		_ = t.capture.WritePacket(pkt.Payload)
	}

	if reply, handled := t.dhcp.HandleIPPacket(pkt.Payload); handled {
		t.meter.RecordTx(len(reply))
		if err := t.toDevice(l2.Encode(l2.ChannelNetwork, l2.OpWrite, reply)); err != nil && t.log != nil {
			t.log.Warning("network: dhcp reply send failed:", err)
		}
		return
	}

	if _, err := t.dev.Write(pkt.Payload); err != nil && t.log != nil {
		t.log.Warning("network: write to tun failed:", err)
	}
}

// Stop closes the underlying TUN device, unblocking Run.
func (t *Tunnel) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.stopped)
	return t.dev.Close()
}
