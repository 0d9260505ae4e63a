// Package ble is the reference transport.Driver for Bluetooth LE devices,
// built on github.com/paypal/gatt's central-mode API (the same shape as the
// package's own bundled discoverer/explorer examples: NewDevice, Handle,
// Init, then Connect/WriteCharacteristic from inside the PeripheralConnected
// callback).
package ble

import (
	"context"
	"errors"
	"sync"

	"github.com/paypal/gatt"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/transport"
)

// Service/characteristic UUIDs the companion protocol's L1 transport is
// exposed on.
var (
	ServiceUUID = gatt.MustParseUUID("0000fee0-0000-1000-8000-00805f9b34fb")
	WriteCharUUID = gatt.MustParseUUID("0000fee1-0000-1000-8000-00805f9b34fb")
	NotifyCharUUID = gatt.MustParseUUID("0000fee2-0000-1000-8000-00805f9b34fb")
)

var ErrNotConnected = errors.New("ble: peripheral not connected")

// Driver is a transport.Driver backed by one gatt.Peripheral connection.
type Driver struct {
	mu         sync.Mutex
	device     gatt.Device
	peripheral gatt.Peripheral
	writeChar  *gatt.Characteristic
	onData     func([]byte)
	closed     chan struct{}
	closeOnce  sync.Once
}

// IsBLE marks this driver for transport.ChunkSize's dispatch.
func (d *Driver) IsBLE() bool { return true }

// Dial opens a gatt central device, scans for addr, connects, discovers the
// companion service, and subscribes to notifications, delivering inbound
// bytes to onData.
func Dial(addr string, onData func([]byte)) (*Driver, error) {
	d := &Driver{onData: onData, closed: make(chan struct{})}

	device, err := gatt.NewDevice()
	if err != nil {
		return nil, err
	}
	d.device = device

	device.Handle(
		gatt.PeripheralDiscovered(func(p gatt.Peripheral, a *gatt.Advertisement, rssi int) {
			if p.ID() == addr {
				device.StopScanning()
				device.Connect(p)
			}
		}),
		gatt.PeripheralConnected(d.onConnected),
		gatt.PeripheralDisconnected(func(p gatt.Peripheral, err error) {
			d.closeOnce.Do(func() { close(d.closed) })
		}),
	)

	device.Init(func(dev gatt.Device, state gatt.State) {
		if state == gatt.StatePoweredOn {
			dev.Scan([]gatt.UUID{}, false)
		}
	})

	return d, nil
}

func (d *Driver) onConnected(p gatt.Peripheral, err error) {
	if err != nil {
		return
	}
	services, err := p.DiscoverServices([]gatt.UUID{ServiceUUID})
	if err != nil || len(services) == 0 {
		return
	}
	chars, err := p.DiscoverCharacteristics([]gatt.UUID{WriteCharUUID, NotifyCharUUID}, services[0])
	if err != nil {
		return
	}

	d.mu.Lock()
	d.peripheral = p
	for _, c := range chars {
		if c.UUID().Equal(WriteCharUUID) {
			ch := c
			d.writeChar = ch
		}
		if c.UUID().Equal(NotifyCharUUID) {
			p.DiscoverDescriptors(nil, c)
			p.SetNotifyValue(c, func(c *gatt.Characteristic, b []byte, err error) {
				if err == nil && d.onData != nil {
					d.onData(b)
				}
			})
		}
	}
	d.mu.Unlock()
}

// Send writes one already-chunked payload to the write characteristic.
func (d *Driver) Send(ctx context.Context, chunk []byte) error {
	d.mu.Lock()
	p, c := d.peripheral, d.writeChar
	d.mu.Unlock()
	if p == nil || c == nil {
		return ErrNotConnected
	}
	return p.WriteCharacteristic(c, chunk, true)
}

// Closed fires once the peripheral disconnects.
func (d *Driver) Closed() <-chan struct{} { return d.closed }

var _ transport.Driver = (*Driver)(nil)
