// Package daemon is the top-level composition root: it owns the component
// registry, the shared cipher registry and interconnect bus, and every
// connected device's lifetime, and implements ctlsock.Backend so the
// control surface never has to know about any of that directly.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/cipher"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/config"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/ctlsock"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/device"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/events"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/mass"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/registry"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/sar"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/transport"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/transport/ble"
)

var ErrUnknownDataType = errors.New("daemon: unknown install data_type")

var dataTypeByName = map[string]pb.MassDataType{
	"watchface":      pb.MassDataWatchface,
	"thirdparty_app": pb.MassDataThirdpartyApp,
	"firmware":       pb.MassDataFirmware,
}

// Daemon wires one process's whole device population together.
type Daemon struct {
	cfg     config.Config
	log     *logging.Logger
	reg     *registry.Registry
	ciphers *cipher.Registry
	bus     *events.Bus
}

func New(cfg config.Config, log *logging.Logger) *Daemon {
	return &Daemon{
		cfg:     cfg,
		log:     log,
		reg:     registry.New(),
		ciphers: cipher.NewRegistry(),
		bus:     events.NewBus(),
	}
}

// Stop halts the registry event loop. Connected devices' SAR timers are
// stopped individually as each is torn down by the caller first.
func (d *Daemon) Stop() {
	d.reg.Stop()
}

// ConnectBLE dials a configured device over Bluetooth LE and registers it.
func (d *Daemon) ConnectBLE(dc config.DeviceConfig) error {
	var dev *device.Device
	driver, err := ble.Dial(dc.Addr, func(b []byte) {
		if dev != nil {
			dev.OnBytes(b)
		}
	})
	if err != nil {
		return fmt.Errorf("daemon: ble dial %s: %w", dc.Addr, err)
	}
	dev = d.buildDevice(dc, driver)
	d.reg.Register(dc.Addr, dev)
	return nil
}

// ConnectTransport registers addr against an already-open transport.Driver,
// for connect types this core doesn't dial itself (SPP sockets are handed
// in by whatever opened the RFCOMM channel; see internal/transport/spp).
func (d *Daemon) ConnectTransport(dc config.DeviceConfig, driver transport.Driver) {
	dev := d.buildDevice(dc, driver)
	d.reg.Register(dc.Addr, dev)
}

func (d *Daemon) buildDevice(dc config.DeviceConfig, driver transport.Driver) *device.Device {
	cfg := device.Config{
		Addr:            dc.Addr,
		Name:            dc.Name,
		SharedSecretHex: dc.SharedSecret,
		IsAndroid:       dc.IsAndroid,
		ConnectType:     dc.ConnectType,
		SAR:             sarConfigFor(dc),
		Mass:            massConfigFor(d.cfg.Mass),
		EnableTunnel:    d.cfg.Network.EnableTunnel,
		EnableCapture:   d.cfg.Network.EnableCapture,
		CaptureDir:      d.cfg.Network.CaptureDir,
	}
	return device.New(cfg, driver, d.ciphers, d.bus, d.log)
}

func sarConfigFor(dc config.DeviceConfig) sar.Config {
	return sar.Config{Version: dc.ForceDeviceVer}
}

func massConfigFor(mc config.MassConfig) mass.Config {
	return mass.Config{
		AckWaitTimeout:       time.Duration(mc.AckWaitTimeoutSecs) * time.Second,
		AckPollInterval:      time.Duration(mc.AckPollIntervalMs) * time.Millisecond,
		AckStallDefaultMs:    mc.AckStallDefaultMs,
		AckStallMinMs:        mc.AckStallMinMs,
		AckStallMaxMs:        mc.AckStallMaxMs,
		BacklogMultiplier:    mc.BacklogMultiplier,
		MaxBatchParts:        mc.MaxBatchParts,
		FallbackBatchParts:   mc.FallbackBatchParts,
		FallbackBacklogLimit: mc.FallbackBacklogLimit,
	}
}

// Disconnect tears a device down and removes it from the registry.
func (d *Daemon) Disconnect(addr string) {
	ctx := context.Background()
	registry.WithDevice(ctx, d.reg, addr, func(w *registry.World, e *registry.Entity) struct{} {
		if dev, ok := e.Handle.(*device.Device); ok {
			dev.Close()
		}
		return struct{}{}
	})
	d.reg.Unregister(addr)
}

// Bus exposes the interconnect bus for local subscribers (e.g. a future
// ctlsock streaming endpoint).
func (d *Daemon) Bus() *events.Bus { return d.bus }

// ListDevices implements ctlsock.Backend.
func (d *Daemon) ListDevices() []ctlsock.DeviceSummary {
	addrs := d.reg.Addrs()
	out := make([]ctlsock.DeviceSummary, 0, len(addrs))
	for _, addr := range addrs {
		if summary, ok := d.GetDevice(addr); ok {
			out = append(out, summary)
		}
	}
	return out
}

// GetDevice implements ctlsock.Backend.
func (d *Daemon) GetDevice(addr string) (ctlsock.DeviceSummary, bool) {
	ctx := context.Background()
	summary, found, err := registry.WithDevice(ctx, d.reg, addr, func(w *registry.World, e *registry.Entity) ctlsock.DeviceSummary {
		dev, _ := e.Handle.(*device.Device)
		name := addr
		dc, ok := d.cfg.DeviceByAddr(addr)
		if ok && dc.Name != "" {
			name = dc.Name
		}
		s := ctlsock.DeviceSummary{Addr: addr, Name: name}
		if dev != nil {
			s.Connected = dev.Connected()
			s.Authed = dev.IsAuthed()
			s.RxRate, s.TxRate = dev.NetworkRates()
		}
		return s
	})
	if err != nil || !found {
		return ctlsock.DeviceSummary{}, false
	}
	return summary, true
}

// Install implements ctlsock.Backend: it reads the file at req.Path and
// hands it to the device's MASS engine, running the upload in the
// background so the control request returns as soon as it's accepted.
func (d *Daemon) Install(addr string, req ctlsock.InstallRequest) error {
	dataType, ok := dataTypeByName[req.DataType]
	if !ok {
		return ErrUnknownDataType
	}
	data, err := os.ReadFile(req.Path)
	if err != nil {
		return fmt.Errorf("daemon: read %s: %w", req.Path, err)
	}

	ctx := context.Background()
	_, found, err := registry.WithDevice(ctx, d.reg, addr, func(w *registry.World, e *registry.Entity) struct{} {
		dev, _ := e.Handle.(*device.Device)
		if dev == nil {
			return struct{}{}
		}
		go func() {
			uploadCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			if err := dev.Mass.Upload(uploadCtx, dataType, data); err != nil && d.log != nil {
				d.log.Error("daemon: install failed for", addr, ":", err)
			}
		}()
		return struct{}{}
	})
	if err != nil {
		return err
	}
	if !found {
		return registry.ErrNoSuchDevice
	}
	return nil
}

var _ ctlsock.Backend = (*Daemon)(nil)
