// Package device composes the per-device protocol stack: SAR framing, L2
// dispatch, the cipher registry entry, authentication, MASS transfers, and
// the PB service handlers, wired together the way spec §5 describes a
// device's lifetime: one instance per connection, torn down on disconnect.
package device

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/auth"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/cipher"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/dispatch"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/events"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/mass"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/network"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/network/tun"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/sar"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/services"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/transport"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l2"
)

// Config seeds a Device's per-connection settings.
type Config struct {
	Addr            string
	Name            string
	SharedSecretHex string
	IsAndroid       bool
	ConnectType     string
	SAR             sar.Config
	Mass            mass.Config

	EnableTunnel  bool
	EnableCapture bool
	CaptureDir    string
}

// Device owns one connected watch's whole protocol stack.
type Device struct {
	cfg   Config
	log   *logging.Logger
	pipe  *transport.Pipe
	codec pb.Codec

	ciphers *cipher.Registry
	sarCtl  *sar.Controller
	disp    *dispatch.Dispatcher
	tunnel  *network.Tunnel

	Auth       *auth.Service
	Mass       *mass.Engine
	DeviceInfo *services.DeviceInfoService
	Watchface  *services.WatchfaceService
	Sync       *services.SyncService
	Thirdparty *services.ThirdpartyService

	mu        sync.Mutex
	connected bool
}

// New builds a Device's full stack and registers its channel handlers, but
// does not itself open a transport: callers feed inbound bytes through
// OnBytes, and outbound bytes flow out through driver via the Pipe built
// from it here.
func New(cfg Config, driver transport.Driver, ciphers *cipher.Registry, bus *events.Bus, log *logging.Logger) *Device {
	d := &Device{
		cfg:     cfg,
		log:     log,
		pipe:    transport.NewPipe(driver),
		codec:   pb.DefaultCodec,
		ciphers: ciphers,
	}

	d.sarCtl = sar.New(cfg.SAR, d.sendRaw, log)
	d.disp = dispatch.New(d.sarCtl, d.cipherLookup, log)

	d.Auth = auth.NewService(cfg.Addr, cfg.SharedSecretHex, cfg.IsAndroid, cfg.ConnectType, d.enqueuePB, ciphers, log)
	d.DeviceInfo = services.NewDeviceInfoService(d.enqueuePB, d.codec)
	d.Watchface = services.NewWatchfaceService(d.enqueuePB, d.codec)
	d.Sync = services.NewSyncService(d.enqueuePB, d.codec)
	d.Thirdparty = services.NewThirdpartyService(cfg.Addr, d.enqueuePB, d.codec, bus)
	d.Mass = mass.NewEngine(d.sarCtl, d.enqueuePB, d.codec, cfg.Mass, d.refreshQuickApps, log)

	d.disp.On(l2.ChannelPB, d.onPBPacket)

	if cfg.EnableTunnel {
		d.setupTunnel(cfg, log)
	}

	return d
}

// refreshQuickApps re-pulls the device's installed resource list after a
// third-party app install completes (spec §4.6.8: there is no dedicated
// quick-app-list push, so a watchface list refresh is the nearest signal
// that the companion's cached app state should be re-synced).
func (d *Device) refreshQuickApps() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := d.Watchface.ListWatchfaces(ctx); err != nil && d.log != nil {
		d.log.Warning("device: quick-app refresh failed:", err)
	}
}

// setupTunnel opens the host TUN interface for this device's NETWORK
// channel and wires it into the dispatcher. New calls it only when
// cfg.EnableTunnel is set; a platform without TUN support (or a sandboxed
// test environment lacking /dev/net/tun) degrades to no network bridging
// rather than failing the whole connection.
func (d *Device) setupTunnel(cfg Config, log *logging.Logger) {
	dev, err := tun.Open("astrobox")
	if err != nil {
		if log != nil {
			log.Warning("device: tun open failed, network bridge disabled:", err)
		}
		return
	}

	var opts []network.Option
	if cfg.EnableCapture && cfg.CaptureDir != "" {
		if w, err := d.openCapture(cfg.CaptureDir); err != nil {
			if log != nil {
				log.Warning("device: capture file open failed:", err)
			}
		} else {
			opts = append(opts, network.WithCapture(w))
		}
	}

	d.tunnel = network.New(dev, d.enqueueNetwork, network.LeaseConfig{}, log, opts...)
	d.disp.On(l2.ChannelNetwork, d.tunnel.OnDevicePacket)
	go func() {
		if err := d.tunnel.Run(); err != nil && log != nil {
			log.Warning("device: tunnel run stopped:", err)
		}
	}()
}

func (d *Device) openCapture(dir string) (*network.PcapWriter, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	name := d.cfg.Addr
	if name == "" {
		name = "device"
	}
	f, err := os.Create(filepath.Join(dir, fmt.Sprintf("%s.pcap", name)))
	if err != nil {
		return nil, err
	}
	return network.NewPcapWriter(f), nil
}

// enqueueNetwork hands a pre-encoded NETWORK-channel L2 frame (built by the
// tunnel) to the SAR controller for reliable delivery, the same path PB
// traffic funnels through via enqueuePB.
func (d *Device) enqueueNetwork(frame []byte) error {
	d.sarCtl.Enqueue(frame)
	return nil
}

// NetworkRates reports the tunnel's current (rx, tx) bytes/sec, or (0, 0)
// if no tunnel is active for this device.
func (d *Device) NetworkRates() (rx, tx float64) {
	if d.tunnel == nil {
		return 0, 0
	}
	return d.tunnel.Meter().RatesBytesPerSec()
}

func (d *Device) sendRaw(frame []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return d.pipe.Send(ctx, frame)
}

func (d *Device) cipherLookup() *l2.Cipher {
	entry, ok := d.ciphers.Lookup(d.cfg.Addr)
	if !ok {
		return nil
	}
	encrypt, decrypt := entry.Pair()
	return &l2.Cipher{Encrypt: encrypt, Decrypt: decrypt}
}

// enqueuePB wraps one PB packet into an L2 frame on the PB channel,
// encrypting it whenever a cipher entry has been published for this
// device, and hands it to the SAR controller for reliable delivery. Every
// service's Sender is bound to this one method, so all outbound PB traffic
// for a device funnels through a single encode/encrypt/enqueue path.
func (d *Device) enqueuePB(p pb.Packet) error {
	payload, err := d.codec.Marshal(envelope{Type: int32(p.Type), ID: p.ID, Body: p.Payload})
	if err != nil {
		return err
	}
	if entry, ok := d.ciphers.Lookup(d.cfg.Addr); ok {
		encrypt, _ := entry.Pair()
		l2pkt, err := l2.EncodeEncrypted(l2.ChannelPB, payload, l2.Cipher{Encrypt: encrypt})
		if err != nil {
			return err
		}
		d.sarCtl.Enqueue(l2pkt)
		return nil
	}
	d.sarCtl.Enqueue(l2.Encode(l2.ChannelPB, l2.OpWrite, payload))
	return nil
}

// envelope is the wire shape one PB packet takes inside the JSONCodec.
type envelope struct {
	Type int32  `json:"type"`
	ID   int32  `json:"id"`
	Body []byte `json:"body"`
}

// onPBPacket is the dispatcher's PB-channel handler: it unwraps the
// envelope and routes to whichever service owns that message type.
func (d *Device) onPBPacket(raw l2.Packet) {
	var env envelope
	if err := d.codec.Unmarshal(raw.Payload, &env); err != nil {
		if d.log != nil {
			d.log.Warning("device: malformed PB envelope:", err)
		}
		return
	}
	p := pb.Packet{Type: pb.MessageType(env.Type), ID: env.ID, Payload: env.Body}
	switch p.Type {
	case pb.TypeAccount:
		d.Auth.OnPacket(p, d.codec)
	case pb.TypeMass:
		d.Mass.OnPacket(p)
	case pb.TypeSystem:
		d.DeviceInfo.OnPacket(p)
	case pb.TypeWatchFace:
		d.Watchface.OnPacket(p)
	case pb.TypeThirdpartyApp:
		d.Thirdparty.OnPacket(p)
	}
}

// OnBytes feeds inbound transport bytes into the receive pipeline.
func (d *Device) OnBytes(b []byte) { d.disp.OnBytes(b) }

// SetConnected marks the device's connection state for ctlsock reporting.
func (d *Device) SetConnected(connected bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
}

// Connected reports whether the underlying transport is currently up.
func (d *Device) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// IsAuthed reports whether the authentication handshake has completed.
func (d *Device) IsAuthed() bool {
	return d.Auth.Record().IsAuthed()
}

// Close stops the SAR controller's background timers and the network
// tunnel, if one is active.
func (d *Device) Close() {
	d.sarCtl.Stop()
	if d.tunnel != nil {
		_ = d.tunnel.Stop()
	}
}
