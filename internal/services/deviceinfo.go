package services

import (
	"context"
	"sync"

	"github.com/blang/semver"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

const deviceInfoSlot = "deviceinfo"

// DeviceInfoService requests and caches the device's identity record
// (spec §4.7), parsing its firmware version with blang/semver so callers
// can make capability decisions (e.g. gating a MASS data type) on a real
// ordering instead of a raw string compare.
type DeviceInfoService struct {
	send  Sender
	codec pb.Codec
	slots *RequestSlots[pb.DeviceInfoResponse]

	mu       sync.Mutex
	cached   *pb.DeviceInfoResponse
	firmware semver.Version
}

// Sender writes one PB packet to the device.
type Sender func(pb.Packet) error

func NewDeviceInfoService(send Sender, codec pb.Codec) *DeviceInfoService {
	if codec == nil {
		codec = pb.DefaultCodec
	}
	return &DeviceInfoService{
		send:  send,
		codec: codec,
		slots: NewRequestSlots[pb.DeviceInfoResponse](1),
	}
}

// OnPacket is the TypeSystem handler registered with the dispatcher.
func (s *DeviceInfoService) OnPacket(p pb.Packet) {
	if p.Type != pb.TypeSystem || p.ID != pb.OpDeviceInfoResponse {
		return
	}
	var resp pb.DeviceInfoResponse
	if err := pb.Decode(p, &resp, s.codec); err != nil {
		return
	}

	s.mu.Lock()
	s.cached = &resp
	if v, err := semver.ParseTolerant(resp.FirmwareVersion); err == nil {
		s.firmware = v
	}
	s.mu.Unlock()

	s.slots.Deliver(deviceInfoSlot, resp)
}

// Request sends DeviceInfoRequest and blocks for the device's answer.
func (s *DeviceInfoService) Request(ctx context.Context) (pb.DeviceInfoResponse, error) {
	ch := s.slots.Register(deviceInfoSlot)
	packet, err := pb.Encode(pb.TypeSystem, pb.OpDeviceInfoRequest, pb.DeviceInfoRequest{}, s.codec)
	if err != nil {
		s.slots.Cancel(deviceInfoSlot)
		return pb.DeviceInfoResponse{}, err
	}
	if err := s.send(packet); err != nil {
		s.slots.Cancel(deviceInfoSlot)
		return pb.DeviceInfoResponse{}, err
	}
	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		s.slots.Cancel(deviceInfoSlot)
		return pb.DeviceInfoResponse{}, ctx.Err()
	}
}

// Cached returns the last-seen device info without issuing a new request.
func (s *DeviceInfoService) Cached() (pb.DeviceInfoResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cached == nil {
		return pb.DeviceInfoResponse{}, false
	}
	return *s.cached, true
}

// FirmwareAtLeast reports whether the last-seen firmware version is >= min.
func (s *DeviceInfoService) FirmwareAtLeast(min semver.Version) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firmware.GTE(min)
}
