package services

import (
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/events"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

// ThirdpartyService relays traffic between a device-resident third-party
// app and its host companion package (spec §4.7): connect/disconnect
// status and opaque message content, fanned out on the interconnect bus so
// any number of local listeners (CLI, ctlsock) can observe it.
type ThirdpartyService struct {
	deviceAddr string
	send       Sender
	codec      pb.Codec
	bus        *events.Bus
}

func NewThirdpartyService(deviceAddr string, send Sender, codec pb.Codec, bus *events.Bus) *ThirdpartyService {
	if codec == nil {
		codec = pb.DefaultCodec
	}
	return &ThirdpartyService{deviceAddr: deviceAddr, send: send, codec: codec, bus: bus}
}

// OnPacket is the TypeThirdpartyApp handler registered with the dispatcher.
func (s *ThirdpartyService) OnPacket(p pb.Packet) {
	if p.Type != pb.TypeThirdpartyApp {
		return
	}
	switch p.ID {
	case pb.OpPhoneAppStatus:
		var status pb.PhoneAppStatus
		if err := pb.Decode(p, &status, s.codec); err != nil {
			return
		}
		s.bus.Publish(events.InterconnectMessage{
			DeviceAddr:  s.deviceAddr,
			PackageName: status.BasicInfo.PackageName,
			Payload:     []byte{byte(status.Status)},
		})
	case pb.OpMessageContent:
		var msg pb.MessageContent
		if err := pb.Decode(p, &msg, s.codec); err != nil {
			return
		}
		s.bus.Publish(events.InterconnectMessage{
			DeviceAddr:  s.deviceAddr,
			PackageName: msg.BasicInfo.PackageName,
			Payload:     msg.Content,
		})
	}
}

// SendMessage delivers opaque content to a device-resident third-party app.
func (s *ThirdpartyService) SendMessage(packageName, fingerprint string, content []byte) error {
	packet, err := pb.Encode(pb.TypeThirdpartyApp, pb.OpMessageContent, pb.MessageContent{
		BasicInfo: pb.BasicInfo{PackageName: packageName, Fingerprint: fingerprint},
		Content:   content,
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}

// LaunchApp asks the device to foreground a third-party app.
func (s *ThirdpartyService) LaunchApp(packageName string) error {
	packet, err := pb.Encode(pb.TypeThirdpartyApp, pb.OpLaunchThirdpartyAppRequest, pb.LaunchThirdpartyAppRequest{
		PackageName: packageName,
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}

// UninstallApp asks the device to remove a third-party app.
func (s *ThirdpartyService) UninstallApp(packageName string) error {
	packet, err := pb.Encode(pb.TypeThirdpartyApp, pb.OpUninstallThirdpartyAppRequest, pb.UninstallThirdpartyAppRequest{
		PackageName: packageName,
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}
