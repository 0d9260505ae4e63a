package services

import (
	"time"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

// SyncService pushes host-side state to the device: wall clock, locale, and
// network reachability (spec §4.7). All three are one-way notifications;
// the device never answers them.
type SyncService struct {
	send  Sender
	codec pb.Codec
}

func NewSyncService(send Sender, codec pb.Codec) *SyncService {
	if codec == nil {
		codec = pb.DefaultCodec
	}
	return &SyncService{send: send, codec: codec}
}

// SyncTime sends the host's current time and timezone offset.
func (s *SyncService) SyncTime(now time.Time) error {
	_, offsetSeconds := now.Zone()
	packet, err := pb.Encode(pb.TypeSystem, pb.OpTimeSyncRequest, pb.TimeSyncRequest{
		UnixMillis:  now.UnixMilli(),
		TZOffsetMin: int32(offsetSeconds / 60),
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}

// SyncLocale sends the host's active locale (e.g. "en_US").
func (s *SyncService) SyncLocale(locale string) error {
	packet, err := pb.Encode(pb.TypeSystem, pb.OpLocaleSyncRequest, pb.LocaleSyncRequest{
		Locale: locale,
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}

// SyncNetworkStatus informs the device whether the host currently has a
// usable network path. The network tunnel does not call this itself; it is
// sent only when a caller invokes it.
func (s *SyncService) SyncNetworkStatus(connected bool) error {
	packet, err := pb.Encode(pb.TypeSystem, pb.OpNetworkStatusSync, pb.NetworkStatusSyncRequest{
		Connected: connected,
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}
