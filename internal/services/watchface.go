package services

import (
	"context"

	lru "github.com/hashicorp/golang-lru"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

const resourceListSlot = "resourcelist"

// WatchfaceService implements the resource/watchface management handlers of
// spec §4.7: listing installed watchfaces and switching or removing one.
// Every watchface id seen in a resource list is cached in an LRU keyed by
// id, which KnownWatchface answers from without a round trip to the device.
// SetWatchface does not check its id against this cache.
type WatchfaceService struct {
	send  Sender
	codec pb.Codec
	slots *RequestSlots[pb.ResourceListResponse]
	known *lru.Cache
}

func NewWatchfaceService(send Sender, codec pb.Codec) *WatchfaceService {
	if codec == nil {
		codec = pb.DefaultCodec
	}
	known, _ := lru.New(256)
	return &WatchfaceService{
		send:  send,
		codec: codec,
		slots: NewRequestSlots[pb.ResourceListResponse](1),
		known: known,
	}
}

// OnPacket is the TypeWatchFace handler registered with the dispatcher.
func (s *WatchfaceService) OnPacket(p pb.Packet) {
	if p.Type != pb.TypeWatchFace || p.ID != pb.OpResourceListResponse {
		return
	}
	var resp pb.ResourceListResponse
	if err := pb.Decode(p, &resp, s.codec); err != nil {
		return
	}
	for _, id := range resp.WatchfaceIDs {
		s.known.Add(id, struct{}{})
	}
	s.slots.Deliver(resourceListSlot, resp)
}

// ListWatchfaces requests the installed watchface id list.
func (s *WatchfaceService) ListWatchfaces(ctx context.Context) ([]string, error) {
	ch := s.slots.Register(resourceListSlot)
	packet, err := pb.Encode(pb.TypeWatchFace, pb.OpResourceListRequest, pb.ResourceListRequest{}, s.codec)
	if err != nil {
		s.slots.Cancel(resourceListSlot)
		return nil, err
	}
	if err := s.send(packet); err != nil {
		s.slots.Cancel(resourceListSlot)
		return nil, err
	}
	select {
	case resp := <-ch:
		return resp.WatchfaceIDs, nil
	case <-ctx.Done():
		s.slots.Cancel(resourceListSlot)
		return nil, ctx.Err()
	}
}

// KnownWatchface reports whether id appeared in a resource list received
// since the service was created and has not since been removed or evicted.
func (s *WatchfaceService) KnownWatchface(id string) bool {
	_, ok := s.known.Get(id)
	return ok
}

// SetWatchface asks the device to switch its active watchface. The device
// does not emit a dedicated acknowledgement for this operation (spec §4.7),
// so this is fire-and-forget from the caller's perspective.
func (s *WatchfaceService) SetWatchface(watchfaceID string) error {
	packet, err := pb.Encode(pb.TypeWatchFace, pb.OpSetWatchfaceRequest, pb.SetWatchfaceRequest{
		WatchfaceID: watchfaceID,
	}, s.codec)
	if err != nil {
		return err
	}
	return s.send(packet)
}

// RemoveWatchface asks the device to delete an installed watchface.
func (s *WatchfaceService) RemoveWatchface(watchfaceID string) error {
	packet, err := pb.Encode(pb.TypeWatchFace, pb.OpRemoveWatchfaceReq, pb.RemoveWatchfaceRequest{
		WatchfaceID: watchfaceID,
	}, s.codec)
	if err != nil {
		return err
	}
	s.known.Remove(watchfaceID)
	return s.send(packet)
}
