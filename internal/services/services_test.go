package services

import (
	"context"
	"testing"
	"time"

	"github.com/blang/semver"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/events"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

func TestDeviceInfoRequestAndCache(t *testing.T) {
	codec := pb.JSONCodec{}
	var svc *DeviceInfoService
	send := func(p pb.Packet) error {
		if p.ID == pb.OpDeviceInfoRequest {
			resp, _ := pb.Encode(pb.TypeSystem, pb.OpDeviceInfoResponse, pb.DeviceInfoResponse{
				Model:           "XW-2",
				FirmwareVersion: "v2.3.0",
				SerialNumber:    "SN1",
			}, codec)
			go svc.OnPacket(resp)
		}
		return nil
	}
	svc = NewDeviceInfoService(send, codec)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	resp, err := svc.Request(ctx)
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if resp.Model != "XW-2" {
		t.Fatalf("unexpected model: %q", resp.Model)
	}

	cached, ok := svc.Cached()
	if !ok || cached.SerialNumber != "SN1" {
		t.Fatalf("expected cached response, got %+v ok=%v", cached, ok)
	}
	if !svc.FirmwareAtLeast(semver.MustParse("2.0.0")) {
		t.Fatalf("expected firmware 2.3.0 >= 2.0.0")
	}
	if svc.FirmwareAtLeast(semver.MustParse("3.0.0")) {
		t.Fatalf("expected firmware 2.3.0 < 3.0.0")
	}
}

func TestWatchfaceListAndSet(t *testing.T) {
	codec := pb.JSONCodec{}
	var svc *WatchfaceService
	var lastSet string
	send := func(p pb.Packet) error {
		switch p.ID {
		case pb.OpResourceListRequest:
			resp, _ := pb.Encode(pb.TypeWatchFace, pb.OpResourceListResponse, pb.ResourceListResponse{
				WatchfaceIDs: []string{"face-a", "face-b"},
			}, codec)
			go svc.OnPacket(resp)
		case pb.OpSetWatchfaceRequest:
			var req pb.SetWatchfaceRequest
			pb.Decode(p, &req, codec)
			lastSet = req.WatchfaceID
		}
		return nil
	}
	svc = NewWatchfaceService(send, codec)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ids, err := svc.ListWatchfaces(ctx)
	if err != nil {
		t.Fatalf("ListWatchfaces: %v", err)
	}
	if len(ids) != 2 || !svc.KnownWatchface("face-a") {
		t.Fatalf("unexpected ids: %v", ids)
	}

	if err := svc.SetWatchface("face-b"); err != nil {
		t.Fatalf("SetWatchface: %v", err)
	}
	if lastSet != "face-b" {
		t.Fatalf("expected set request for face-b, got %q", lastSet)
	}
}

func TestSyncServiceSendsAllThree(t *testing.T) {
	codec := pb.JSONCodec{}
	var ids []int32
	send := func(p pb.Packet) error {
		ids = append(ids, p.ID)
		return nil
	}
	svc := NewSyncService(send, codec)

	if err := svc.SyncTime(time.Now()); err != nil {
		t.Fatalf("SyncTime: %v", err)
	}
	if err := svc.SyncLocale("en_US"); err != nil {
		t.Fatalf("SyncLocale: %v", err)
	}
	if err := svc.SyncNetworkStatus(true); err != nil {
		t.Fatalf("SyncNetworkStatus: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(ids))
	}
}

func TestThirdpartyServicePublishesToBus(t *testing.T) {
	codec := pb.JSONCodec{}
	bus := events.NewBus()
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	svc := NewThirdpartyService("AA:BB", func(p pb.Packet) error { return nil }, codec, bus)

	msg, _ := pb.Encode(pb.TypeThirdpartyApp, pb.OpMessageContent, pb.MessageContent{
		BasicInfo: pb.BasicInfo{PackageName: "com.example.app"},
		Content:   []byte("hello"),
	}, codec)
	svc.OnPacket(msg)

	select {
	case got := <-ch:
		if got.PackageName != "com.example.app" || string(got.Payload) != "hello" {
			t.Fatalf("unexpected message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a published interconnect message")
	}
}
