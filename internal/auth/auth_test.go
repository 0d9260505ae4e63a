package auth

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/cipher"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/cipher/ccm"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

const testSecretHex = "00112233445566778899aabbccddeeff"[:32]

// fakeDevice plays the watch side of the handshake: it answers AppVerify
// with a DeviceVerify computed the same way the real firmware would, then
// checks AppConfirm and finally fires AuthDeviceConfirm back.
type fakeDevice struct {
	secret       []byte
	deviceRandom []byte
	appRandom    []byte
	decKey       [16]byte
	encKey       [16]byte
	encNonce     [4]byte
}

func newFakeDevice(secretHex string) *fakeDevice {
	secret, _ := hex.DecodeString(secretHex)
	return &fakeDevice{
		secret:       secret,
		deviceRandom: bytes.Repeat([]byte{0x42}, 16),
	}
}

func (f *fakeDevice) handle(p pb.Packet, codec pb.Codec, reply func(pb.Packet)) {
	switch p.ID {
	case pb.OpAppVerify:
		var av pb.AppVerify
		_ = pb.Decode(p, &av, codec)
		f.appRandom = av.AppRandom

		okm, err := DeriveKeyMaterial(f.secret, f.appRandom, f.deviceRandom)
		if err != nil {
			panic(err)
		}
		// Device's dec key is the app's enc key and vice versa: the KDF
		// slices are directional from the *app's* point of view, so here
		// we mirror them.
		var appDecKey, appEncKey [16]byte
		var appEncNonce [4]byte
		copy(appDecKey[:], okm[0:16])
		copy(appEncKey[:], okm[16:32])
		copy(appEncNonce[:], okm[36:40])
		f.decKey = appEncKey // what the device uses to decrypt app-encrypted data
		f.encKey = appDecKey // what the device uses to sign/encrypt toward the app
		f.encNonce = appEncNonce

		sign := hmacSHA256(appDecKey[:], concat(f.deviceRandom, f.appRandom))
		out, _ := pb.Encode(pb.TypeAccount, pb.OpDeviceVerify, pb.DeviceVerify{
			DeviceRandom: f.deviceRandom,
			DeviceSign:   sign,
		}, codec)
		reply(out)

	case pb.OpAppConfirm:
		var ac pb.AppConfirm
		_ = pb.Decode(p, &ac, codec)

		wantSign := hmacSHA256(f.decKey[:], concat(f.appRandom, f.deviceRandom))
		if !hmac.Equal(wantSign, ac.AppSign) {
			panic("fakeDevice: app_sign mismatch")
		}

		nonce := make([]byte, ccm.NonceSize)
		copy(nonce[0:4], f.encNonce[:])
		plain, err := ccm.Open(f.decKey[:], nonce, ac.EncryptCompanionDevice, nil)
		if err != nil {
			panic(err)
		}
		var companion pb.CompanionDevice
		if err := codec.Unmarshal(plain, &companion); err != nil {
			panic(err)
		}
		if companion.Name == "" {
			panic("fakeDevice: empty companion name")
		}

		out, _ := pb.Encode(pb.TypeAccount, pb.OpAuthDeviceConfirm, pb.AuthDeviceConfirm{}, codec)
		reply(out)
	}
}

func TestHandshakeSucceeds(t *testing.T) {
	codec := pb.JSONCodec{}
	registry := cipher.NewRegistry()
	device := newFakeDevice(testSecretHex)

	var svc *Service
	send := func(p pb.Packet) error {
		device.handle(p, codec, func(reply pb.Packet) {
			svc.OnPacket(reply, codec)
		})
		return nil
	}
	svc = NewService("AA:BB:CC:DD:EE:FF", testSecretHex, false, "ble", send, registry, nil)

	done, err := svc.Start(codec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("handshake failed: %v", err)
	}
	if !svc.Record().IsAuthed() {
		t.Fatalf("expected IsAuthed after successful handshake")
	}
	if _, ok := registry.Lookup("AA:BB:CC:DD:EE:FF"); !ok {
		t.Fatalf("expected cipher entry published to registry")
	}
}

func TestHandshakeRejectsBadDeviceSign(t *testing.T) {
	codec := pb.JSONCodec{}
	registry := cipher.NewRegistry()

	var svc *Service
	send := func(p pb.Packet) error {
		if p.ID == pb.OpAppVerify {
			badSign := pb.DeviceVerify{
				DeviceRandom: bytes.Repeat([]byte{0x01}, 16),
				DeviceSign:   bytes.Repeat([]byte{0xFF}, 32),
			}
			reply, _ := pb.Encode(pb.TypeAccount, pb.OpDeviceVerify, badSign, codec)
			svc.OnPacket(reply, codec)
		}
		return nil
	}
	svc = NewService("dev-1", testSecretHex, false, "ble", send, registry, nil)

	done, err := svc.Start(codec)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := <-done; err != ErrHMACMismatch {
		t.Fatalf("expected ErrHMACMismatch, got %v", err)
	}
	if svc.Record().IsAuthed() {
		t.Fatalf("should not be authed after rejected handshake")
	}
	if _, ok := registry.Lookup("dev-1"); ok {
		t.Fatalf("should not publish a cipher entry on failure")
	}
}

func TestStartRejectsConcurrentAttempt(t *testing.T) {
	registry := cipher.NewRegistry()
	send := func(p pb.Packet) error { return nil }
	svc := NewService("dev-2", testSecretHex, false, "ble", send, registry, nil)

	if _, err := svc.Start(pb.JSONCodec{}); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	if _, err := svc.Start(pb.JSONCodec{}); err != ErrAlreadyInFlight {
		t.Fatalf("expected ErrAlreadyInFlight, got %v", err)
	}
}

func TestDeriveKeyMaterialIsDeterministic(t *testing.T) {
	secret, _ := hex.DecodeString(testSecretHex)
	appRandom := bytes.Repeat([]byte{0x11}, 16)
	deviceRandom := bytes.Repeat([]byte{0x22}, 16)

	a, err := DeriveKeyMaterial(secret, appRandom, deviceRandom)
	if err != nil {
		t.Fatalf("DeriveKeyMaterial: %v", err)
	}
	b, err := DeriveKeyMaterial(secret, appRandom, deviceRandom)
	if err != nil {
		t.Fatalf("DeriveKeyMaterial: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected deterministic KDF output")
	}
	if len(a) != 64 {
		t.Fatalf("expected 64 bytes of key material, got %d", len(a))
	}

	initKey := concat(appRandom, deviceRandom)
	mac := hmac.New(sha256.New, initKey)
	mac.Write(secret)
	if !bytes.Equal(mac.Sum(nil), hmacSHA256(initKey, secret)) {
		t.Fatalf("hmacSHA256 helper disagrees with crypto/hmac directly")
	}
}
