// Package auth implements the two-roundtrip challenge/HMAC authentication
// handshake of spec §4.5, including the miwear-auth KDF, and publishes the
// resulting cipher key material to the shared cipher registry.
package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/op/go-logging"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/cipher"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/cipher/ccm"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/pb"
)

const companionName = "AstroBox"
const appCapabilityAll = 0xFFFFFFFF

// Error is a diagnostic returned to the pending waiter on handshake failure.
type Error struct{ Reason string }

func (e *Error) Error() string { return "auth: " + e.Reason }

var (
	ErrAlreadyInFlight = &Error{"authentication already in progress"}
	ErrBadAuthKey      = &Error{"authkey must be 32 hex characters"}
	ErrBadNonceLength  = &Error{"nonce must be 16 bytes"}
	ErrBadSignLength   = &Error{"device_sign must be 32 bytes"}
	ErrHMACMismatch    = &Error{"AuthKey wrong"}
)

// Sender writes one PB packet to the device's PB channel, already L2-encoded
// and enqueued through SAR by the caller.
type Sender func(pb.Packet) error

// Record is the per-device authentication state (spec §3).
type Record struct {
	SharedSecretHex string
	IsAndroid       bool   // force-peer-type flag: ANDROID even over BLE
	ConnectType     string // "ble" or "spp", as configured for this device

	appRandom []byte
	encKey    [16]byte
	decKey    [16]byte
	encNonce  [4]byte
	decNonce  [4]byte
	isAuthed  bool
}

func (r *Record) IsAuthed() bool { return r.isAuthed }

// Service drives one device's handshake and publishes its result into the
// shared cipher registry.
type Service struct {
	mu       sync.Mutex
	record   Record
	send     Sender
	registry *cipher.Registry
	deviceID string
	log      *logging.Logger

	pending chan error // non-nil while a handshake is in flight
}

func NewService(deviceID string, sharedSecretHex string, isAndroid bool, connectType string, send Sender, registry *cipher.Registry, log *logging.Logger) *Service {
	return &Service{
		record:   Record{SharedSecretHex: sharedSecretHex, IsAndroid: isAndroid, ConnectType: connectType},
		send:     send,
		registry: registry,
		deviceID: deviceID,
		log:      log,
	}
}

// Record returns a copy of the current authentication state.
func (s *Service) Record() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Start begins the handshake by sending AppVerify. Only one attempt may be
// in flight per device; a second Start before the first resolves fails
// immediately with ErrAlreadyInFlight.
func (s *Service) Start(codec pb.Codec) (done <-chan error, err error) {
	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return nil, ErrAlreadyInFlight
	}
	if len(s.record.SharedSecretHex) != 32 {
		s.mu.Unlock()
		return nil, ErrBadAuthKey
	}
	appRandom := make([]byte, 16)
	if _, readErr := rand.Read(appRandom); readErr != nil {
		s.mu.Unlock()
		return nil, readErr
	}
	s.record.appRandom = appRandom
	ch := make(chan error, 1)
	s.pending = ch
	s.mu.Unlock()

	packet, err := pb.Encode(pb.TypeAccount, pb.OpAppVerify, pb.AppVerify{AppRandom: appRandom}, codec)
	if err != nil {
		s.fail(err)
		return ch, nil
	}
	if sendErr := s.send(packet); sendErr != nil {
		s.fail(sendErr)
	}
	return ch, nil
}

// OnPacket is the PB-channel handler the dispatcher calls for TypeAccount
// packets. It advances the handshake state machine and is a no-op for
// packets that don't belong to an in-flight attempt.
func (s *Service) OnPacket(p pb.Packet, codec pb.Codec) {
	if p.Type != pb.TypeAccount {
		return
	}
	s.mu.Lock()
	if s.pending == nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	switch p.ID {
	case pb.OpDeviceVerify:
		s.handleDeviceVerify(p, codec)
	case pb.OpAuthDeviceConfirm:
		s.handleAuthDeviceConfirm()
	}
}

func (s *Service) handleDeviceVerify(p pb.Packet, codec pb.Codec) {
	var dv pb.DeviceVerify
	if err := pb.Decode(p, &dv, codec); err != nil {
		s.fail(err)
		return
	}
	if len(dv.DeviceRandom) != 16 {
		s.fail(ErrBadNonceLength)
		return
	}
	if len(dv.DeviceSign) != 32 {
		s.fail(ErrBadSignLength)
		return
	}

	s.mu.Lock()
	appRandom := s.record.appRandom
	secretHex := s.record.SharedSecretHex
	isAndroid := s.record.IsAndroid
	connectType := s.record.ConnectType
	s.mu.Unlock()

	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		s.fail(ErrBadAuthKey)
		return
	}

	okm, err := DeriveKeyMaterial(secret, appRandom, dv.DeviceRandom)
	if err != nil {
		s.fail(err)
		return
	}
	var decKey, encKey [16]byte
	var decNonce, encNonce [4]byte
	copy(decKey[:], okm[0:16])
	copy(encKey[:], okm[16:32])
	copy(decNonce[:], okm[32:36])
	copy(encNonce[:], okm[36:40])

	want := hmacSHA256(decKey[:], concat(dv.DeviceRandom, appRandom))
	if !hmac.Equal(want, dv.DeviceSign) {
		s.fail(ErrHMACMismatch)
		return
	}

	appSign := hmacSHA256(encKey[:], concat(appRandom, dv.DeviceRandom))

	// spec §4.5: IOS when BLE and not forced Android; else ANDROID.
	devType := pb.CompanionAndroid
	if connectType == "ble" && !isAndroid {
		devType = pb.CompanionIOS
	}
	companion := pb.CompanionDevice{Type: devType, Name: companionName, AppCapability: appCapabilityAll}
	companionBytes, err := codec.Marshal(companion)
	if err != nil {
		s.fail(err)
		return
	}

	nonce := make([]byte, ccm.NonceSize)
	copy(nonce[0:4], encNonce[:])
	// remaining 8 bytes are zero per spec ("enc_nonce ∥ 0x00000000 ∥ 0x00000000")

	encryptedCompanion, err := ccm.Seal(encKey[:], nonce, companionBytes, nil)
	if err != nil {
		s.fail(err)
		return
	}

	s.mu.Lock()
	s.record.decKey = decKey
	s.record.encKey = encKey
	s.record.decNonce = decNonce
	s.record.encNonce = encNonce
	s.mu.Unlock()

	packet, err := pb.Encode(pb.TypeAccount, pb.OpAppConfirm, pb.AppConfirm{
		AppSign:                appSign,
		EncryptCompanionDevice: encryptedCompanion,
	}, codec)
	if err != nil {
		s.fail(err)
		return
	}
	if err := s.send(packet); err != nil {
		s.fail(err)
	}
}

func (s *Service) handleAuthDeviceConfirm() {
	s.mu.Lock()
	s.record.isAuthed = true
	entry := cipher.Entry{EncKey: s.record.encKey, DecKey: s.record.decKey}
	s.mu.Unlock()

	if s.registry != nil {
		s.registry.Publish(s.deviceID, entry)
	}
	s.resolve(nil)
}

func (s *Service) fail(err error) {
	if s.log != nil {
		s.log.Error("auth: handshake failed:", err)
	}
	s.resolve(err)
}

func (s *Service) resolve(err error) {
	s.mu.Lock()
	ch := s.pending
	s.pending = nil
	s.record.appRandom = nil
	s.mu.Unlock()
	if ch != nil {
		ch <- err
	}
}

func concat(a, b []byte) []byte {
	out := make([]byte, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func hmacSHA256(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}

// DeriveKeyMaterial implements the miwear-auth KDF of spec §4.5: a 64-byte
// output key material expansion from the shared secret and both nonces.
func DeriveKeyMaterial(secret, appRandom, deviceRandom []byte) ([]byte, error) {
	if len(appRandom) != 16 || len(deviceRandom) != 16 {
		return nil, errors.New("auth: KDF inputs must each be 16 bytes")
	}
	initKey := concat(appRandom, deviceRandom)
	hmacKey := hmacSHA256(initKey, secret)

	var okm []byte
	prev := []byte{}
	for counter := byte(1); counter <= 3; counter++ {
		msg := append([]byte{}, prev...)
		msg = append(msg, []byte("miwear-auth")...)
		msg = append(msg, counter)
		round := hmacSHA256(hmacKey, msg)
		okm = append(okm, round...)
		prev = round
	}
	if len(okm) < 64 {
		return nil, fmt.Errorf("auth: KDF produced %d bytes, want >= 64", len(okm))
	}
	return okm[:64], nil
}
