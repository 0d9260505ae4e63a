package l1

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		typ     Type
		frx     bool
		seq     byte
		payload []byte
	}{
		{TypeDATA, false, 0, nil},
		{TypeDATA, true, 255, []byte("hello wearable")},
		{TypeACK, false, 7, nil},
		{TypeNAK, false, 128, nil},
		{TypeCMD, false, 1, []byte{0x01, 0x01, 0x02, 0x01, 0x00}},
	}
	for _, c := range cases {
		enc, err := Encode(c.typ, c.frx, c.seq, c.payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if dec.Type != c.typ || dec.Frx != c.frx || dec.Seq != c.seq {
			t.Fatalf("round trip mismatch: got %+v want type=%v frx=%v seq=%v", dec, c.typ, c.frx, c.seq)
		}
		if !bytes.Equal(dec.Payload, c.payload) {
			t.Fatalf("payload mismatch: got %x want %x", dec.Payload, c.payload)
		}
	}
}

func TestRoundTripRandomPayloads(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 200; i++ {
		n := rng.Intn(64 * 1024)
		payload := make([]byte, n)
		rng.Read(payload)
		enc, err := Encode(TypeDATA, false, byte(i), payload)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(dec.Payload, payload) {
			t.Fatalf("payload mismatch at iteration %d", i)
		}
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(nil); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
	good, _ := Encode(TypeDATA, false, 0, []byte("x"))

	bad := append([]byte{}, good...)
	bad[0] ^= 0xFF
	if _, err := Decode(bad); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}

	bad = append([]byte{}, good...)
	bad[2] = 0x0F
	if _, err := Decode(bad); err != ErrInvalidType {
		t.Fatalf("expected ErrInvalidType, got %v", err)
	}

	bad = append([]byte{}, good...)
	bad[4] = 5
	if _, err := Decode(bad); err != ErrLengthMismatch {
		t.Fatalf("expected ErrLengthMismatch, got %v", err)
	}

	bad = append([]byte{}, good...)
	bad[len(bad)-1] ^= 0xFF
	if _, err := Decode(bad); err != ErrCrcMismatch {
		t.Fatalf("expected ErrCrcMismatch, got %v", err)
	}
}

func TestCommandTLVRoundTrip(t *testing.T) {
	cfg := StartConfig{Version: 2, MPS: 244, Window: 8, TimeoutMs: 1500, DeviceType: 1}
	payload := EncodeCommand(CmdStartRsp, cfg)
	id, decoded, err := DecodeCommand(payload)
	if err != nil {
		t.Fatalf("decode command: %v", err)
	}
	if id != CmdStartRsp {
		t.Fatalf("id mismatch: got %v", id)
	}
	if decoded != cfg {
		t.Fatalf("cfg mismatch: got %+v want %+v", decoded, cfg)
	}
}

func TestPayloadTooLarge(t *testing.T) {
	_, err := Encode(TypeDATA, false, 0, make([]byte, 0x10000))
	if err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}
