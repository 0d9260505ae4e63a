package l2

import (
	"bytes"
	"testing"
)

func xorCipher(key byte) Cipher {
	xform := func(b []byte) ([]byte, error) {
		out := make([]byte, len(b))
		for i, c := range b {
			out[i] = c ^ key
		}
		return out, nil
	}
	return Cipher{Encrypt: xform, Decrypt: xform}
}

func TestEncodeDecodePlaintext(t *testing.T) {
	payload := []byte("device info request")
	enc := Encode(ChannelPB, OpWrite, payload)
	dec, err := Decode(enc, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Channel != ChannelPB || dec.Opcode != OpWrite {
		t.Fatalf("header mismatch: %+v", dec)
	}
	if !bytes.Equal(dec.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestEncodeEncryptedRoundTrip(t *testing.T) {
	c := xorCipher(0x5A)
	payload := []byte("encrypted payload over mass channel")
	enc, err := EncodeEncrypted(ChannelMass, payload, c)
	if err != nil {
		t.Fatalf("encode encrypted: %v", err)
	}
	dec, err := Decode(enc, &c)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Channel != ChannelMass || dec.Opcode != OpWriteEnc {
		t.Fatalf("header mismatch: %+v", dec)
	}
	if !bytes.Equal(dec.Payload, payload) {
		t.Fatalf("payload mismatch: got %x want %x", dec.Payload, payload)
	}
}

func TestDecodeWithoutCipherLeavesCiphertext(t *testing.T) {
	c := xorCipher(0x11)
	payload := []byte("raw")
	enc, err := EncodeEncrypted(ChannelPB, payload, c)
	if err != nil {
		t.Fatalf("encode encrypted: %v", err)
	}
	dec, err := Decode(enc, nil)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if bytes.Equal(dec.Payload, payload) {
		t.Fatalf("expected ciphertext to remain undecrypted")
	}
}

func TestDecodeTooShort(t *testing.T) {
	if _, err := Decode([]byte{1}, nil); err != ErrTooShort {
		t.Fatalf("expected ErrTooShort, got %v", err)
	}
}
