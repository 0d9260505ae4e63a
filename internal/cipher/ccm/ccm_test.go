package ccm

import (
	"bytes"
	"testing"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, 16)
	nonce := bytes.Repeat([]byte{0x01}, NonceSize)
	plaintexts := [][]byte{
		nil,
		[]byte("x"),
		[]byte("the quick brown fox jumps over the lazy dog, repeatedly"),
		bytes.Repeat([]byte{0xAB}, 1000),
	}
	for _, pt := range plaintexts {
		sealed, err := Seal(key, nonce, pt, nil)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		if len(sealed) != len(pt)+TagSize {
			t.Fatalf("unexpected sealed length: got %d want %d", len(sealed), len(pt)+TagSize)
		}
		opened, err := Open(key, nonce, sealed, nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if !bytes.Equal(opened, pt) {
			t.Fatalf("round trip mismatch: got %x want %x", opened, pt)
		}
	}
}

func TestOpenRejectsTamperedTag(t *testing.T) {
	key := bytes.Repeat([]byte{0x07}, 16)
	nonce := bytes.Repeat([]byte{0x02}, NonceSize)
	sealed, err := Seal(key, nonce, []byte("companion device payload"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xFF
	if _, err := Open(key, nonce, sealed, nil); err != ErrNotAuthentic {
		t.Fatalf("expected ErrNotAuthentic, got %v", err)
	}
}

func TestOpenRejectsTamperedCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x09}, 16)
	nonce := bytes.Repeat([]byte{0x03}, NonceSize)
	sealed, err := Seal(key, nonce, []byte("companion device payload"), nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[0] ^= 0xFF
	if _, err := Open(key, nonce, sealed, nil); err != ErrNotAuthentic {
		t.Fatalf("expected ErrNotAuthentic, got %v", err)
	}
}
