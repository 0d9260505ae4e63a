// Package ccm implements AES-128-CCM (NIST SP 800-38C) with the fixed
// parameters this module needs: a 12-byte nonce (L=3) and a full 16-byte
// authentication tag (M=16).
//
// The core's wire-level specification calls for AES-128-CCM to seal the
// CompanionDevice message exchanged during authentication. No example repo
// in the retrieval pack vendors a CCM implementation (Go's standard library
// only exposes GCM through crypto/cipher), so this package builds CCM
// directly on top of crypto/aes — the minimal stdlib-only exception in this
// module; every other cryptographic primitive the core needs (HMAC-SHA256,
// MD5, AES-CTR) is covered by crypto/hmac, crypto/md5 and crypto/cipher the
// same way virtually every Go repo in the ecosystem uses them directly.
package ccm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

const (
	NonceSize = 12
	TagSize   = 16
	blockSize = 16
	lenField  = 15 - NonceSize // L, the length-of-message field size
)

var (
	ErrBadNonceSize = errors.New("ccm: nonce must be 12 bytes")
	ErrNotAuthentic = errors.New("ccm: message not authentic")
)

// Seal encrypts and authenticates plaintext, returning ciphertext||tag.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrBadNonceSize
	}

	tag := cbcMac(block, nonce, aad, plaintext)
	s0 := counterBlock(block, nonce, 0)
	for i := range tag {
		tag[i] ^= s0[i]
	}

	ciphertext := ctrCrypt(block, nonce, plaintext)
	return append(ciphertext, tag...), nil
}

// Open verifies and decrypts ciphertext||tag, returning the plaintext.
func Open(key, nonce, sealed, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != NonceSize {
		return nil, ErrBadNonceSize
	}
	if len(sealed) < TagSize {
		return nil, ErrNotAuthentic
	}
	ciphertext := sealed[:len(sealed)-TagSize]
	gotTag := sealed[len(sealed)-TagSize:]

	plaintext := ctrCrypt(block, nonce, ciphertext)

	wantTag := cbcMac(block, nonce, aad, plaintext)
	s0 := counterBlock(block, nonce, 0)
	for i := range wantTag {
		wantTag[i] ^= s0[i]
	}

	if subtle.ConstantTimeCompare(gotTag, wantTag) != 1 {
		for i := range plaintext {
			plaintext[i] = 0
		}
		return nil, ErrNotAuthentic
	}
	return plaintext, nil
}

func flagsByte(aadPresent bool) byte {
	var f byte
	if aadPresent {
		f |= 0x40
	}
	f |= byte(((TagSize - 2) / 2) << 3)
	f |= byte(lenField - 1)
	return f
}

// cbcMac computes the raw (unmasked) CCM authentication tag over aad and
// plaintext, per SP800-38C section 6.1.
func cbcMac(block cipher.Block, nonce, aad, plaintext []byte) []byte {
	b0 := make([]byte, blockSize)
	b0[0] = flagsByte(len(aad) > 0)
	copy(b0[1:1+NonceSize], nonce)
	putUintL(b0[1+NonceSize:], uint64(len(plaintext)), lenField)

	y := make([]byte, blockSize)
	block.Encrypt(y, b0)

	xorBlockThenEncrypt := func(b []byte) {
		var in [blockSize]byte
		copy(in[:], b)
		for i := 0; i < blockSize; i++ {
			in[i] ^= y[i]
		}
		block.Encrypt(y, in[:])
	}

	if len(aad) > 0 {
		var header []byte
		if len(aad) < 0xFF00 {
			header = make([]byte, 2)
			binary.BigEndian.PutUint16(header, uint16(len(aad)))
		} else {
			header = make([]byte, 6)
			header[0] = 0xFF
			header[1] = 0xFE
			binary.BigEndian.PutUint32(header[2:], uint32(len(aad)))
		}
		adata := append(header, aad...)
		for len(adata) > 0 {
			chunk := adata
			if len(chunk) > blockSize {
				chunk = adata[:blockSize]
			}
			padded := make([]byte, blockSize)
			copy(padded, chunk)
			xorBlockThenEncrypt(padded)
			adata = adata[len(chunk):]
		}
	}

	rest := plaintext
	for len(rest) > 0 {
		chunk := rest
		if len(chunk) > blockSize {
			chunk = rest[:blockSize]
		}
		padded := make([]byte, blockSize)
		copy(padded, chunk)
		xorBlockThenEncrypt(padded)
		rest = rest[len(chunk):]
	}
	if len(plaintext) == 0 && len(aad) == 0 {
		// B0 alone already produced Y0 above; nothing further to mix in.
	}
	tag := make([]byte, TagSize)
	copy(tag, y[:TagSize])
	return tag
}

func counterBlock(block cipher.Block, nonce []byte, counter uint64) []byte {
	a := make([]byte, blockSize)
	a[0] = byte(lenField - 1)
	copy(a[1:1+NonceSize], nonce)
	putUintL(a[1+NonceSize:], counter, lenField)
	out := make([]byte, blockSize)
	block.Encrypt(out, a)
	return out
}

func ctrCrypt(block cipher.Block, nonce, in []byte) []byte {
	out := make([]byte, len(in))
	counter := uint64(1)
	offset := 0
	for offset < len(in) {
		ks := counterBlock(block, nonce, counter)
		n := len(in) - offset
		if n > blockSize {
			n = blockSize
		}
		for i := 0; i < n; i++ {
			out[offset+i] = in[offset+i] ^ ks[i]
		}
		offset += n
		counter++
	}
	return out
}

func putUintL(dst []byte, v uint64, l int) {
	for i := 0; i < l; i++ {
		dst[l-1-i] = byte(v >> (8 * uint(i)))
	}
}
