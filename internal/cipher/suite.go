// Package cipher holds the process-wide per-device symmetric key store (the
// "cipher registry" of spec §4.2/§9) and the AES-128-CTR capability derived
// from it. Keys are published exactly once, by the authentication service,
// after a successful handshake; every other reader only ever looks the entry
// up by device address.
package cipher

import (
	stdcipher "crypto/aes"
	"crypto/cipher"
	"errors"
	"sync"
)

const KeySize = 16

// Entry is the (enc_key, dec_key) pair bound to one device after auth.
type Entry struct {
	EncKey [KeySize]byte
	DecKey [KeySize]byte
}

// Pair builds the (Encrypt, Decrypt) capability for this entry. Per spec
// §4.2, version-2 devices use AES-128-CTR where the key doubles as the
// initial counter block (CTR IV = key), with distinct keys per direction.
func (e Entry) Pair() (encrypt func([]byte) ([]byte, error), decrypt func([]byte) ([]byte, error)) {
	encrypt = func(plaintext []byte) ([]byte, error) {
		return ctrTransform(e.EncKey, plaintext)
	}
	decrypt = func(ciphertext []byte) ([]byte, error) {
		return ctrTransform(e.DecKey, ciphertext)
	}
	return
}

// ctrTransform runs AES-128-CTR keyed and seeded (IV) by key, a single
// stdlib-backed primitive shared by essentially every Go project that needs
// raw CTR mode — crypto/cipher is the idiomatic, and only, well-trodden
// option in the ecosystem for this.
func ctrTransform(key [KeySize]byte, in []byte) ([]byte, error) {
	block, err := stdcipher.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	stream := cipher.NewCTR(block, key[:])
	out := make([]byte, len(in))
	stream.XORKeyStream(out, in)
	return out, nil
}

var ErrNotFound = errors.New("cipher: no entry for device")

// Registry is the process-wide, single-writer-per-device keyed map from
// device address to cipher Entry.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// Publish installs the cipher entry for addr. Called exactly once per
// device, right after authentication succeeds.
func (r *Registry) Publish(addr string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[addr] = e
}

// Lookup returns the entry for addr, if any.
func (r *Registry) Lookup(addr string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[addr]
	return e, ok
}

// Remove clears addr's entry. Called on disconnect.
func (r *Registry) Remove(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, addr)
}
