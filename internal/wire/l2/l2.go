// Package l2 implements the channel/opcode demultiplexing layer that sits on
// top of L1 data frames, including the optional per-channel encryption
// derived from authentication.
package l2

import "errors"

// Channel identifies the logical service a packet belongs to.
type Channel byte

const (
	ChannelPB           Channel = 1
	ChannelMass         Channel = 2
	ChannelMassVoice    Channel = 3
	ChannelFileSensor   Channel = 4
	ChannelFileFitness  Channel = 5
	ChannelOTA          Channel = 6
	ChannelNetwork      Channel = 7
	ChannelLyra         Channel = 8
	ChannelResearch     Channel = 9
)

// Opcode identifies how a packet's payload is encoded.
type Opcode byte

const (
	OpWrite    Opcode = 1
	OpWriteEnc Opcode = 2
	OpRead     Opcode = 3
)

const headerLen = 2

// Packet is a decoded L2 packet. Payload is plaintext once Decode has run
// (decrypted, if OpWriteEnc and a cipher was supplied); otherwise it is the
// raw ciphertext, left for the caller to decrypt later.
type Packet struct {
	Channel Channel
	Opcode  Opcode
	Payload []byte
}

var ErrTooShort = errors.New("l2: packet shorter than header")

// Cipher is the opaque (encrypt, decrypt) capability bound to a device after
// authentication. It is supplied by the caller; this package never reaches
// into the cipher registry itself.
type Cipher struct {
	Encrypt func([]byte) ([]byte, error)
	Decrypt func([]byte) ([]byte, error)
}

// ErrDecrypt wraps a decryption failure so callers can distinguish it from a
// framing error.
type ErrDecrypt struct {
	Reason string
}

func (e *ErrDecrypt) Error() string { return "l2: decrypt failed: " + e.Reason }

// Encode writes a plaintext WRITE packet: [channel, opcode, payload...].
func Encode(channel Channel, opcode Opcode, payload []byte) []byte {
	buf := make([]byte, headerLen+len(payload))
	buf[0] = byte(channel)
	buf[1] = byte(opcode)
	copy(buf[headerLen:], payload)
	return buf
}

// EncodeEncrypted encrypts payload via cipher and wraps it as a WRITE-ENC
// packet on channel.
func EncodeEncrypted(channel Channel, payload []byte, cipher Cipher) ([]byte, error) {
	if cipher.Encrypt == nil {
		return nil, &ErrDecrypt{"no cipher bound"}
	}
	ciphertext, err := cipher.Encrypt(payload)
	if err != nil {
		return nil, &ErrDecrypt{err.Error()}
	}
	return Encode(channel, OpWriteEnc, ciphertext), nil
}

// Decode parses a complete L2 packet. When opcode is WRITE-ENC and cipher is
// non-nil, the payload is decrypted; a nil cipher with an encrypted opcode
// leaves the payload as ciphertext for the caller to handle later. A
// decrypt failure is reported as *ErrDecrypt.
func Decode(b []byte, cipher *Cipher) (Packet, error) {
	if len(b) < headerLen {
		return Packet{}, ErrTooShort
	}
	p := Packet{
		Channel: Channel(b[0]),
		Opcode:  Opcode(b[1]),
		Payload: b[headerLen:],
	}
	if p.Opcode == OpWriteEnc && cipher != nil && cipher.Decrypt != nil {
		plain, err := cipher.Decrypt(p.Payload)
		if err != nil {
			return Packet{}, &ErrDecrypt{err.Error()}
		}
		p.Payload = plain
	}
	return p, nil
}
