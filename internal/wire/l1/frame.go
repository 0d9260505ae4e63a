// Package l1 implements the SAR layer's wire framing: a magic-prefixed,
// CRC-16/ARC-protected frame used to carry DATA, ACK, NAK and CMD payloads
// between the host and a Xiaomi wearable.
package l1

import (
	"encoding/binary"
	"fmt"
)

const Magic uint16 = 0xA5A5

// Type is the 4-bit frame type carried in the low bits of the type+flag byte.
type Type byte

const (
	TypeNAK  Type = 0
	TypeACK  Type = 1
	TypeCMD  Type = 2
	TypeDATA Type = 3
)

const fastReceiveBit = 1 << 4

// headerLen is magic(2) + type(1) + seq(1) + length(2) + crc(2).
const headerLen = 8

// Frame is a decoded L1 frame.
type Frame struct {
	Type    Type
	Frx     bool // fast-receive flag, only meaningful on DATA frames
	Seq     byte
	Payload []byte
}

// FrameError reports a malformed frame found while decoding.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string { return "l1: " + e.Reason }

var (
	ErrTooShort        = &FrameError{"frame too short"}
	ErrBadMagic        = &FrameError{"bad magic"}
	ErrInvalidType     = &FrameError{"invalid frame type"}
	ErrLengthMismatch  = &FrameError{"declared length does not match payload"}
	ErrCrcMismatch     = &FrameError{"crc mismatch"}
	ErrPayloadTooLarge = &FrameError{"payload exceeds 16-bit length field"}
)

// Encode serializes type, frx, seq and payload into a complete L1 frame,
// computing the CRC-16/ARC over payload and the length field from
// len(payload).
func Encode(t Type, frx bool, seq byte, payload []byte) ([]byte, error) {
	if len(payload) > 0xFFFF {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, headerLen+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	typeByte := byte(t)
	if frx {
		typeByte |= fastReceiveBit
	}
	buf[2] = typeByte
	buf[3] = seq
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(payload)))
	binary.LittleEndian.PutUint16(buf[6:8], CRC16ARC(payload))
	copy(buf[headerLen:], payload)
	return buf, nil
}

// Decode parses a single complete L1 frame out of b. b must contain exactly
// one frame (no trailing bytes); callers doing stream reassembly should slice
// out header+payload first (see the dispatch package).
func Decode(b []byte) (Frame, error) {
	if len(b) < headerLen {
		return Frame{}, ErrTooShort
	}
	if binary.LittleEndian.Uint16(b[0:2]) != Magic {
		return Frame{}, ErrBadMagic
	}
	typeByte := b[2]
	t := Type(typeByte & 0x0F)
	switch t {
	case TypeNAK, TypeACK, TypeCMD, TypeDATA:
	default:
		return Frame{}, ErrInvalidType
	}
	frx := typeByte&fastReceiveBit != 0
	seq := b[3]
	length := binary.LittleEndian.Uint16(b[4:6])
	crc := binary.LittleEndian.Uint16(b[6:8])
	payload := b[headerLen:]
	if int(length) != len(payload) {
		return Frame{}, ErrLengthMismatch
	}
	if CRC16ARC(payload) != crc {
		return Frame{}, ErrCrcMismatch
	}
	return Frame{Type: t, Frx: frx, Seq: seq, Payload: payload}, nil
}

// DeclaredLength reads the length field out of a buffer that is known to
// start with a valid L1 header (used by the receive dispatcher to find frame
// boundaries in a byte stream before CRC validation).
func DeclaredLength(header []byte) (int, error) {
	if len(header) < 6 {
		return 0, ErrTooShort
	}
	return int(binary.LittleEndian.Uint16(header[4:6])), nil
}

func (t Type) String() string {
	switch t {
	case TypeNAK:
		return "NAK"
	case TypeACK:
		return "ACK"
	case TypeCMD:
		return "CMD"
	case TypeDATA:
		return "DATA"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}
