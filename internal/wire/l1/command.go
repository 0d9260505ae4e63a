package l1

import "encoding/binary"

// CommandID identifies a CMD-frame payload's purpose.
type CommandID byte

const (
	CmdStartReq CommandID = 0x01
	CmdStartRsp CommandID = 0x02
)

// TLV tag identifiers used inside the start-req/start-rsp config block.
const (
	tlvVersion    byte = 0x01
	tlvMPS        byte = 0x02
	tlvWindow     byte = 0x03
	tlvTimeoutMs  byte = 0x04
	tlvDeviceType byte = 0x05
)

// StartConfig is the TLV-encoded config block carried by L1_START_REQ and
// L1_START_RSP.
type StartConfig struct {
	Version    byte
	MPS        uint16 // max payload size the sender is willing to chunk to
	Window     uint16
	TimeoutMs  uint16
	DeviceType byte
}

// EncodeCommand wraps id and the TLV-encoded cfg as a CMD-frame payload:
// [id(1) | tlvs...].
func EncodeCommand(id CommandID, cfg StartConfig) []byte {
	buf := []byte{byte(id)}
	buf = appendTLV(buf, tlvVersion, []byte{cfg.Version})
	buf = appendTLV(buf, tlvMPS, u16(cfg.MPS))
	buf = appendTLV(buf, tlvWindow, u16(cfg.Window))
	buf = appendTLV(buf, tlvTimeoutMs, u16(cfg.TimeoutMs))
	buf = appendTLV(buf, tlvDeviceType, []byte{cfg.DeviceType})
	return buf
}

// DecodeCommand parses a CMD-frame payload into its command id and TLV
// config block. Unknown tags are skipped, matching the wearable's tolerance
// for forward-compatible additions.
func DecodeCommand(payload []byte) (CommandID, StartConfig, error) {
	var cfg StartConfig
	if len(payload) < 1 {
		return 0, cfg, ErrTooShort
	}
	id := CommandID(payload[0])
	rest := payload[1:]
	for len(rest) > 0 {
		if len(rest) < 2 {
			return 0, cfg, ErrLengthMismatch
		}
		tag := rest[0]
		length := int(rest[1])
		rest = rest[2:]
		if len(rest) < length {
			return 0, cfg, ErrLengthMismatch
		}
		val := rest[:length]
		rest = rest[length:]
		switch tag {
		case tlvVersion:
			if length >= 1 {
				cfg.Version = val[0]
			}
		case tlvMPS:
			if length >= 2 {
				cfg.MPS = binary.LittleEndian.Uint16(val)
			}
		case tlvWindow:
			if length >= 2 {
				cfg.Window = binary.LittleEndian.Uint16(val)
			}
		case tlvTimeoutMs:
			if length >= 2 {
				cfg.TimeoutMs = binary.LittleEndian.Uint16(val)
			}
		case tlvDeviceType:
			if length >= 1 {
				cfg.DeviceType = val[0]
			}
		}
	}
	return id, cfg, nil
}

func appendTLV(buf []byte, tag byte, val []byte) []byte {
	buf = append(buf, tag, byte(len(val)))
	return append(buf, val...)
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}
