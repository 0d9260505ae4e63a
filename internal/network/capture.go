package network

import (
	"encoding/binary"
	"io"
	"time"
)

const pcapMagicLE = 0xa1b2c3d4

// PcapWriter emits a classic libpcap savefile: a 24-byte global header
// followed by one (16-byte record header, packet bytes) pair per call to
// WritePacket. This is the inverse of the record layout omar251990's capture
// engine reads back (magic number, per-packet tsSec/tsUsec/caplen/origlen),
// hand-rolled rather than linking a packet-capture library since nothing in
// the retrieval pack vendors one either.
type PcapWriter struct {
	w        io.Writer
	wroteHdr bool
}

func NewPcapWriter(w io.Writer) *PcapWriter {
	return &PcapWriter{w: w}
}

func (p *PcapWriter) writeGlobalHeader() error {
	hdr := make([]byte, 24)
	binary.LittleEndian.PutUint32(hdr[0:4], pcapMagicLE)
	binary.LittleEndian.PutUint16(hdr[4:6], 2) // version major
	binary.LittleEndian.PutUint16(hdr[6:8], 4) // version minor
	binary.LittleEndian.PutUint32(hdr[16:20], 65535)
	binary.LittleEndian.PutUint32(hdr[20:24], 101) // LINKTYPE_RAW: raw IPv4/IPv6, no link header
	_, err := p.w.Write(hdr)
	return err
}

// WritePacket appends one captured raw-IP packet with the current wall
// clock timestamp.
func (p *PcapWriter) WritePacket(data []byte) error {
	if !p.wroteHdr {
		if err := p.writeGlobalHeader(); err != nil {
			return err
		}
		p.wroteHdr = true
	}
	now := time.Now()
	rec := make([]byte, 16)
	binary.LittleEndian.PutUint32(rec[0:4], uint32(now.Unix()))
	binary.LittleEndian.PutUint32(rec[4:8], uint32(now.Nanosecond()/1000))
	binary.LittleEndian.PutUint32(rec[8:12], uint32(len(data)))
	binary.LittleEndian.PutUint32(rec[12:16], uint32(len(data)))
	if _, err := p.w.Write(rec); err != nil {
		return err
	}
	_, err := p.w.Write(data)
	return err
}
