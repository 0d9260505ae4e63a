package dispatch

import (
	"testing"

	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l1"
	"github.com/AstralSightStudios/AstroBox-NG-Module-Core/internal/wire/l2"
)

type acceptAllSAR struct{}

func (acceptAllSAR) OnL1(f l1.Frame) bool { return f.Type == l1.TypeDATA }

func TestOnBytesReassemblesSplitFrame(t *testing.T) {
	payload := l2.Encode(l2.ChannelPB, l2.OpWrite, []byte("hi"))
	raw, _ := l1.Encode(l1.TypeDATA, false, 0, payload)

	var got []l2.Packet
	d := New(acceptAllSAR{}, nil, nil)
	d.On(l2.ChannelPB, func(p l2.Packet) { got = append(got, p) })

	// feed one byte at a time, plus junk noise before the frame starts.
	d.OnBytes([]byte{0x00, 0xFF})
	for _, b := range raw {
		d.OnBytes([]byte{b})
	}

	if len(got) != 1 {
		t.Fatalf("expected 1 delivered packet, got %d", len(got))
	}
	if string(got[0].Payload) != "hi" {
		t.Fatalf("payload mismatch: %q", got[0].Payload)
	}
}

func TestOnBytesSkipsMalformedPrefix(t *testing.T) {
	payload := l2.Encode(l2.ChannelPB, l2.OpWrite, []byte("ok"))
	raw, _ := l1.Encode(l1.TypeDATA, false, 0, payload)

	junk := []byte{0xA5, 0xA5, 0x03, 0x00, 0x00, 0x00, 0xFF, 0xFF} // looks like a frame header but fails CRC
	buf := append(junk, raw...)

	var got []l2.Packet
	d := New(acceptAllSAR{}, nil, nil)
	d.On(l2.ChannelPB, func(p l2.Packet) { got = append(got, p) })
	d.OnBytes(buf)

	if len(got) != 1 || string(got[0].Payload) != "ok" {
		t.Fatalf("expected the real frame to be recovered, got %+v", got)
	}
}

func TestOnBytesRoutesByChannel(t *testing.T) {
	massPayload := l2.Encode(l2.ChannelMass, l2.OpWrite, []byte("chunk"))
	raw, _ := l1.Encode(l1.TypeDATA, false, 0, massPayload)

	var pbCount, massCount int
	d := New(acceptAllSAR{}, nil, nil)
	d.On(l2.ChannelPB, func(p l2.Packet) { pbCount++ })
	d.On(l2.ChannelMass, func(p l2.Packet) { massCount++ })
	d.OnBytes(raw)

	if massCount != 1 || pbCount != 0 {
		t.Fatalf("expected routing to MASS only, got pb=%d mass=%d", pbCount, massCount)
	}
}
