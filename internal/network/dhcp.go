package network

import (
	"encoding/binary"
	"errors"
	"net"
)

// DHCP message op codes.
const (
	bootRequest byte = 1
	bootReply   byte = 2
)

const (
	dhcpMagicCookie = 0x63825363
	udpHeaderLen    = 8
	ipv4HeaderLen   = 20
	dhcpFixedLen    = 236 // op..file, excluding the 4-byte magic cookie and options
)

// DHCP option codes this responder understands or emits.
const (
	optPad            byte = 0
	optSubnetMask     byte = 1
	optRouter         byte = 3
	optDNS            byte = 6
	optRequestedIP    byte = 50
	optLeaseTime      byte = 51
	optMessageType    byte = 53
	optServerID       byte = 54
	optEnd            byte = 255
)

// DHCP message types (option 53).
const (
	dhcpDiscover byte = 1
	dhcpOffer    byte = 2
	dhcpRequest  byte = 3
	dhcpACK      byte = 5
	dhcpNAK      byte = 6
)

var ErrNotDHCP = errors.New("network: not a DHCP datagram")

// LeaseConfig is the fixed single-lease configuration this responder hands
// out to the one device attached to the tunnel (spec §4.8.1: there is
// never more than one client on this virtual network).
type LeaseConfig struct {
	ServerIP  net.IP
	ClientIP  net.IP
	SubnetMask net.IP
	Router    net.IP
	DNS       net.IP
	LeaseTime uint32 // seconds
}

func (c LeaseConfig) withDefaults() LeaseConfig {
	if c.ServerIP == nil {
		c.ServerIP = net.IPv4(10, 1, 10, 1)
	}
	if c.ClientIP == nil {
		c.ClientIP = net.IPv4(10, 1, 10, 2)
	}
	if c.SubnetMask == nil {
		c.SubnetMask = net.IPv4(255, 255, 255, 0)
	}
	if c.Router == nil {
		c.Router = c.ServerIP
	}
	if c.DNS == nil {
		c.DNS = c.ServerIP
	}
	if c.LeaseTime == 0 {
		c.LeaseTime = 269_352_960
	}
	return c
}

// DHCPResponder answers DISCOVER/REQUEST with OFFER/ACK for the single
// device on this tunnel, without ever touching a real DHCP server: the
// whole point of the user-space network (spec §4.8) is that the host IS
// the network the device sees.
type DHCPResponder struct {
	cfg LeaseConfig
}

func NewDHCPResponder(cfg LeaseConfig) *DHCPResponder {
	return &DHCPResponder{cfg: cfg.withDefaults()}
}

// HandleIPPacket inspects a raw IPv4 datagram and, if it carries a DHCP
// client message (UDP src=68 dst=67), returns the raw IPv4 reply datagram
// to inject back toward the device. ok is false for anything else.
func (d *DHCPResponder) HandleIPPacket(ipPacket []byte) (reply []byte, ok bool) {
	if len(ipPacket) < ipv4HeaderLen+udpHeaderLen {
		return nil, false
	}
	if ipPacket[0]>>4 != 4 {
		return nil, false
	}
	ihl := int(ipPacket[0]&0x0F) * 4
	if ihl < ipv4HeaderLen || len(ipPacket) < ihl+udpHeaderLen {
		return nil, false
	}
	if ipPacket[9] != 17 { // protocol != UDP
		return nil, false
	}
	udp := ipPacket[ihl:]
	srcPort := binary.BigEndian.Uint16(udp[0:2])
	dstPort := binary.BigEndian.Uint16(udp[2:4])
	if srcPort != 68 || dstPort != 67 {
		return nil, false
	}
	dhcp := udp[udpHeaderLen:]

	msgType, xid, chaddr, err := parseDHCP(dhcp)
	if err != nil {
		return nil, false
	}

	var respType byte
	switch msgType {
	case dhcpDiscover:
		respType = dhcpOffer
	case dhcpRequest:
		respType = dhcpACK
	default:
		return nil, false
	}

	body := buildDHCPReply(respType, xid, chaddr, d.cfg)
	return wrapUDPOverIPv4(net.IPv4bcast, d.cfg.ServerIP, 67, 68, body), true
}

func parseDHCP(b []byte) (msgType byte, xid uint32, chaddr [16]byte, err error) {
	if len(b) < dhcpFixedLen+4 {
		return 0, 0, chaddr, errors.New("network: dhcp message too short")
	}
	if b[0] != bootRequest {
		return 0, 0, chaddr, ErrNotDHCP
	}
	xid = binary.BigEndian.Uint32(b[4:8])
	copy(chaddr[:], b[28:44])
	if binary.BigEndian.Uint32(b[236:240]) != dhcpMagicCookie {
		return 0, 0, chaddr, ErrNotDHCP
	}
	opts := b[240:]
	for i := 0; i < len(opts); {
		code := opts[i]
		if code == optEnd || code == optPad {
			i++
			continue
		}
		if i+1 >= len(opts) {
			break
		}
		length := int(opts[i+1])
		if i+2+length > len(opts) {
			break
		}
		if code == optMessageType && length == 1 {
			msgType = opts[i+2]
		}
		i += 2 + length
	}
	if msgType == 0 {
		return 0, 0, chaddr, ErrNotDHCP
	}
	return msgType, xid, chaddr, nil
}

func buildDHCPReply(msgType byte, xid uint32, chaddr [16]byte, cfg LeaseConfig) []byte {
	b := make([]byte, dhcpFixedLen+4)
	b[0] = bootReply
	b[1] = 1 // htype: ethernet
	b[2] = 6 // hlen
	binary.BigEndian.PutUint32(b[4:8], xid)
	copy(b[16:20], cfg.ClientIP.To4())
	copy(b[20:24], cfg.ServerIP.To4())
	copy(b[28:44], chaddr[:])
	binary.BigEndian.PutUint32(b[236:240], dhcpMagicCookie)

	opts := []byte{optMessageType, 1, msgType}
	opts = append(opts, optServerID, 4)
	opts = append(opts, cfg.ServerIP.To4()...)
	opts = append(opts, optSubnetMask, 4)
	opts = append(opts, cfg.SubnetMask.To4()...)
	opts = append(opts, optRouter, 4)
	opts = append(opts, cfg.Router.To4()...)
	opts = append(opts, optDNS, 4)
	opts = append(opts, cfg.DNS.To4()...)
	leaseBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(leaseBytes, cfg.LeaseTime)
	opts = append(opts, optLeaseTime, 4)
	opts = append(opts, leaseBytes...)
	opts = append(opts, optEnd)

	return append(b, opts...)
}

// wrapUDPOverIPv4 builds a minimal IPv4+UDP datagram around payload. Since
// this never leaves the user-space tunnel, checksums are computed but
// fragmentation and IP options are not needed.
func wrapUDPOverIPv4(src, dst net.IP, srcPort, dstPort uint16, payload []byte) []byte {
	udpLen := udpHeaderLen + len(payload)
	total := ipv4HeaderLen + udpLen
	out := make([]byte, total)

	out[0] = 0x45 // version 4, IHL 5
	binary.BigEndian.PutUint16(out[2:4], uint16(total))
	out[8] = 64 // TTL
	out[9] = 17 // UDP
	copy(out[12:16], src.To4())
	copy(out[16:20], dst.To4())
	binary.BigEndian.PutUint16(out[10:12], ipv4Checksum(out[:ipv4HeaderLen]))

	udp := out[ipv4HeaderLen:]
	binary.BigEndian.PutUint16(udp[0:2], srcPort)
	binary.BigEndian.PutUint16(udp[2:4], dstPort)
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[udpHeaderLen:], payload)
	binary.BigEndian.PutUint16(udp[6:8], udpChecksum(src, dst, udp))

	return out
}

// udpChecksum computes the UDP checksum over the IPv4 pseudo-header
// (src, dst, zero, protocol=17, udp length) followed by the UDP segment
// itself, with the checksum field read as zero.
func udpChecksum(src, dst net.IP, udp []byte) uint16 {
	pseudo := make([]byte, 12+len(udp))
	copy(pseudo[0:4], src.To4())
	copy(pseudo[4:8], dst.To4())
	pseudo[9] = 17 // protocol: UDP
	binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(udp)))
	copy(pseudo[12:], udp)
	pseudo[12+6] = 0
	pseudo[12+7] = 0

	var sum uint32
	for i := 0; i+1 < len(pseudo); i += 2 {
		sum += uint32(pseudo[i])<<8 | uint32(pseudo[i+1])
	}
	if len(pseudo)%2 == 1 {
		sum += uint32(pseudo[len(pseudo)-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	csum := ^uint16(sum)
	if csum == 0 {
		csum = 0xFFFF // per RFC 768: a computed zero is sent as all-ones
	}
	return csum
}

func ipv4Checksum(header []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(header); i += 2 {
		if i == 10 {
			continue // checksum field itself reads as zero
		}
		sum += uint32(header[i])<<8 | uint32(header[i+1])
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
