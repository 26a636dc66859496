package arp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jroosing/inetstack/internal/nettypes"
)

// PacketLen is the fixed size of an ARP packet for Ethernet/IPv4
// (RFC 826): htype(2) ptype(2) hlen(1) plen(1) oper(2) + 2*(MAC+IPv4).
const PacketLen = 28

const (
	hwTypeEthernet  = 1
	protoTypeIPv4   = 0x0800
	hwAddrLen       = 6
	protoAddrLen    = 4
	OpRequest       = 1
	OpReply         = 2
)

// ErrTruncated is returned by ParsePacket when fewer than PacketLen bytes
// are present, or the packet isn't the Ethernet/IPv4 ARP variant this
// stack speaks.
var ErrTruncated = errors.New("arp: malformed packet")

// Packet is a parsed ARP packet (RFC 826), restricted to the
// Ethernet/IPv4 combination this stack supports.
type Packet struct {
	Op        uint16
	SenderMAC nettypes.MAC
	SenderIP  netip.Addr
	TargetMAC nettypes.MAC
	TargetIP  netip.Addr
}

// ParsePacket decodes an ARP packet from the Ethernet payload b.
func ParsePacket(b []byte) (Packet, error) {
	if len(b) < PacketLen {
		return Packet{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), PacketLen)
	}
	if binary.BigEndian.Uint16(b[0:2]) != hwTypeEthernet ||
		binary.BigEndian.Uint16(b[2:4]) != protoTypeIPv4 ||
		b[4] != hwAddrLen || b[5] != protoAddrLen {
		return Packet{}, fmt.Errorf("%w: unsupported hardware/protocol combination", ErrTruncated)
	}
	var p Packet
	p.Op = binary.BigEndian.Uint16(b[6:8])
	copy(p.SenderMAC[:], b[8:14])
	senderIP := [4]byte{}
	copy(senderIP[:], b[14:18])
	p.SenderIP = netip.AddrFrom4(senderIP)
	copy(p.TargetMAC[:], b[18:24])
	targetIP := [4]byte{}
	copy(targetIP[:], b[24:28])
	p.TargetIP = netip.AddrFrom4(targetIP)
	return p, nil
}

// EmitPacket serializes an ARP packet.
func EmitPacket(p Packet) []byte {
	out := make([]byte, PacketLen)
	binary.BigEndian.PutUint16(out[0:2], hwTypeEthernet)
	binary.BigEndian.PutUint16(out[2:4], protoTypeIPv4)
	out[4] = hwAddrLen
	out[5] = protoAddrLen
	binary.BigEndian.PutUint16(out[6:8], p.Op)
	copy(out[8:14], p.SenderMAC[:])
	senderIP := p.SenderIP.As4()
	copy(out[14:18], senderIP[:])
	copy(out[18:24], p.TargetMAC[:])
	targetIP := p.TargetIP.As4()
	copy(out[24:28], targetIP[:])
	return out
}
