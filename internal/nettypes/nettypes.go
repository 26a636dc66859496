// Package nettypes holds the small address/endpoint value types shared by
// the ethernet, ipv4, arp, udp, and tcp packages, so none of them need to
// import each other just to talk about an IP address or a socket endpoint.
package nettypes

import (
	"fmt"
	"net"
	"net/netip"
)

// MAC is a 6-byte Ethernet hardware address.
type MAC [6]byte

// BroadcastMAC is the all-ones Ethernet broadcast address.
var BroadcastMAC = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func (m MAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", m[0], m[1], m[2], m[3], m[4], m[5])
}

// IsBroadcast reports whether m is the Ethernet broadcast address.
func (m MAC) IsBroadcast() bool {
	return m == BroadcastMAC
}

// IsMulticast reports whether m falls in the IEEE 802 multicast range
// (low bit of the first octet set).
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

// ParseMAC parses a colon- or hyphen-separated hardware address string
// (e.g. "02:00:00:00:00:01") into a MAC.
func ParseMAC(s string) (MAC, error) {
	hw, err := net.ParseMAC(s)
	if err != nil {
		return MAC{}, err
	}
	if len(hw) != 6 {
		return MAC{}, fmt.Errorf("nettypes: %q is not a 6-byte MAC address", s)
	}
	var m MAC
	copy(m[:], hw)
	return m, nil
}

// Endpoint is an IPv4 address plus a transport port.
type Endpoint struct {
	Addr netip.Addr
	Port uint16
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// IsZero reports whether e is the zero-value endpoint (unbound).
func (e Endpoint) IsZero() bool {
	return !e.Addr.IsValid() && e.Port == 0
}

// FourTuple identifies a TCP connection: local and remote endpoints.
type FourTuple struct {
	Local  Endpoint
	Remote Endpoint
}

func (t FourTuple) String() string {
	return fmt.Sprintf("%s<->%s", t.Local, t.Remote)
}
