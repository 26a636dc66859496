// Package udp implements the UDP peer: wire header parsing/emission with
// the mandatory pseudo-header checksum, and the bind/push_to/pop socket
// surface spec §4.8 describes. A datagram addressed to a port nothing has
// bound is dropped silently, exactly as a kernel UDP stack would (spec
// §4.8, §7: this is not a caller-visible error, only ever an internal
// drop).
package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/ipv4"
	"github.com/jroosing/inetstack/internal/nettypes"
)

// HeaderLen is the fixed size of a UDP header.
const HeaderLen = 8

// EphemeralBase and EphemeralLimit bound the auto-assigned port range used
// when a socket is bound to port 0 (spec
// SPEC_FULL §C.4, grounded on the Demikernel ephemeral-port allocator).
const (
	EphemeralBase  = 49152
	EphemeralLimit = 65535
)

var (
	// ErrTruncated: fewer than HeaderLen bytes, or the declared length
	// disagrees with what's present.
	ErrTruncated = errors.New("udp: datagram truncated")
)

// Header is a parsed UDP header.
type Header struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16
	Sum     uint16
}

// Parse reads a UDP header and payload from b (which must be exactly the
// IPv4 payload — no trailing bytes beyond the datagram, since Length is
// cross-checked against len(b)).
func Parse(b []byte) (Header, []byte, error) {
	if len(b) < HeaderLen {
		return Header{}, nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), HeaderLen)
	}
	h := Header{
		SrcPort: binary.BigEndian.Uint16(b[0:2]),
		DstPort: binary.BigEndian.Uint16(b[2:4]),
		Length:  binary.BigEndian.Uint16(b[4:6]),
		Sum:     binary.BigEndian.Uint16(b[6:8]),
	}
	if int(h.Length) < HeaderLen || int(h.Length) > len(b) {
		return Header{}, nil, fmt.Errorf("%w: length field %d, have %d", ErrTruncated, h.Length, len(b))
	}
	return h, b[HeaderLen:h.Length], nil
}

// VerifyChecksum reports whether a parsed datagram's checksum is valid
// given the IPv4 source/destination it arrived on. A checksum of all
// zero bits means "not computed" and is always accepted (RFC 768).
func VerifyChecksum(h Header, payload []byte, src, dst netip.Addr) bool {
	if h.Sum == 0 {
		return true
	}
	return computeChecksum(h.SrcPort, h.DstPort, payload, src, dst) == h.Sum
}

// Emit serializes a UDP datagram with its checksum filled in.
func Emit(srcPort, dstPort uint16, payload []byte, src, dst netip.Addr) []byte {
	length := HeaderLen + len(payload)
	out := make([]byte, length)
	binary.BigEndian.PutUint16(out[0:2], srcPort)
	binary.BigEndian.PutUint16(out[2:4], dstPort)
	binary.BigEndian.PutUint16(out[4:6], uint16(length))
	binary.BigEndian.PutUint16(out[6:8], 0)
	copy(out[HeaderLen:], payload)

	sum := computeChecksum(srcPort, dstPort, payload, src, dst)
	if sum == 0 {
		// RFC 768: a computed checksum of zero is transmitted as all
		// ones, since all-zero already means "no checksum".
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(out[6:8], sum)
	return out
}

func computeChecksum(srcPort, dstPort uint16, payload []byte, src, dst netip.Addr) uint16 {
	length := HeaderLen + len(payload)
	sum := ipv4.PseudoHeaderSum(src, dst, ipv4.ProtocolUDP, length)

	var hdr [HeaderLen]byte
	binary.BigEndian.PutUint16(hdr[0:2], srcPort)
	binary.BigEndian.PutUint16(hdr[2:4], dstPort)
	binary.BigEndian.PutUint16(hdr[4:6], uint16(length))
	sum += ipv4.ChecksumSum(hdr[:])
	sum += ipv4.ChecksumSum(payload)

	return ipv4.FinalizeChecksum(sum)
}

// Datagram is a received payload plus where it came from.
type Datagram struct {
	From    nettypes.Endpoint
	Payload []byte
}

// maxQueuedPerSocket bounds the undelivered-datagram backlog per socket
// (spec §4.8's pop() reads from a bounded queue, not an unbounded one).
const maxQueuedPerSocket = 256

// Socket is one bound UDP endpoint.
type Socket struct {
	port   uint16
	queue  []Datagram
	notify func()
}

// SetNotify installs fn to be called whenever a datagram is enqueued,
// so a caller blocked in pop() waiting on an empty queue can be woken.
func (s *Socket) SetNotify(fn func()) {
	s.notify = fn
}

// Pop dequeues the oldest undelivered datagram, if any.
func (s *Socket) Pop() (Datagram, bool) {
	if len(s.queue) == 0 {
		return Datagram{}, false
	}
	d := s.queue[0]
	s.queue = s.queue[1:]
	return d, true
}

func (s *Socket) enqueue(d Datagram) bool {
	if len(s.queue) >= maxQueuedPerSocket {
		return false
	}
	s.queue = append(s.queue, d)
	if s.notify != nil {
		s.notify()
	}
	return true
}

// Port reports the local port this socket is bound to.
func (s *Socket) Port() uint16 { return s.port }

// Peer owns every bound UDP socket for one IPv4 interface address.
type Peer struct {
	localIP  netip.Addr
	sockets  map[uint16]*Socket
	nextEph  uint16
}

// NewPeer creates a UDP peer for localIP.
func NewPeer(localIP netip.Addr) *Peer {
	return &Peer{
		localIP: localIP,
		sockets: make(map[uint16]*Socket),
		nextEph: EphemeralBase,
	}
}

// Bind allocates a Socket on port. Passing port 0 auto-assigns the next
// free ephemeral port. Returns ierrors.ErrAddrInUse if port is already
// bound.
func (p *Peer) Bind(port uint16) (*Socket, error) {
	if port == 0 {
		var err error
		port, err = p.allocEphemeral()
		if err != nil {
			return nil, err
		}
	} else if _, taken := p.sockets[port]; taken {
		return nil, ierrors.ErrAddrInUse
	}
	s := &Socket{port: port}
	p.sockets[port] = s
	return s, nil
}

func (p *Peer) allocEphemeral() (uint16, error) {
	for i := 0; i < EphemeralLimit-EphemeralBase+1; i++ {
		port := p.nextEph
		if p.nextEph == EphemeralLimit {
			p.nextEph = EphemeralBase
		} else {
			p.nextEph++
		}
		if _, taken := p.sockets[port]; !taken {
			return port, nil
		}
	}
	return 0, ierrors.ErrAddrInUse
}

// Unbind releases a bound port.
func (p *Peer) Unbind(port uint16) {
	delete(p.sockets, port)
}

// Deliver parses and dispatches an IPv4 UDP payload to the bound socket,
// if any. Packets with a bad checksum or no matching bound socket are
// dropped silently and reported via the bool return only for test
// observability, never surfaced to any socket caller.
func (p *Peer) Deliver(ipPayload []byte, src, dst netip.Addr) bool {
	h, payload, err := Parse(ipPayload)
	if err != nil {
		return false
	}
	if !VerifyChecksum(h, payload, src, dst) {
		return false
	}
	sock, ok := p.sockets[h.DstPort]
	if !ok {
		return false
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return sock.enqueue(Datagram{From: nettypes.Endpoint{Addr: src, Port: h.SrcPort}, Payload: cp})
}

// PushTo builds the wire bytes for a datagram from sock to to's address,
// ready to be handed to ipv4.Emit by the caller (which owns ARP
// resolution and framing).
func (p *Peer) PushTo(sock *Socket, to nettypes.Endpoint, payload []byte) []byte {
	return Emit(sock.port, to.Port, payload, p.localIP, to.Addr)
}
