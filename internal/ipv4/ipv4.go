// Package ipv4 parses and emits IPv4 datagrams (spec §4.7): version/IHL
// validation, header checksum, TTL handling, and protocol dispatch to UDP
// or TCP. Fragmented datagrams are dropped rather than reassembled —
// reassembly is out of scope (spec Non-goals: "fragmentation beyond TCP
// segmentation"). Header options, when present, are skipped over and
// never interpreted.
package ipv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// MinHeaderLen is the length of an IPv4 header with no options.
const MinHeaderLen = 20

// Protocol identifies the payload carried by a datagram.
type Protocol uint8

const (
	ProtocolICMP Protocol = 1
	ProtocolTCP  Protocol = 6
	ProtocolUDP  Protocol = 17
)

var (
	// ErrTruncated: fewer bytes than a minimal IPv4 header, or the
	// declared total length exceeds what's actually present.
	ErrTruncated = errors.New("ipv4: datagram truncated")
	// ErrNotIPv4: version nibble isn't 4.
	ErrNotIPv4 = errors.New("ipv4: version is not 4")
	// ErrBadHeaderLen: IHL declares a header shorter than the minimum or
	// longer than the datagram.
	ErrBadHeaderLen = errors.New("ipv4: invalid header length")
	// ErrChecksum: header checksum mismatch.
	ErrChecksum = errors.New("ipv4: header checksum mismatch")
	// ErrFragmented: MF set or a nonzero fragment offset. The spec
	// doesn't reassemble fragments, so these are dropped rather than
	// parsed further.
	ErrFragmented = errors.New("ipv4: fragmented datagram not supported")
)

const (
	flagMoreFragments = 0x2000 // bit 13 of the combined flags+fragoffset field
	fragOffsetMask    = 0x1fff
)

// Header is a parsed IPv4 header. Options, if any, are neither retained
// nor interpreted.
type Header struct {
	TOS      uint8
	ID       uint16
	TTL      uint8
	Protocol Protocol
	Src      netip.Addr
	Dst      netip.Addr
}

// Datagram is a parsed IPv4 packet: header plus payload (a view into the
// same backing bytes, not a copy).
type Datagram struct {
	Header  Header
	Payload []byte
}

// Parse validates and decodes an IPv4 datagram from the front of b.
func Parse(b []byte) (Datagram, error) {
	if len(b) < MinHeaderLen {
		return Datagram{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), MinHeaderLen)
	}
	version := b[0] >> 4
	if version != 4 {
		return Datagram{}, fmt.Errorf("%w: got version %d", ErrNotIPv4, version)
	}
	ihl := int(b[0]&0x0f) * 4
	if ihl < MinHeaderLen || ihl > len(b) {
		return Datagram{}, fmt.Errorf("%w: IHL declares %d bytes", ErrBadHeaderLen, ihl)
	}
	totalLen := int(binary.BigEndian.Uint16(b[2:4]))
	if totalLen < ihl || totalLen > len(b) {
		return Datagram{}, fmt.Errorf("%w: total length %d, have %d", ErrTruncated, totalLen, len(b))
	}

	if computed := checksumSum(b[:ihl]); finalize(computed) != 0 {
		return Datagram{}, ErrChecksum
	}

	flagsAndFrag := binary.BigEndian.Uint16(b[6:8])
	if flagsAndFrag&flagMoreFragments != 0 || flagsAndFrag&fragOffsetMask != 0 {
		return Datagram{}, ErrFragmented
	}

	srcBytes := [4]byte{}
	dstBytes := [4]byte{}
	copy(srcBytes[:], b[12:16])
	copy(dstBytes[:], b[16:20])

	d := Datagram{
		Header: Header{
			TOS:      b[1],
			ID:       binary.BigEndian.Uint16(b[4:6]),
			TTL:      b[8],
			Protocol: Protocol(b[9]),
			Src:      netip.AddrFrom4(srcBytes),
			Dst:      netip.AddrFrom4(dstBytes),
		},
		Payload: b[ihl:totalLen],
	}
	return d, nil
}

// Emit builds a 20-byte IPv4 header (no options) around payload, with the
// header checksum computed and filled in.
func Emit(src, dst netip.Addr, protocol Protocol, ttl uint8, id uint16, payload []byte) []byte {
	total := MinHeaderLen + len(payload)
	out := make([]byte, total)
	out[0] = 0x45 // version 4, IHL 5
	out[1] = 0
	binary.BigEndian.PutUint16(out[2:4], uint16(total))
	binary.BigEndian.PutUint16(out[4:6], id)
	binary.BigEndian.PutUint16(out[6:8], 0) // no fragmentation
	out[8] = ttl
	out[9] = byte(protocol)
	binary.BigEndian.PutUint16(out[10:12], 0) // checksum filled below
	srcBytes := src.As4()
	dstBytes := dst.As4()
	copy(out[12:16], srcBytes[:])
	copy(out[16:20], dstBytes[:])
	copy(out[MinHeaderLen:], payload)

	sum := checksumSum(out[:MinHeaderLen])
	binary.BigEndian.PutUint16(out[10:12], finalize(sum))
	return out
}

// checksumSum computes the raw one's-complement sum (not yet folded or
// inverted) over b, padding a trailing odd byte with zero. Exported via
// ChecksumSum/PseudoHeaderSum so UDP and TCP can extend the same running
// sum across their own header and payload before finishing it off.
func checksumSum(b []byte) uint32 {
	var sum uint32
	n := len(b)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(b[i : i+2]))
	}
	if n%2 == 1 {
		sum += uint32(b[n-1]) << 8
	}
	return sum
}

// finalize folds carries and takes the one's complement, producing the
// value that belongs in a checksum field.
func finalize(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// ChecksumSum is the exported form of checksumSum, for transport-layer
// checksums that need to fold IPv4's algorithm over their own bytes.
func ChecksumSum(b []byte) uint32 { return checksumSum(b) }

// FinalizeChecksum is the exported form of finalize.
func FinalizeChecksum(sum uint32) uint16 { return finalize(sum) }

// PseudoHeaderSum computes the running checksum sum over the IPv4 pseudo
// header (RFC 793 §3.1 / RFC 768) that UDP and TCP fold their own checksum
// around.
func PseudoHeaderSum(src, dst netip.Addr, protocol Protocol, length int) uint32 {
	srcBytes := src.As4()
	dstBytes := dst.As4()
	var buf [12]byte
	copy(buf[0:4], srcBytes[:])
	copy(buf[4:8], dstBytes[:])
	buf[8] = 0
	buf[9] = byte(protocol)
	binary.BigEndian.PutUint16(buf[10:12], uint16(length))
	return checksumSum(buf[:])
}
