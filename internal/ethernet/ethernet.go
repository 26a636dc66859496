// Package ethernet parses and emits Ethernet II frames (spec §4.6): a
// 14-byte header (destination MAC, source MAC, EtherType) framing an
// arbitrary payload. This is the lowest layer the stack speaks itself —
// below it is whatever internal/runtime.NetworkRuntime hands over as raw
// bytes.
//
// Parsing follows the teacher's wire-codec idiom: validate length up
// front, read fixed fields with encoding/binary, and wrap every rejection
// in a sentinel via fmt.Errorf("%w: ...", ...) so callers can classify
// failures with errors.Is instead of string matching.
package ethernet

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/jroosing/inetstack/internal/nettypes"
)

// HeaderLen is the fixed size of an Ethernet II header in bytes.
const HeaderLen = 14

// EtherType identifies the payload protocol carried by a frame.
type EtherType uint16

const (
	EtherTypeIPv4 EtherType = 0x0800
	EtherTypeARP  EtherType = 0x0806
)

// ErrTruncated is returned by Parse when the frame is shorter than a
// complete Ethernet header.
var ErrTruncated = errors.New("ethernet: frame shorter than header")

// Header is a parsed Ethernet II header.
type Header struct {
	Dst  nettypes.MAC
	Src  nettypes.MAC
	Type EtherType
}

// Frame is a parsed Ethernet II frame: header plus the payload that
// follows it (a view into the same backing bytes, not a copy).
type Frame struct {
	Header  Header
	Payload []byte
}

// Parse reads an Ethernet II header from the front of b. The returned
// Frame's Payload aliases b; callers that need to retain it past the
// buffer's lifetime must copy it.
//
// Per spec §4.6, frames shorter than 14 bytes are rejected outright.
// Frames destined for a MAC that is neither ours, broadcast, nor multicast
// are the caller's responsibility to drop — Parse only reports the
// destination so the caller (which knows the local MAC) can decide.
func Parse(b []byte) (Frame, error) {
	if len(b) < HeaderLen {
		return Frame{}, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(b), HeaderLen)
	}
	var f Frame
	copy(f.Header.Dst[:], b[0:6])
	copy(f.Header.Src[:], b[6:12])
	f.Header.Type = EtherType(binary.BigEndian.Uint16(b[12:14]))
	f.Payload = b[HeaderLen:]
	return f, nil
}

// Emit serializes a header followed by payload into a single contiguous
// frame.
func Emit(dst, src nettypes.MAC, etherType EtherType, payload []byte) []byte {
	out := make([]byte, HeaderLen+len(payload))
	copy(out[0:6], dst[:])
	copy(out[6:12], src[:])
	binary.BigEndian.PutUint16(out[12:14], uint16(etherType))
	copy(out[HeaderLen:], payload)
	return out
}

// AcceptedByLocal reports whether a frame addressed to dst should be
// processed by an interface whose own address is localMAC: frames to our
// own address, to broadcast, or to a multicast group are accepted;
// anything else is someone else's traffic on a shared medium and must be
// dropped silently (spec §4.6).
func AcceptedByLocal(dst, localMAC nettypes.MAC) bool {
	return dst == localMAC || dst.IsBroadcast() || dst.IsMulticast()
}
