// Package tcp implements the TCP peer: segment wire format, the RFC 793
// connection state machine, RFC 5681 New Reno congestion control, RFC
// 6298 retransmission timing with Karn's algorithm, and the RFC 7323
// window-scale and timestamps options (spec §4.9, the stack's largest
// single module).
package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/jroosing/inetstack/internal/ipv4"
)

// MinHeaderLen is a TCP header with no options.
const MinHeaderLen = 20

// Flag bits (spec §4.9 / RFC 793 §3.1).
type Flags uint8

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	s := ""
	for _, p := range []struct {
		bit  Flags
		name string
	}{{FlagSYN, "SYN"}, {FlagACK, "ACK"}, {FlagFIN, "FIN"}, {FlagRST, "RST"}, {FlagPSH, "PSH"}, {FlagURG, "URG"}} {
		if f.Has(p.bit) {
			if s != "" {
				s += ","
			}
			s += p.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// option kind octets (RFC 793 §3.1, RFC 7323).
const (
	optEnd           = 0
	optNOP           = 1
	optMSS           = 2
	optWindowScale   = 3
	optSACKPermitted = 4
	optSACK          = 5
	optTimestamps    = 8
)

// Options holds the subset of TCP options this stack negotiates.
type Options struct {
	MSS           uint16 // 0 = absent
	WindowScale   uint8  // shift count; only meaningful if WindowScaleOK
	WindowScaleOK bool
	SACKPermitted bool
	TSVal, TSEcr  uint32 // only meaningful if TimestampsOK
	TimestampsOK  bool
}

// Header is a parsed TCP segment header.
type Header struct {
	SrcPort uint16
	DstPort uint16
	Seq     uint32
	Ack     uint32
	Flags   Flags
	Window  uint16
	Options Options
}

var (
	// ErrTruncated: fewer bytes than the data offset declares, or fewer
	// than the 20-byte minimum.
	ErrTruncated = errors.New("tcp: segment truncated")
	// ErrChecksum: checksum (including the pseudo header) mismatch.
	ErrChecksum = errors.New("tcp: checksum mismatch")
)

// Parse decodes a TCP segment from ipPayload (the IPv4 payload exactly,
// options and all) and verifies its checksum against src/dst.
func Parse(ipPayload []byte, src, dst netip.Addr) (Header, []byte, error) {
	if len(ipPayload) < MinHeaderLen {
		return Header{}, nil, fmt.Errorf("%w: got %d bytes, need %d", ErrTruncated, len(ipPayload), MinHeaderLen)
	}
	dataOffsetWords := int(ipPayload[12] >> 4)
	headerLen := dataOffsetWords * 4
	if headerLen < MinHeaderLen || headerLen > len(ipPayload) {
		return Header{}, nil, fmt.Errorf("%w: data offset declares %d bytes", ErrTruncated, headerLen)
	}

	sum := ipv4.PseudoHeaderSum(src, dst, ipv4.ProtocolTCP, len(ipPayload))
	sum += ipv4.ChecksumSum(ipPayload)
	if ipv4.FinalizeChecksum(sum) != 0 {
		return Header{}, nil, ErrChecksum
	}

	h := Header{
		SrcPort: binary.BigEndian.Uint16(ipPayload[0:2]),
		DstPort: binary.BigEndian.Uint16(ipPayload[2:4]),
		Seq:     binary.BigEndian.Uint32(ipPayload[4:8]),
		Ack:     binary.BigEndian.Uint32(ipPayload[8:12]),
		Flags:   Flags(ipPayload[13] & 0x3f),
		Window:  binary.BigEndian.Uint16(ipPayload[14:16]),
	}
	h.Options = parseOptions(ipPayload[MinHeaderLen:headerLen])
	return h, ipPayload[headerLen:], nil
}

func parseOptions(b []byte) Options {
	var opts Options
	for i := 0; i < len(b); {
		kind := b[i]
		switch kind {
		case optEnd:
			return opts
		case optNOP:
			i++
			continue
		}
		if i+1 >= len(b) {
			return opts
		}
		length := int(b[i+1])
		if length < 2 || i+length > len(b) {
			return opts
		}
		switch kind {
		case optMSS:
			if length == 4 {
				opts.MSS = binary.BigEndian.Uint16(b[i+2 : i+4])
			}
		case optWindowScale:
			if length == 3 {
				opts.WindowScaleOK = true
				opts.WindowScale = b[i+2]
			}
		case optSACKPermitted:
			opts.SACKPermitted = true
		case optTimestamps:
			if length == 10 {
				opts.TimestampsOK = true
				opts.TSVal = binary.BigEndian.Uint32(b[i+2 : i+6])
				opts.TSEcr = binary.BigEndian.Uint32(b[i+6 : i+10])
			}
		}
		i += length
	}
	return opts
}

func encodeOptions(o Options) []byte {
	var buf []byte
	if o.MSS != 0 {
		buf = append(buf, optMSS, 4)
		var b2 [2]byte
		binary.BigEndian.PutUint16(b2[:], o.MSS)
		buf = append(buf, b2[:]...)
	}
	if o.SACKPermitted {
		buf = append(buf, optSACKPermitted, 2)
	}
	if o.TimestampsOK {
		buf = append(buf, optTimestamps, 10)
		var b4 [4]byte
		binary.BigEndian.PutUint32(b4[:], o.TSVal)
		buf = append(buf, b4[:]...)
		binary.BigEndian.PutUint32(b4[:], o.TSEcr)
		buf = append(buf, b4[:]...)
	}
	if o.WindowScaleOK {
		buf = append(buf, optWindowScale, 3, o.WindowScale)
	}
	for len(buf)%4 != 0 {
		buf = append(buf, optNOP)
	}
	return buf
}

// Emit serializes a TCP segment with its checksum filled in.
func Emit(h Header, payload []byte, src, dst netip.Addr) []byte {
	opts := encodeOptions(h.Options)
	headerLen := MinHeaderLen + len(opts)
	total := headerLen + len(payload)
	out := make([]byte, total)

	binary.BigEndian.PutUint16(out[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(out[2:4], h.DstPort)
	binary.BigEndian.PutUint32(out[4:8], h.Seq)
	binary.BigEndian.PutUint32(out[8:12], h.Ack)
	out[12] = byte(headerLen/4) << 4
	out[13] = byte(h.Flags)
	binary.BigEndian.PutUint16(out[14:16], h.Window)
	// checksum at out[16:18] filled below
	// urgent pointer out[18:20] stays zero
	copy(out[MinHeaderLen:headerLen], opts)
	copy(out[headerLen:], payload)

	sum := ipv4.PseudoHeaderSum(src, dst, ipv4.ProtocolTCP, total)
	sum += ipv4.ChecksumSum(out)
	binary.BigEndian.PutUint16(out[16:18], ipv4.FinalizeChecksum(sum))
	return out
}
