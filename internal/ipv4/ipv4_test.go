package ipv4_test

import (
	"errors"
	"net/netip"
	"testing"

	"github.com/jroosing/inetstack/internal/ipv4"
	"github.com/stretchr/testify/require"
)

var (
	src = netip.MustParseAddr("192.168.1.1")
	dst = netip.MustParseAddr("192.168.1.2")
)

func TestEmitParseRoundTrip(t *testing.T) {
	payload := []byte("udp-ish payload")
	raw := ipv4.Emit(src, dst, ipv4.ProtocolUDP, 64, 7, payload)

	d, err := ipv4.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, src, d.Header.Src)
	require.Equal(t, dst, d.Header.Dst)
	require.Equal(t, ipv4.ProtocolUDP, d.Header.Protocol)
	require.Equal(t, uint8(64), d.Header.TTL)
	require.Equal(t, uint16(7), d.Header.ID)
	require.Equal(t, payload, d.Payload)
}

func TestParseRejectsBadChecksum(t *testing.T) {
	raw := ipv4.Emit(src, dst, ipv4.ProtocolUDP, 64, 1, []byte("x"))
	raw[10] ^= 0xff // corrupt checksum byte
	_, err := ipv4.Parse(raw)
	require.True(t, errors.Is(err, ipv4.ErrChecksum))
}

func TestParseRejectsTruncated(t *testing.T) {
	_, err := ipv4.Parse(make([]byte, 10))
	require.True(t, errors.Is(err, ipv4.ErrTruncated))
}

func TestParseRejectsNonIPv4Version(t *testing.T) {
	raw := ipv4.Emit(src, dst, ipv4.ProtocolUDP, 64, 1, []byte("x"))
	raw[0] = 0x65 // version 6
	_, err := ipv4.Parse(raw)
	require.True(t, errors.Is(err, ipv4.ErrNotIPv4))
}

func TestParseRejectsFragmented(t *testing.T) {
	raw := ipv4.Emit(src, dst, ipv4.ProtocolUDP, 64, 1, []byte("x"))
	raw[6] = 0x20 // MF bit set
	_, err := ipv4.Parse(raw)
	require.True(t, errors.Is(err, ipv4.ErrFragmented))
}

func TestPseudoHeaderSumDeterministic(t *testing.T) {
	a := ipv4.PseudoHeaderSum(src, dst, ipv4.ProtocolTCP, 20)
	b := ipv4.PseudoHeaderSum(src, dst, ipv4.ProtocolTCP, 20)
	require.Equal(t, a, b)

	c := ipv4.PseudoHeaderSum(src, dst, ipv4.ProtocolUDP, 20)
	require.NotEqual(t, a, c, "protocol must affect the pseudo-header sum")
}
