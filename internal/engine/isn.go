package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"

	"github.com/jroosing/inetstack/internal/nettypes"
)

// issFor derives an initial sequence number the way RFC 6528 recommends:
// a keyed PRF over the connection's four-tuple plus a slowly advancing
// clock tick, instead of a plain counter, so ISNs aren't predictable
// across connections.
func (e *Engine) issFor(local, remote nettypes.Endpoint) uint32 {
	mac := hmac.New(sha256.New, e.isnSecret[:])
	var buf [12]byte
	local4 := local.Addr.As4()
	remote4 := remote.Addr.As4()
	copy(buf[0:4], local4[:])
	binary.BigEndian.PutUint16(buf[4:6], local.Port)
	copy(buf[6:10], remote4[:2])
	binary.BigEndian.PutUint16(buf[10:12], remote.Port)
	mac.Write(buf[:])
	mac.Write(remote4[2:])
	sum := mac.Sum(nil)
	tick := uint32(e.clk.Now().UnixNano() / int64(isnTickResolution))
	return binary.BigEndian.Uint32(sum[:4]) + tick
}

// isnTickResolution is RFC 793's notional 4µs ISN clock: the tick
// component advances the ISN by one every 4µs of clock time.
const isnTickResolution = 4000 // nanoseconds
