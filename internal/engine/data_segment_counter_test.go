package engine_test

import (
	"github.com/jroosing/inetstack/internal/ethernet"
	"github.com/jroosing/inetstack/internal/ipv4"
	"github.com/jroosing/inetstack/internal/runtime"
	"github.com/jroosing/inetstack/internal/tcp"
)

// dataSegmentCounter wraps a runtime.NetworkRuntime and counts how many
// TCP segments carrying a nonzero payload it transmits, so a test can
// observe MSS-driven segmentation without reaching into TCB internals.
type dataSegmentCounter struct {
	runtime.NetworkRuntime
	dataSegments int
}

func (c *dataSegmentCounter) Transmit(frame []byte) error {
	if eth, err := ethernet.Parse(frame); err == nil && eth.Header.Type == ethernet.EtherTypeIPv4 {
		if d, err := ipv4.Parse(eth.Payload); err == nil && d.Header.Protocol == ipv4.ProtocolTCP {
			if _, payload, err := tcp.Parse(d.Payload, d.Header.Src, d.Header.Dst); err == nil && len(payload) > 0 {
				c.dataSegments++
			}
		}
	}
	return c.NetworkRuntime.Transmit(frame)
}
