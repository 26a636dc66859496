package engine_test

import "github.com/jroosing/inetstack/internal/runtime"

// lossyRuntime wraps a runtime.NetworkRuntime and silently drops the next
// dropNext frames handed to Transmit, then passes everything through
// unchanged. A test arms it immediately before the call expected to
// produce the segment it wants lost, so it can force a retransmission or a
// fast retransmit without reaching into TCB internals.
type lossyRuntime struct {
	runtime.NetworkRuntime
	dropNext int
}

func (l *lossyRuntime) Transmit(frame []byte) error {
	if l.dropNext > 0 {
		l.dropNext--
		return nil
	}
	return l.NetworkRuntime.Transmit(frame)
}
