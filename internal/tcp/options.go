package tcp

// Options is the per-connection overlay over stack-wide TCP defaults
// (SPEC_FULL §C.1): every field can be left at the zero value to inherit
// config.Config's corresponding tcp_* default, or set explicitly before
// connect/listen to override it for that one socket — e.g. a
// latency-sensitive connection can force NoDelay even when the stack
// default coalesces small writes.
type Options struct {
	MSS                uint16
	WindowScaleEnabled bool
	TimestampsEnabled  bool
	SACKEnabled         bool
	RxBufferSize       int
	TxBufferSize       int
	NoDelay            bool
}

// DefaultOptions mirrors the spec's enumerated tcp_* configuration keys.
func DefaultOptions() Options {
	return Options{
		MSS:                1460,
		WindowScaleEnabled: true,
		TimestampsEnabled:  true,
		SACKEnabled:        true,
		RxBufferSize:       65536,
		TxBufferSize:       65536,
		NoDelay:            true,
	}
}

// Merge overlays non-zero fields of o onto the receiver's defaults,
// producing the effective options for one connection.
func (d Options) Merge(o Options) Options {
	eff := d
	if o.MSS != 0 {
		eff.MSS = o.MSS
	}
	if o.RxBufferSize != 0 {
		eff.RxBufferSize = o.RxBufferSize
	}
	if o.TxBufferSize != 0 {
		eff.TxBufferSize = o.TxBufferSize
	}
	eff.WindowScaleEnabled = o.WindowScaleEnabled || d.WindowScaleEnabled
	eff.TimestampsEnabled = o.TimestampsEnabled || d.TimestampsEnabled
	eff.SACKEnabled = o.SACKEnabled || d.SACKEnabled
	eff.NoDelay = o.NoDelay || d.NoDelay
	return eff
}
