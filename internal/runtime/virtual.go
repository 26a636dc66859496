package runtime

// VirtualRuntime is an in-memory NetworkRuntime for deterministic tests
// (spec §7: "tests substitute a pair-of-queues transport"). Two
// VirtualRuntimes created by NewVirtualPair feed each other directly, with
// no goroutines or syscalls involved, so a test driving two engines by
// hand sees fully reproducible delivery order.
type VirtualRuntime struct {
	inbox *[][]byte  // frames waiting to be Received by this end
	peer  *[][]byte  // the other end's inbox, written to by Transmit
	mtu   int
}

// NewVirtualPair creates two connected ends: frames transmitted on one are
// receivable from the other.
func NewVirtualPair(mtu int) (a, b *VirtualRuntime) {
	var boxA, boxB [][]byte
	a = &VirtualRuntime{inbox: &boxA, peer: &boxB, mtu: mtu}
	b = &VirtualRuntime{inbox: &boxB, peer: &boxA, mtu: mtu}
	return a, b
}

func (v *VirtualRuntime) Transmit(frame []byte) error {
	cp := make([]byte, len(frame))
	copy(cp, frame)
	*v.peer = append(*v.peer, cp)
	return nil
}

func (v *VirtualRuntime) Receive(max int) [][]byte {
	if len(*v.inbox) == 0 {
		return nil
	}
	if max <= 0 || max > len(*v.inbox) {
		max = len(*v.inbox)
	}
	batch := (*v.inbox)[:max]
	*v.inbox = (*v.inbox)[max:]
	return batch
}

func (v *VirtualRuntime) Close() error { return nil }
