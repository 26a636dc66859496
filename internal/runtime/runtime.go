// Package runtime defines the pluggable packet I/O transport the engine
// drives every tick (spec §2: "the NetworkRuntime packet source/sink"),
// plus two concrete implementations: a raw AF_PACKET socket for real
// interfaces, and a virtual pair-of-queues transport for deterministic
// tests. Per spec §2, only the Transmit/Receive contract is in scope —
// the concrete DPDK/raw-socket packet plumbing behind it is an external
// collaborator the engine only talks to through this interface.
package runtime

// NetworkRuntime supplies and consumes raw Ethernet frames. Receive must
// never block — the engine calls it once per poll_bg_work tick (spec
// §4.10) and must keep the single thread moving.
type NetworkRuntime interface {
	// Transmit sends one complete Ethernet frame.
	Transmit(frame []byte) error
	// Receive drains whatever frames are currently available, up to max.
	// Returns an empty (possibly nil) slice if none are ready.
	Receive(max int) [][]byte
	// Close releases the underlying transport.
	Close() error
}
