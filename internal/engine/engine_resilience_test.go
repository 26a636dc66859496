package engine_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jroosing/inetstack/internal/arp"
	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/engine"
	"github.com/jroosing/inetstack/internal/ethernet"
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/ipv4"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/queue"
	"github.com/jroosing/inetstack/internal/runtime"
	"github.com/jroosing/inetstack/internal/tcp"
	"github.com/stretchr/testify/require"
)

// warmUDPCache exchanges one UDP datagram from a to b purely so a's ARP
// cache resolves 10.0.0.2 before the caller starts measuring Transmit
// calls on a's (possibly lossy) runtime.
func warmUDPCache(t *testing.T, a, b *engine.Engine, clk *clock.VirtualClock, deadline time.Time) {
	t.Helper()
	ua, err := a.Socket(engine.DomainIPv4, engine.SockDgram)
	require.NoError(t, err)
	require.NoError(t, a.Bind(ua, 8000))
	ub, err := b.Socket(engine.DomainIPv4, engine.SockDgram)
	require.NoError(t, err)
	require.NoError(t, b.Bind(ub, 8001))

	pushQT, err := a.PushTo(ua, nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 8001}, []byte("x"))
	require.NoError(t, err)
	_, err = a.Wait(pushQT, deadline)
	require.NoError(t, err)

	pump(a, b, clk, 20)

	require.NoError(t, a.Close(ua))
	require.NoError(t, b.Close(ub))
}

// newTunedPair is newTestPair with a tick-every-poll timer resolution, so
// RTO firing, ARP retry/give-up, and TIME_WAIT expiry don't need dozens of
// ticks to get a chance to run.
func newTunedPair(t *testing.T, rtA, rtB runtime.NetworkRuntime, arpCfg arp.Config) (a, b *engine.Engine, clk *clock.VirtualClock) {
	t.Helper()
	clk = clock.NewVirtualClock(time.Unix(0, 0))
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	a = engine.New(rtA, clk, engine.Config{
		LocalIP:         netip.MustParseAddr("10.0.0.1"),
		LocalMAC:        nettypes.MAC{0x02, 0, 0, 0, 0, 1},
		Prefix:          prefix,
		TCPDefaults:     tcp.DefaultOptions(),
		ARP:             arpCfg,
		TimerResolution: 1,
	})
	b = engine.New(rtB, clk, engine.Config{
		LocalIP:         netip.MustParseAddr("10.0.0.2"),
		LocalMAC:        nettypes.MAC{0x02, 0, 0, 0, 0, 2},
		Prefix:          prefix,
		TCPDefaults:     tcp.DefaultOptions(),
		ARP:             arpCfg,
		TimerResolution: 1,
	})
	return a, b, clk
}

func TestTCPHandshakeSurvivesDroppedFirstSYN(t *testing.T) {
	rawA, rawB := runtime.NewVirtualPair(1500)
	lossy := &lossyRuntime{NetworkRuntime: rawA}
	a, b, clk := newTunedPair(t, lossy, rawB, arp.Config{})
	deadline := clk.Now().Add(30 * time.Second)

	listener, err := b.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, b.Bind(listener, 7200))
	require.NoError(t, b.Listen(listener, 4))
	acceptQT, err := b.Accept(listener)
	require.NoError(t, err)

	// Warm a's ARP cache for 10.0.0.2 with a harmless UDP exchange first,
	// so the frame dropped below is unambiguously the SYN itself rather
	// than an ARP request racing ahead of it.
	warmUDPCache(t, a, b, clk, deadline)

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)

	lossy.dropNext = 1 // the very first segment a transmits next is the SYN
	connectQT, err := a.Connect(client, nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 7200})
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		a.PollBgWork()
		b.PollBgWork()
		clk.Advance(10 * time.Millisecond)
	}

	_, err = a.Wait(connectQT, deadline)
	require.NoError(t, err, "connect should succeed once the retransmitted SYN gets through")
	_, err = b.Wait(acceptQT, deadline)
	require.NoError(t, err)
}

func TestTCPFastRetransmitOnDroppedSegment(t *testing.T) {
	rawA, rawB := runtime.NewVirtualPair(1500)
	lossy := &lossyRuntime{NetworkRuntime: rawA}
	a, b, clk := newTunedPair(t, lossy, rawB, arp.Config{})
	deadline := clk.Now().Add(30 * time.Second)

	listener, err := b.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, b.Bind(listener, 7300))
	require.NoError(t, b.Listen(listener, 4))
	acceptQT, err := b.Accept(listener)
	require.NoError(t, err)

	warmUDPCache(t, a, b, clk, deadline)

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	connectQT, err := a.Connect(client, nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 7300})
	require.NoError(t, err)

	pump(a, b, clk, 20)
	_, err = a.Wait(connectQT, deadline)
	require.NoError(t, err)
	acceptedV, err := b.Wait(acceptQT, deadline)
	require.NoError(t, err)
	serverQD, ok := acceptedV.(queue.QD)
	require.True(t, ok)

	// Send five one-byte segments; drop the second one ("B") so the
	// server sees "A", then "C"/"D"/"E" out of order, producing three
	// duplicate ACKs and forcing a's TCB to fast-retransmit "B".
	segments := []string{"A", "B", "C", "D", "E"}
	for i, s := range segments {
		if i == 1 {
			lossy.dropNext = 1
		}
		qt, err := a.Push(client, []byte(s))
		require.NoError(t, err)
		_, err = a.Wait(qt, deadline)
		require.NoError(t, err)
		pump(a, b, clk, 2)
	}

	pump(a, b, clk, 20)

	var got []byte
	for i := 0; i < len(segments); i++ {
		popQT, err := b.Pop(serverQD)
		require.NoError(t, err)
		v, err := b.Wait(popQT, deadline)
		require.NoError(t, err)
		got = append(got, v.([]byte)...)
	}
	require.Equal(t, "ABCDE", string(got))
}

func TestARPResolutionFailureReturnsHostUnreachable(t *testing.T) {
	rawA, rawB := runtime.NewVirtualPair(1500)
	a, b, clk := newTunedPair(t, rawA, rawB, arp.Config{
		RetryInterval: 50 * time.Millisecond,
		MaxRetries:    2,
	})
	deadline := clk.Now().Add(30 * time.Second)

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	connectQT, err := a.Connect(client, nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.99"), Port: 9999})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		a.PollBgWork()
		b.PollBgWork()
		clk.Advance(60 * time.Millisecond)
	}

	_, err = a.Wait(connectQT, deadline)
	require.ErrorIs(t, err, ierrors.ErrHostUnreachable)
}

func TestTimeWaitBlocksImmediatePortReuse(t *testing.T) {
	rawA, rawB := runtime.NewVirtualPair(1500)
	a, b, clk := newTunedPair(t, rawA, rawB, arp.Config{})
	deadline := clk.Now().Add(30 * time.Second)

	listener, err := b.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, b.Bind(listener, 7400))
	require.NoError(t, b.Listen(listener, 4))
	acceptQT, err := b.Accept(listener)
	require.NoError(t, err)

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, a.Bind(client, 15000))
	remote := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 7400}
	connectQT, err := a.Connect(client, remote)
	require.NoError(t, err)

	pump(a, b, clk, 10)
	_, err = a.Wait(connectQT, deadline)
	require.NoError(t, err)
	acceptedV, err := b.Wait(acceptQT, deadline)
	require.NoError(t, err)
	serverQD, ok := acceptedV.(queue.QD)
	require.True(t, ok)

	_, err = a.AsyncClose(client)
	require.NoError(t, err)
	_, err = b.AsyncClose(serverQD)
	require.NoError(t, err)

	pump(a, b, clk, 20)

	client2, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, a.Bind(client2, 15000))
	_, err = a.Connect(client2, remote)
	require.ErrorIs(t, err, ierrors.ErrAddrInUse,
		"reconnecting the same 4-tuple while the old connection is still in TIME_WAIT must fail")

	// After TIME_WAIT (2*MSL = 60s) expires and a tick runs pollTCBs, the
	// tuple is released and reuse succeeds.
	clk.Advance(61 * time.Second)
	pump(a, b, clk, 5)

	client3, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, a.Bind(client3, 15000))
	_, err = a.Connect(client3, remote)
	require.NoError(t, err, "the 4-tuple should be reusable once TIME_WAIT has fully expired")
}

// injectRST hands rt a forged RST segment, as if it arrived from remote
// addressed to local, bypassing whichever engine owns rt entirely — the
// shape of an off-path attacker's spoofed reset rather than a real peer's.
func injectRST(rt runtime.NetworkRuntime, localMAC, remoteMAC nettypes.MAC, local, remote nettypes.Endpoint) {
	seg := tcp.Emit(tcp.Header{
		SrcPort: remote.Port,
		DstPort: local.Port,
		Flags:   tcp.FlagRST,
	}, nil, remote.Addr, local.Addr)
	datagram := ipv4.Emit(remote.Addr, local.Addr, ipv4.ProtocolTCP, 64, 1, seg)
	frame := ethernet.Emit(localMAC, remoteMAC, ethernet.EtherTypeIPv4, datagram)
	_ = rt.Transmit(frame)
}

func TestRSTClosesEstablishedConnectionWithConnReset(t *testing.T) {
	rawA, rawB := runtime.NewVirtualPair(1500)
	a, b, clk := newTunedPair(t, rawA, rawB, arp.Config{})
	deadline := clk.Now().Add(30 * time.Second)
	aMAC := nettypes.MAC{0x02, 0, 0, 0, 0, 1}
	bMAC := nettypes.MAC{0x02, 0, 0, 0, 0, 2}

	listener, err := b.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, b.Bind(listener, 7500))
	require.NoError(t, b.Listen(listener, 4))
	acceptQT, err := b.Accept(listener)
	require.NoError(t, err)

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, a.Bind(client, 15600))
	local := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 15600}
	remote := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 7500}
	connectQT, err := a.Connect(client, remote)
	require.NoError(t, err)

	pump(a, b, clk, 10)
	_, err = a.Wait(connectQT, deadline)
	require.NoError(t, err)
	_, err = b.Wait(acceptQT, deadline)
	require.NoError(t, err)

	// Push a byte that never gets a chance to be read, then reset the
	// connection: pop() must surface ECONNRESET rather than hang.
	pushQT, err := a.Push(client, []byte("x"))
	require.NoError(t, err)
	_, err = a.Wait(pushQT, deadline)
	require.NoError(t, err)

	injectRST(rawB, aMAC, bMAC, local, remote)
	a.PollBgWork()

	popQT, err := a.Pop(client)
	require.NoError(t, err)
	_, err = a.Wait(popQT, deadline)
	require.ErrorIs(t, err, ierrors.ErrConnReset)

	pushQT2, err := a.Push(client, []byte("y"))
	require.NoError(t, err)
	_, err = a.Wait(pushQT2, deadline)
	require.ErrorIs(t, err, ierrors.ErrConnReset)
}

func TestRSTDuringPendingConnectSurfacesConnReset(t *testing.T) {
	rawA, rawB := runtime.NewVirtualPair(1500)
	a, _, clk := newTunedPair(t, rawA, rawB, arp.Config{})
	deadline := clk.Now().Add(30 * time.Second)
	aMAC := nettypes.MAC{0x02, 0, 0, 0, 0, 1}
	bMAC := nettypes.MAC{0x02, 0, 0, 0, 0, 2}

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, a.Bind(client, 15700))
	local := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 15700}
	remote := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 7600}
	connectQT, err := a.Connect(client, remote)
	require.NoError(t, err)

	injectRST(rawB, aMAC, bMAC, local, remote)
	a.PollBgWork()

	_, err = a.Wait(connectQT, deadline)
	require.ErrorIs(t, err, ierrors.ErrConnReset)
}
