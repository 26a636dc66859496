package engine_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/engine"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/queue"
	"github.com/jroosing/inetstack/internal/runtime"
	"github.com/jroosing/inetstack/internal/tcp"
	"github.com/stretchr/testify/require"
)

func newTestPair(t *testing.T) (a, b *engine.Engine, clk *clock.VirtualClock) {
	t.Helper()
	rtA, rtB := runtime.NewVirtualPair(1500)
	clk = clock.NewVirtualClock(time.Unix(0, 0))
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	a = engine.New(rtA, clk, engine.Config{
		LocalIP:     netip.MustParseAddr("10.0.0.1"),
		LocalMAC:    nettypes.MAC{0x02, 0, 0, 0, 0, 1},
		Prefix:      prefix,
		TCPDefaults: tcp.DefaultOptions(),
	})
	b = engine.New(rtB, clk, engine.Config{
		LocalIP:     netip.MustParseAddr("10.0.0.2"),
		LocalMAC:    nettypes.MAC{0x02, 0, 0, 0, 0, 2},
		Prefix:      prefix,
		TCPDefaults: tcp.DefaultOptions(),
	})
	return a, b, clk
}

// pump drives both engines' poll loops for n ticks, advancing clk a bit
// each tick, so frames in flight on the virtual wire and any
// timer-driven retransmits get a chance to run.
func pump(a, b *engine.Engine, clk *clock.VirtualClock, n int) {
	for i := 0; i < n; i++ {
		a.PollBgWork()
		b.PollBgWork()
		clk.Advance(10 * time.Millisecond)
	}
}

func TestUDPPushToPopRoundTrip(t *testing.T) {
	a, b, clk := newTestPair(t)

	sa, err := a.Socket(engine.DomainIPv4, engine.SockDgram)
	require.NoError(t, err)
	require.NoError(t, a.Bind(sa, 9000))

	sb, err := b.Socket(engine.DomainIPv4, engine.SockDgram)
	require.NoError(t, err)
	require.NoError(t, b.Bind(sb, 9001))

	popQT, err := b.Pop(sb)
	require.NoError(t, err)

	pushQT, err := a.PushTo(sa, nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 9001}, []byte("hello"))
	require.NoError(t, err)

	deadline := clk.Now().Add(5 * time.Second)
	_, err = a.Wait(pushQT, deadline)
	require.NoError(t, err)

	pump(a, b, clk, 10)

	v, err := b.Wait(popQT, deadline)
	require.NoError(t, err)
	require.NotNil(t, v)
}

func TestTCPHandshakeAndDataTransfer(t *testing.T) {
	a, b, clk := newTestPair(t)
	deadline := clk.Now().Add(5 * time.Second)

	listener, err := b.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	require.NoError(t, b.Bind(listener, 7000))
	require.NoError(t, b.Listen(listener, 4))

	acceptQT, err := b.Accept(listener)
	require.NoError(t, err)

	client, err := a.Socket(engine.DomainIPv4, engine.SockStream)
	require.NoError(t, err)
	connectQT, err := a.Connect(client, nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 7000})
	require.NoError(t, err)

	pump(a, b, clk, 10)

	_, err = a.Wait(connectQT, deadline)
	require.NoError(t, err)

	acceptedV, err := b.Wait(acceptQT, deadline)
	require.NoError(t, err)
	serverQD, ok := acceptedV.(queue.QD)
	require.True(t, ok)

	pushQT, err := a.Push(client, []byte("ping"))
	require.NoError(t, err)
	_, err = a.Wait(pushQT, deadline)
	require.NoError(t, err)

	pump(a, b, clk, 10)

	popQT, err := b.Pop(serverQD)
	require.NoError(t, err)
	v, err := b.Wait(popQT, deadline)
	require.NoError(t, err)
	require.Equal(t, []byte("ping"), v)
}
