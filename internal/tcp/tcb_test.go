package tcp_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/tcp"
	"github.com/stretchr/testify/require"
)

// pair wires two TCBs directly to each other, bypassing IP/ethernet, to
// exercise the state machine end to end deterministically. Every emitted
// segment is queued on wire and only delivered by flush, so a TCB never
// sees the peer's reply while it is still inside the call that sent.
type pair struct {
	clientAddr, serverAddr nettypes.Endpoint
	client, server         *tcp.TCB
	vc                     *clock.VirtualClock
	wire                   []func()
}

// flush delivers queued segments, including any sent in response, until
// the wire is idle.
func (p *pair) flush() {
	for len(p.wire) > 0 {
		next := p.wire[0]
		p.wire = p.wire[1:]
		next()
	}
}

func newPair(t *testing.T) *pair {
	t.Helper()
	vc := clock.NewVirtualClock(time.Unix(0, 0))
	p := &pair{
		clientAddr: nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 40000},
		serverAddr: nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 80},
		vc:         vc,
	}

	p.client = tcp.NewActive(p.clientAddr, p.serverAddr, tcp.DefaultOptions(), vc, 1000,
		func(raw []byte) { p.wire = append(p.wire, func() { p.deliverToServer(raw) }) }, func() {})
	p.flush()
	return p
}

func (p *pair) deliverToServer(raw []byte) {
	h, payload, err := tcp.Parse(raw, p.clientAddr.Addr, p.serverAddr.Addr)
	if err != nil {
		return
	}
	if p.server == nil {
		p.server = tcp.NewListenChild(p.serverAddr, p.clientAddr, tcp.DefaultOptions(), p.vc, 5000, h,
			func(raw []byte) { p.wire = append(p.wire, func() { p.deliverToClient(raw) }) }, func() {})
		return
	}
	p.server.Recv(h, payload, p.vc.Now())
}

func (p *pair) deliverToClient(raw []byte) {
	h, payload, err := tcp.Parse(raw, p.serverAddr.Addr, p.clientAddr.Addr)
	if err != nil {
		return
	}
	p.client.Recv(h, payload, p.vc.Now())
}

func TestHandshakeReachesEstablished(t *testing.T) {
	p := newPair(t)
	require.Equal(t, tcp.StateEstablished, p.client.State())
	require.Equal(t, tcp.StateEstablished, p.server.State())
}

func TestDataTransferClientToServer(t *testing.T) {
	p := newPair(t)
	p.client.Push([]byte("hello world"))
	p.flush()

	data, ok, eof := p.server.Pop()
	require.True(t, ok)
	require.False(t, eof)
	require.Equal(t, []byte("hello world"), data)
}

func TestGracefulCloseReachesTimeWait(t *testing.T) {
	p := newPair(t)
	p.client.CloseSend()
	p.flush()
	require.Equal(t, tcp.StateFinWait2, p.client.State())
	require.Equal(t, tcp.StateCloseWait, p.server.State())

	p.server.CloseSend()
	p.flush()
	require.Equal(t, tcp.StateTimeWait, p.client.State())
	require.Equal(t, tcp.StateClosed, p.server.State())

	_, ok, eof := p.client.Pop()
	require.False(t, ok)
	require.True(t, eof)
}

func TestRSTDuringEstablishedClosesWithConnReset(t *testing.T) {
	p := newPair(t)
	require.Equal(t, tcp.StateEstablished, p.server.State())

	woken := false
	p.server.SetWake(func() { woken = true })
	p.server.Recv(tcp.Header{
		SrcPort: p.clientAddr.Port,
		DstPort: p.serverAddr.Port,
		Seq:     1001,
		Flags:   tcp.FlagRST,
	}, nil, p.vc.Now())

	require.Equal(t, tcp.StateClosed, p.server.State())
	require.ErrorIs(t, p.server.LastError(), ierrors.ErrConnReset)
	require.True(t, woken, "an RST must wake anyone waiting on this connection")
}

func TestRSTDuringPendingConnectClosesWithConnReset(t *testing.T) {
	vc := clock.NewVirtualClock(time.Unix(0, 0))
	clientAddr := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 40001}
	serverAddr := nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 81}
	client := tcp.NewActive(clientAddr, serverAddr, tcp.DefaultOptions(), vc, 2000,
		func([]byte) {}, func() {})
	require.Equal(t, tcp.StateSynSent, client.State())

	client.Recv(tcp.Header{
		SrcPort: serverAddr.Port,
		DstPort: clientAddr.Port,
		Flags:   tcp.FlagRST,
	}, nil, vc.Now())

	require.Equal(t, tcp.StateClosed, client.State())
	require.ErrorIs(t, client.LastError(), ierrors.ErrConnReset)
}

func TestTimeWaitExpires(t *testing.T) {
	p := newPair(t)
	p.client.CloseSend()
	p.flush()
	p.server.CloseSend()
	p.flush()
	require.Equal(t, tcp.StateTimeWait, p.client.State())

	p.vc.Advance(61 * time.Second)
	done := p.client.Poll(p.vc.Now())
	require.True(t, done)
	require.Equal(t, tcp.StateClosed, p.client.State())
}

func TestRTOFiresAndRetransmitsUnackedSegment(t *testing.T) {
	vc := clock.NewVirtualClock(time.Unix(0, 0))
	var sent [][]byte
	c := tcp.NewActive(
		nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.1"), Port: 1},
		nettypes.Endpoint{Addr: netip.MustParseAddr("10.0.0.2"), Port: 2},
		tcp.DefaultOptions(), vc, 1000,
		func(raw []byte) { sent = append(sent, raw) }, func() {})
	require.Len(t, sent, 1, "initial SYN")

	vc.Advance(2 * time.Second)
	done := c.Poll(vc.Now())
	require.False(t, done)
	require.Len(t, sent, 2, "SYN must be retransmitted after RTO")
}
