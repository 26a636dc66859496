// Package engine wires the buffer, clock, scheduler, queue table, ARP
// cache, and the ethernet/ipv4/udp/tcp peers into the single object the
// spec calls the Engine (spec §4.10): it hosts the poll loop and exposes
// the outward socket-style async API.
package engine

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jroosing/inetstack/internal/arp"
	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/queue"
	"github.com/jroosing/inetstack/internal/runtime"
	"github.com/jroosing/inetstack/internal/scheduler"
	"github.com/jroosing/inetstack/internal/store"
	"github.com/jroosing/inetstack/internal/tcp"
	"github.com/jroosing/inetstack/internal/udp"
)

// Domain and Type identify the socket() call's address family and
// semantics (spec §6: "domain must be IPv4; type ∈ {stream, dgram}").
type Domain int

const DomainIPv4 Domain = 1

type SockType int

const (
	SockStream SockType = iota + 1
	SockDgram
)

// Config is everything the Engine needs about its one network interface
// and the protocol defaults new sockets inherit.
type Config struct {
	LocalIP         netip.Addr
	LocalMAC        nettypes.MAC
	Prefix          netip.Prefix
	Gateway         netip.Addr
	ARP             arp.Config
	TCPDefaults     tcp.Options
	MaxRecvIters    int    // spec §4.10 default 2
	TimerResolution uint64 // spec §4.10 default 64
	Logger          *slog.Logger

	// RNGSeed seeds ISN generation deterministically (config key
	// rng_seed); a zero-length seed draws from crypto/rand instead.
	RNGSeed []byte
}

func (c Config) withDefaults() Config {
	if c.MaxRecvIters <= 0 {
		c.MaxRecvIters = 2
	}
	if c.TimerResolution == 0 {
		c.TimerResolution = 64
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

type sockKind int

const (
	kindUDP sockKind = iota
	kindTCPListener
	kindTCPConnection
)

type acceptedConn struct {
	tcb    *tcp.TCB
	remote nettypes.Endpoint
}

type socketState struct {
	kind sockKind

	local nettypes.Endpoint

	udpSock *udp.Socket

	backlog     int
	acceptQueue []acceptedConn
	acceptWake  *wakeRef

	tcb    *tcp.TCB
	remote nettypes.Endpoint

	// notify wakes every outstanding pop()/push() (and, for a fresh
	// outbound connection, connect()) task on this socket once the
	// underlying TCB or UDP socket has something new to report: data
	// arrived, a FIN or RST came in, or the connection finished handshake.
	notify *wakeRef

	// tcpOpts is this socket's per-QD overlay over Config.TCPDefaults
	// (SPEC_FULL §C.1), applied at connect()/listen() time via Merge. A
	// listener's overlay also applies to every child it accepts.
	tcpOpts tcp.Options

	pendingCloseErr error

	// History bookkeeping (SPEC_FULL §A.6), populated only for TCP
	// connections when an Engine has a history store attached.
	correlationID string
	openedAt      time.Time
	bytesSent     uint64
	bytesRecv     uint64
}

// Engine is the top-level object exposing the socket-like API and owning
// the scheduler (spec glossary: "Engine / stack").
type Engine struct {
	cfg   Config
	clk   clock.Clock
	rt    runtime.NetworkRuntime
	log   *slog.Logger

	sched   *scheduler.Scheduler
	sockets *queue.Table[*socketState]

	arpCache *arp.Cache
	udpPeer  *udp.Peer

	tcpByTuple    map[nettypes.FourTuple]queue.QD
	tcpListen     map[uint16]queue.QD
	pendingAccept map[nettypes.FourTuple]*tcp.TCB

	tcpBoundPorts    map[uint16]struct{}
	nextTCPEphemeral uint16

	tickCount uint64
	nextIPID  uint16
	isnSecret [32]byte

	statsMu        sync.RWMutex
	publishedStats Stats

	historyDB    *store.DB
	historyQueue chan store.ConnectionRecord
}

// New builds an Engine over rt, driven by clk, for the interface identity
// in cfg.
func New(rt runtime.NetworkRuntime, clk clock.Clock, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{
		cfg:           cfg,
		clk:           clk,
		rt:            rt,
		log:           cfg.Logger,
		sched:         scheduler.New(0),
		sockets:       queue.NewTable[*socketState](),
		udpPeer:       udp.NewPeer(cfg.LocalIP),
		tcpByTuple:    make(map[nettypes.FourTuple]queue.QD),
		tcpListen:     make(map[uint16]queue.QD),
		pendingAccept: make(map[nettypes.FourTuple]*tcp.TCB),
		tcpBoundPorts: make(map[uint16]struct{}),
		historyQueue:  make(chan store.ConnectionRecord, historyQueueCapacity),
	}
	if len(cfg.RNGSeed) > 0 {
		e.isnSecret = sha256.Sum256(cfg.RNGSeed)
	} else {
		_, _ = rand.Read(e.isnSecret[:])
	}
	e.arpCache = arp.New(clk, arpSender{e}, cfg.LocalIP, cfg.LocalMAC, cfg.ARP)
	return e
}

// historyQueueCapacity bounds the channel connecting tcb-teardown events
// to the background history drainer; a full queue drops the newly
// submitted record rather than blocking the poll loop (SPEC_FULL §A.6:
// "never on the hot path").
const historyQueueCapacity = 256

// AttachHistoryStore wires db as the destination for closed-connection
// audit records. Passing nil disables recording (the default).
func (e *Engine) AttachHistoryStore(db *store.DB) {
	e.historyDB = db
}

func (e *Engine) newCorrelationID() string {
	return uuid.NewString()
}

// enqueueHistory submits rec for eventual persistence. Non-blocking: a
// full queue drops the record and logs a warning for it, trading audit completeness
// for never stalling the single-threaded poll loop.
func (e *Engine) enqueueHistory(rec store.ConnectionRecord) {
	if e.historyDB == nil {
		return
	}
	select {
	case e.historyQueue <- rec:
	default:
		e.log.Warn("connection history queue full, dropping record", "correlation_id", rec.CorrelationID)
	}
}

// drainHistory persists up to n queued history records. Called once per
// PollBgWork tick so sqlite writes are batched instead of happening on
// every teardown.
func (e *Engine) drainHistory(n int) {
	if e.historyDB == nil {
		return
	}
	for i := 0; i < n; i++ {
		select {
		case rec := <-e.historyQueue:
			if err := e.historyDB.RecordClosedConnection(context.Background(), rec); err != nil {
				e.log.Warn("failed to record closed connection", "error", err)
			}
		default:
			return
		}
	}
}

// arpSender adapts Engine to arp.Sender without exporting SendRequest on
// Engine's own public surface.
type arpSender struct{ e *Engine }

func (a arpSender) SendRequest(target netip.Addr) {
	a.e.sendARPRequest(target)
}

// Socket allocates a new queue descriptor (spec §6 socket()).
func (e *Engine) Socket(domain Domain, typ SockType) (queue.QD, error) {
	if domain != DomainIPv4 {
		return 0, ierrors.ErrNotSupported
	}
	st := &socketState{}
	switch typ {
	case SockDgram:
		st.kind = kindUDP
	case SockStream:
		st.kind = kindTCPConnection // not yet connected; Listen promotes it
	default:
		return 0, ierrors.ErrNotSupported
	}
	return e.sockets.Insert(st), nil
}

// Close synchronously releases qd. Tasks already issued against qd are
// not cancelled or dropped; they keep their scheduler slots.
func (e *Engine) Close(qd queue.QD) error {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return err
	}
	switch st.kind {
	case kindUDP:
		if st.udpSock != nil {
			e.udpPeer.Unbind(st.udpSock.Port())
		}
	case kindTCPConnection:
		if st.tcb != nil {
			st.tcb.Close()
			delete(e.tcpByTuple, nettypes.FourTuple{Local: st.local, Remote: st.remote})
			e.enqueueHistory(store.ConnectionRecord{
				CorrelationID: st.correlationID,
				LocalAddr:     st.local.Addr.String(),
				LocalPort:     st.local.Port,
				RemoteAddr:    st.remote.Addr.String(),
				RemotePort:    st.remote.Port,
				OpenedAt:      st.openedAt,
				ClosedAt:      e.clk.Now(),
				BytesSent:     st.bytesSent,
				BytesRecv:     st.bytesRecv,
				FinalState:    st.tcb.State().String(),
			})
		}
		if !st.local.IsZero() {
			delete(e.tcpBoundPorts, st.local.Port)
		}
	case kindTCPListener:
		delete(e.tcpListen, st.local.Port)
		delete(e.tcpBoundPorts, st.local.Port)
		for _, ac := range st.acceptQueue {
			ac.tcb.Close()
			delete(e.pendingAccept, nettypes.FourTuple{Local: st.local, Remote: ac.remote})
		}
	}
	return e.sockets.Remove(qd)
}

// isOnLink reports whether ip shares this interface's configured prefix.
func (e *Engine) isOnLink(ip netip.Addr) bool {
	return e.cfg.Prefix.Contains(ip)
}

func (e *Engine) nextHop(dst netip.Addr) netip.Addr {
	if e.isOnLink(dst) {
		return dst
	}
	return e.cfg.Gateway
}

func (e *Engine) allocIPID() uint16 {
	e.nextIPID++
	return e.nextIPID
}
