package tcp

import (
	"time"

	"github.com/jroosing/inetstack/internal/clock"
	"github.com/jroosing/inetstack/internal/helpers"
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/nettypes"
)

// mslDefault is the Maximum Segment Lifetime; TIME_WAIT lasts 2*MSL
// (spec §4.9).
const mslDefault = 30 * time.Second

const delayedACKDelay = 40 * time.Millisecond

// outOfOrderLimit bounds the reassembly set so a malicious or confused
// peer can't grow it unbounded (spec §4.9 "out-of-order reassembly set").
const outOfOrderLimit = 64

type sendSegment struct {
	seq           uint32
	data          []byte
	firstSentAt   time.Time
	lastSentAt    time.Time
	retransmitted bool
}

// TCB is one TCP connection block (spec §4.9's "TCP connection block").
// Every method is only ever called from the engine's single driving
// goroutine — no internal locking.
type TCB struct {
	Local, Remote nettypes.Endpoint
	state         State
	opts          Options
	clk           clock.Clock
	transmit      func([]byte)
	wake          func()

	// Send side.
	sndUNA, sndNXT uint32
	sndWND         uint32
	peerWinScale   uint8
	peerMSS        uint32
	mss            uint32
	unacked        []sendSegment
	sendBuf        []byte
	cong           *Congestion
	rto            *RTOEstimator
	rtoDeadline    time.Time
	rtoArmed       bool
	finSent        bool
	finSeq         uint32

	// Receive side.
	rcvNXT        uint32
	rcvBufCap     int
	recvQueue     [][]byte
	recvQueueLen  int
	outOfOrder    map[uint32][]byte
	finReceived   bool
	segsSinceACK  int
	delayedACKAt  time.Time
	delayedACKSet bool

	// Timestamps option state (RFC 7323).
	lastPeerTSVal uint32

	timeWaitDeadline time.Time
	closedLocally    bool // CloseSend/Close issued
	fullyClosed      bool // Close (not just CloseSend) issued

	lastErr error
}

// NewActive creates a TCB for an active open (connect): CLOSED →
// SYN_SENT, SYN emitted immediately.
func NewActive(local, remote nettypes.Endpoint, opts Options, clk clock.Clock, isn uint32, transmit func([]byte), wake func()) *TCB {
	t := newTCB(local, remote, opts, clk, transmit, wake)
	t.state = StateSynSent
	t.sndUNA = isn
	t.sndNXT = isn + 1
	t.sendSYN(isn, false, 0)
	t.armRTO()
	return t
}

// NewListenChild creates a TCB for a connection accepted out of a
// listening queue (spec §4.9: LISTEN, on SYN → SYN_RECEIVED). The caller
// has already verified the incoming segment is a bare SYN.
func NewListenChild(local, remote nettypes.Endpoint, opts Options, clk clock.Clock, isn uint32, peerSeg Header, transmit func([]byte), wake func()) *TCB {
	t := newTCB(local, remote, opts, clk, transmit, wake)
	t.state = StateSynReceived
	t.sndUNA = isn
	t.sndNXT = isn + 1
	t.rcvNXT = peerSeg.Seq + 1
	t.applyPeerSegmentOptions(peerSeg.Options)
	t.sendSYN(isn, true, t.rcvNXT)
	t.armRTO()
	return t
}

func newTCB(local, remote nettypes.Endpoint, opts Options, clk clock.Clock, transmit func([]byte), wake func()) *TCB {
	mss := uint32(opts.MSS)
	if mss == 0 {
		mss = 1460
	}
	return &TCB{
		Local:      local,
		Remote:     remote,
		opts:       opts,
		clk:        clk,
		transmit:   transmit,
		wake:       wake,
		mss:        mss,
		peerMSS:    mss,
		rcvBufCap:  maxInt(opts.RxBufferSize, 4096),
		outOfOrder: make(map[uint32][]byte),
		cong:       NewCongestion(mss),
		rto:        NewRTOEstimator(),
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (t *TCB) applyPeerSegmentOptions(o Options) {
	if o.MSS != 0 {
		t.peerMSS = uint32(o.MSS)
		if t.peerMSS < t.mss {
			t.mss = t.peerMSS
		}
	}
	if o.WindowScaleOK && t.opts.WindowScaleEnabled {
		t.peerWinScale = o.WindowScale
	}
}

// State reports the connection's current state.
func (t *TCB) State() State { return t.state }

// LastError reports the most recent internal error observed (RST
// received, etc.), for diagnostics.
func (t *TCB) LastError() error { return t.lastErr }

// Fail aborts the connection immediately with err, for failures the TCB
// itself can't detect from segments alone — ARP resolution for this
// connection's next hop exhausting its retries, for example. A no-op once
// the TCB is already closed.
func (t *TCB) Fail(err error) {
	if t.state == StateClosed {
		return
	}
	t.lastErr = err
	t.state = StateClosed
	t.rtoArmed = false
	if t.wake != nil {
		t.wake()
	}
}

// SetWake rebinds the "something happened, re-poll me" callback. Used
// when a TCB outlives the socket it was constructed under — accept()
// hands a TCB built against the listener's wake to a freshly-minted
// connection, which needs its own notifications from that point on.
func (t *TCB) SetWake(wake func()) {
	t.wake = wake
}

func (t *TCB) myOptionsFor(segIsSYN bool) Options {
	if !segIsSYN {
		return Options{}
	}
	o := Options{MSS: t.mss2Advertise()}
	if t.opts.WindowScaleEnabled {
		o.WindowScaleOK = true
		o.WindowScale = 0
	}
	if t.opts.SACKEnabled {
		o.SACKPermitted = true
	}
	if t.opts.TimestampsEnabled {
		o.TimestampsOK = true
		o.TSVal = uint32(t.clk.Now().UnixMilli())
		o.TSEcr = t.lastPeerTSVal
	}
	return o
}

func (t *TCB) mss2Advertise() uint16 {
	return helpers.ClampIntToUint16(int(t.mss))
}

func (t *TCB) advertisedWindow() uint16 {
	return helpers.ClampIntToUint16(t.rcvBufCap - t.recvQueueLen)
}

func (t *TCB) sendSYN(seq uint32, ack bool, ackNum uint32) {
	h := Header{
		SrcPort: t.Local.Port,
		DstPort: t.Remote.Port,
		Seq:     seq,
		Flags:   FlagSYN,
		Window:  t.advertisedWindow(),
		Options: t.myOptionsFor(true),
	}
	if ack {
		h.Flags |= FlagACK
		h.Ack = ackNum
	}
	t.emit(h, nil)
	t.unacked = append(t.unacked, sendSegment{seq: seq, data: nil, firstSentAt: t.clk.Now(), lastSentAt: t.clk.Now()})
}

func (t *TCB) emit(h Header, payload []byte) {
	raw := Emit(h, payload, t.Local.Addr, t.Remote.Addr)
	t.transmit(raw)
}

// Push queues outbound bytes and segments as much as the window and
// Nagle/NoDelay policy permit right now.
func (t *TCB) Push(data []byte) {
	t.sendBuf = append(t.sendBuf, data...)
	t.trySend(false)
}

func (t *TCB) flightSize() uint32 {
	return t.sndNXT - t.sndUNA
}

// trySend emits as many MSS-sized segments as the send window and
// congestion window allow (spec §4.9 "Segmentation and transmission").
// pushed indicates the caller is an explicit user push, which per spec
// forces transmission of a trailing partial segment even under Nagle.
func (t *TCB) trySend(pushed bool) {
	if t.state != StateEstablished && t.state != StateCloseWait {
		return
	}
	effWin := t.sndWND
	if t.cong.Window() < effWin {
		effWin = t.cong.Window()
	}
	for len(t.sendBuf) > 0 {
		inFlight := t.flightSize()
		if inFlight >= effWin {
			break
		}
		room := effWin - inFlight
		chunk := t.mss
		if chunk > room {
			chunk = room
		}
		if uint32(len(t.sendBuf)) < chunk {
			chunk = uint32(len(t.sendBuf))
		}
		isLast := chunk == uint32(len(t.sendBuf))
		if chunk < t.mss && !isLast {
			break // wait for more data or a push, unless NoDelay forces it below
		}
		if chunk < t.mss && isLast && !t.opts.NoDelay && !pushed {
			break
		}
		if chunk == 0 {
			break
		}
		seq := t.sndNXT
		payload := t.sendBuf[:chunk]
		t.sendBuf = t.sendBuf[chunk:]
		h := Header{
			SrcPort: t.Local.Port,
			DstPort: t.Remote.Port,
			Seq:     seq,
			Ack:     t.rcvNXT,
			Flags:   FlagACK | FlagPSH,
			Window:  t.advertisedWindow(),
		}
		t.emit(h, payload)
		now := t.clk.Now()
		t.unacked = append(t.unacked, sendSegment{seq: seq, data: payload, firstSentAt: now, lastSentAt: now})
		t.sndNXT = seq + chunk
		t.armRTO()
	}
}

// armRTO (re)starts the retransmission timer if there is unacked data and
// it isn't already running.
func (t *TCB) armRTO() {
	if len(t.unacked) == 0 {
		t.rtoArmed = false
		return
	}
	if !t.rtoArmed {
		t.rtoDeadline = t.clk.Now().Add(t.rto.Timeout())
		t.rtoArmed = true
	}
}

// Poll drives timer-based work: RTO retransmission, delayed ACK flush,
// TIME_WAIT expiry. Returns true once the connection has reached CLOSED
// and its TCB can be discarded.
func (t *TCB) Poll(now time.Time) (done bool) {
	if t.state == StateTimeWait {
		if !now.Before(t.timeWaitDeadline) {
			t.state = StateClosed
			return true
		}
		return false
	}
	if t.state == StateClosed {
		return true
	}
	if t.rtoArmed && !now.Before(t.rtoDeadline) {
		t.onRTOFired(now)
	}
	if t.delayedACKSet && !now.Before(t.delayedACKAt) {
		t.sendACK()
		t.delayedACKSet = false
		t.segsSinceACK = 0
	}
	return false
}

func (t *TCB) onRTOFired(now time.Time) {
	if len(t.unacked) == 0 {
		t.rtoArmed = false
		return
	}
	t.cong.OnTimeout(t.flightSize())
	t.rto.Backoff()
	seg := &t.unacked[0]
	seg.retransmitted = true
	seg.lastSentAt = now
	h := Header{
		SrcPort: t.Local.Port,
		DstPort: t.Remote.Port,
		Seq:     seg.seq,
		Ack:     t.rcvNXT,
		Flags:   FlagACK,
		Window:  t.advertisedWindow(),
	}
	if seg.data == nil && seg.seq == t.sndUNA && t.state == StateSynSent || (seg.data == nil && seg.seq == t.sndUNA && t.state == StateSynReceived) {
		h.Flags |= FlagSYN
		h.Options = t.myOptionsFor(true)
		if t.state == StateSynReceived {
			h.Ack = t.rcvNXT
		}
	}
	t.emit(h, seg.data)
	t.rtoDeadline = now.Add(t.rto.Timeout())
	if t.wake != nil {
		t.wake()
	}
}

func (t *TCB) sendACK() {
	h := Header{
		SrcPort: t.Local.Port,
		DstPort: t.Remote.Port,
		Seq:     t.sndNXT,
		Ack:     t.rcvNXT,
		Flags:   FlagACK,
		Window:  t.advertisedWindow(),
	}
	t.emit(h, nil)
}

func (t *TCB) scheduleACK(immediate bool) {
	if immediate {
		t.sendACK()
		t.delayedACKSet = false
		t.segsSinceACK = 0
		return
	}
	t.segsSinceACK++
	if t.segsSinceACK >= 2 {
		t.sendACK()
		t.delayedACKSet = false
		t.segsSinceACK = 0
		return
	}
	if !t.delayedACKSet {
		t.delayedACKSet = true
		t.delayedACKAt = t.clk.Now().Add(delayedACKDelay)
	}
}

// Recv processes one arrived segment (spec §4.9's state-machine table).
func (t *TCB) Recv(h Header, payload []byte, now time.Time) {
	if h.Flags.Has(FlagRST) {
		t.lastErr = ierrors.ErrConnReset
		t.state = StateClosed
		t.rtoArmed = false
		if t.wake != nil {
			t.wake()
		}
		return
	}

	switch t.state {
	case StateSynSent:
		t.recvInSynSent(h, now)
	case StateSynReceived:
		t.recvInSynReceived(h, now)
	default:
		t.recvEstablishedLike(h, payload, now)
	}
}

func (t *TCB) recvInSynSent(h Header, now time.Time) {
	if h.Flags.Has(FlagSYN) {
		t.applyPeerSegmentOptions(h.Options)
		t.rcvNXT = h.Seq + 1
		t.sndWND = uint32(h.Window) << t.peerWinScale
		if h.Flags.Has(FlagACK) && h.Ack == t.sndNXT {
			t.ackUnacked(h.Ack, now)
			t.state = StateEstablished
			t.sendACK()
		} else {
			t.state = StateSynReceived
			t.sendSYN(t.sndUNA, true, t.rcvNXT)
		}
		if t.wake != nil {
			t.wake()
		}
	}
}

func (t *TCB) recvInSynReceived(h Header, now time.Time) {
	if h.Flags.Has(FlagACK) && h.Ack == t.sndNXT {
		t.sndWND = uint32(h.Window) << t.peerWinScale
		t.ackUnacked(h.Ack, now)
		t.state = StateEstablished
		if t.wake != nil {
			t.wake()
		}
	}
}

func (t *TCB) recvEstablishedLike(h Header, payload []byte, now time.Time) {
	if h.Flags.Has(FlagACK) {
		dup := h.Ack == t.sndUNA && len(payload) == 0 && !h.Flags.Has(FlagSYN)
		if seqLT(t.sndUNA, h.Ack) && !seqLT(t.sndNXT, h.Ack) {
			t.sndWND = uint32(h.Window) << t.peerWinScale
			t.ackUnacked(h.Ack, now)
		} else if dup && len(t.unacked) > 0 {
			if t.cong.OnDupACK(t.flightSize(), t.sndNXT) {
				t.fastRetransmit(now)
			}
		} else {
			t.sndWND = uint32(h.Window) << t.peerWinScale
		}
	}

	immediate := false
	if len(payload) > 0 {
		immediate = t.acceptData(h.Seq, payload) || immediate
	}
	if h.Flags.Has(FlagFIN) {
		t.handleFIN(h.Seq, len(payload))
		immediate = true
	}
	if len(payload) > 0 || h.Flags.Has(FlagFIN) {
		t.scheduleACK(immediate)
	}

	t.advanceCloseState(h)
	if t.wake != nil {
		t.wake()
	}
}

// acceptData applies an incoming data segment to the receive sequence
// space: in-order bytes are delivered immediately, out-of-order bytes are
// buffered for later reassembly (spec §4.9 "Receive window and
// reassembly"). Returns true if the segment arrived out of order
// (delayed-ACK requires an immediate ACK in that case).
func (t *TCB) acceptData(seq uint32, payload []byte) (outOfOrder bool) {
	if seqLT(seq, t.rcvNXT) {
		skip := t.rcvNXT - seq
		if skip >= uint32(len(payload)) {
			return false // fully a retransmission of already-delivered bytes
		}
		payload = payload[skip:]
		seq = t.rcvNXT
	}
	if seq != t.rcvNXT {
		if len(t.outOfOrder) < outOfOrderLimit {
			t.outOfOrder[seq] = payload
		}
		return true
	}
	t.deliver(payload)
	t.rcvNXT += uint32(len(payload))
	for {
		next, ok := t.outOfOrder[t.rcvNXT]
		if !ok {
			break
		}
		delete(t.outOfOrder, t.rcvNXT)
		t.deliver(next)
		t.rcvNXT += uint32(len(next))
	}
	return false
}

func (t *TCB) deliver(payload []byte) {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.recvQueue = append(t.recvQueue, cp)
	t.recvQueueLen += len(cp)
}

func (t *TCB) handleFIN(seq uint32, payloadLen int) {
	finSeq := seq + uint32(payloadLen)
	if finSeq != t.rcvNXT {
		return // FIN not yet in order; wait for preceding bytes
	}
	if t.finReceived {
		return
	}
	t.finReceived = true
	t.rcvNXT++
}

func (t *TCB) fastRetransmit(now time.Time) {
	if len(t.unacked) == 0 {
		return
	}
	seg := &t.unacked[0]
	seg.retransmitted = true
	seg.lastSentAt = now
	h := Header{
		SrcPort: t.Local.Port,
		DstPort: t.Remote.Port,
		Seq:     seg.seq,
		Ack:     t.rcvNXT,
		Flags:   FlagACK,
		Window:  t.advertisedWindow(),
	}
	t.emit(h, seg.data)
}

// ackUnacked advances SND.UNA, retiring fully-acknowledged segments,
// sampling RTT per Karn's algorithm (never from a retransmitted segment),
// and feeding the congestion controller.
func (t *TCB) ackUnacked(ack uint32, now time.Time) {
	advanced := ack - t.sndUNA
	t.sndUNA = ack
	t.rto.ResetBackoff()

	i := 0
	for i < len(t.unacked) {
		seg := t.unacked[i]
		segLen := uint32(len(seg.data))
		if segLen == 0 {
			segLen = 1 // SYN/FIN placeholder occupies one sequence number
		}
		if seqLT(seg.seq+segLen-1, ack) || seg.seq+segLen == ack {
			if !seg.retransmitted {
				t.rto.Sample(now.Sub(seg.firstSentAt))
			}
			i++
			continue
		}
		break
	}
	t.unacked = t.unacked[i:]

	if t.cong.OnNewACK(advanced, ack) {
		t.fastRetransmit(now)
	}
	t.armRTO()
	if len(t.unacked) == 0 {
		t.rtoArmed = false
	}
	t.trySend(false)
}

// Pop dequeues the oldest contiguous chunk of received bytes. ok is false
// if nothing is buffered; eof is true once the queue is drained and the
// peer has sent FIN.
func (t *TCB) Pop() (data []byte, ok bool, eof bool) {
	if len(t.recvQueue) > 0 {
		data = t.recvQueue[0]
		t.recvQueue = t.recvQueue[1:]
		t.recvQueueLen -= len(data)
		return data, true, false
	}
	return nil, false, t.finReceived
}

// CloseSend half-closes the connection: sends FIN, keeps the receive
// queue open (SPEC_FULL §C.2).
func (t *TCB) CloseSend() {
	if t.closedLocally {
		return
	}
	t.closedLocally = true
	switch t.state {
	case StateEstablished:
		t.state = StateFinWait1
	case StateCloseWait:
		t.state = StateLastAck
	default:
		return
	}
	t.finSeq = t.sndNXT
	h := Header{
		SrcPort: t.Local.Port,
		DstPort: t.Remote.Port,
		Seq:     t.finSeq,
		Ack:     t.rcvNXT,
		Flags:   FlagACK | FlagFIN,
		Window:  t.advertisedWindow(),
	}
	t.emit(h, nil)
	t.sndNXT++
	t.unacked = append(t.unacked, sendSegment{seq: t.finSeq, firstSentAt: t.clk.Now(), lastSentAt: t.clk.Now()})
	t.finSent = true
	t.armRTO()
}

// Close is the full async_close: half-closes the send side (if not
// already) and stops accepting further reads once the peer's FIN has been
// observed (spec §4.9 Close).
func (t *TCB) Close() {
	t.fullyClosed = true
	t.CloseSend()
}

// advanceCloseState drives the passive and simultaneous close paths once
// both FINs have been seen and acknowledged.
func (t *TCB) advanceCloseState(h Header) {
	switch t.state {
	case StateFinWait1:
		if t.finAcked() {
			if t.finReceived {
				t.enterTimeWait()
			} else {
				t.state = StateFinWait2
			}
		} else if t.finReceived {
			t.state = StateClosing
		}
	case StateFinWait2:
		if t.finReceived {
			t.enterTimeWait()
		}
	case StateClosing:
		if t.finAcked() {
			t.enterTimeWait()
		}
	case StateEstablished:
		if t.finReceived {
			t.state = StateCloseWait
		}
	case StateLastAck:
		if t.finAcked() {
			t.state = StateClosed
		}
	}
}

func (t *TCB) finAcked() bool {
	return t.finSent && seqLT(t.finSeq, t.sndUNA)
}

func (t *TCB) enterTimeWait() {
	t.state = StateTimeWait
	t.timeWaitDeadline = t.clk.Now().Add(2 * mslDefault)
}
