package engine

import (
	"net/netip"
	"time"

	"github.com/jroosing/inetstack/internal/arp"
	"github.com/jroosing/inetstack/internal/ethernet"
	"github.com/jroosing/inetstack/internal/ipv4"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/store"
	"github.com/jroosing/inetstack/internal/tcp"
)

// PollBgWork is the engine's one driving tick (spec §4.10): drain the
// scheduler, pull up to MaxRecvIters receive batches (polling the
// scheduler between batches so wake chains triggered by arriving packets
// don't wait an extra tick), then advance the clock every
// TimerResolution invocations.
func (e *Engine) PollBgWork() {
	e.sched.Poll()

	for i := 0; i < e.cfg.MaxRecvIters; i++ {
		frames := e.rt.Receive(64)
		if len(frames) == 0 {
			break
		}
		for _, f := range frames {
			e.doReceive(f)
		}
		e.sched.Poll()
	}

	e.tickCount++
	if e.tickCount%e.cfg.TimerResolution == 0 {
		now := e.clk.Now()
		e.arpCache.Poll(now)
		e.pollTCBs(now)
	}
	e.drainHistory(8)
	e.publishStats()
}

func (e *Engine) pollTCBs(now time.Time) {
	for tuple, qd := range e.tcpByTuple {
		st, err := e.sockets.Get(qd)
		if err != nil || st.tcb == nil {
			delete(e.tcpByTuple, tuple)
			continue
		}
		if st.tcb.Poll(now) {
			delete(e.tcpByTuple, tuple)
			e.enqueueHistory(store.ConnectionRecord{
				CorrelationID: st.correlationID,
				LocalAddr:     st.local.Addr.String(),
				LocalPort:     st.local.Port,
				RemoteAddr:    st.remote.Addr.String(),
				RemotePort:    st.remote.Port,
				OpenedAt:      st.openedAt,
				ClosedAt:      now,
				BytesSent:     st.bytesSent,
				BytesRecv:     st.bytesRecv,
				FinalState:    st.tcb.State().String(),
			})
		}
	}
}

// doReceive is Engine.do_receive (spec §2's inbound data-flow summary):
// Ethernet parse → {ARP | IPv4 → {UDP | TCP}} → enqueue → wake.
func (e *Engine) doReceive(frame []byte) {
	eth, err := ethernet.Parse(frame)
	if err != nil {
		e.log.Debug("dropping malformed ethernet frame", "error", err)
		return
	}
	if !ethernet.AcceptedByLocal(eth.Header.Dst, e.cfg.LocalMAC) {
		return
	}

	switch eth.Header.Type {
	case ethernet.EtherTypeARP:
		e.handleARP(eth.Payload)
	case ethernet.EtherTypeIPv4:
		e.handleIPv4(eth.Payload)
	default:
		// Unknown EtherType: dropped, never surfaced (spec §7).
	}
}

func (e *Engine) handleARP(payload []byte) {
	p, err := arp.ParsePacket(payload)
	if err != nil {
		return
	}
	switch p.Op {
	case arp.OpReply:
		e.arpCache.HandleReply(p.SenderIP, p.SenderMAC)
	case arp.OpRequest:
		if e.arpCache.HandleRequest(p.SenderIP, p.SenderMAC, p.TargetIP) {
			e.sendARPReply(p.SenderIP, p.SenderMAC)
		}
	}
}

func (e *Engine) sendARPRequest(target netip.Addr) {
	pkt := arp.Packet{
		Op:        arp.OpRequest,
		SenderMAC: e.cfg.LocalMAC,
		SenderIP:  e.cfg.LocalIP,
		TargetMAC: nettypes.MAC{},
		TargetIP:  target,
	}
	frame := ethernet.Emit(nettypes.BroadcastMAC, e.cfg.LocalMAC, ethernet.EtherTypeARP, arp.EmitPacket(pkt))
	_ = e.rt.Transmit(frame)
}

func (e *Engine) sendARPReply(targetIP netip.Addr, targetMAC nettypes.MAC) {
	pkt := arp.Packet{
		Op:        arp.OpReply,
		SenderMAC: e.cfg.LocalMAC,
		SenderIP:  e.cfg.LocalIP,
		TargetMAC: targetMAC,
		TargetIP:  targetIP,
	}
	frame := ethernet.Emit(targetMAC, e.cfg.LocalMAC, ethernet.EtherTypeARP, arp.EmitPacket(pkt))
	_ = e.rt.Transmit(frame)
}

func (e *Engine) handleIPv4(payload []byte) {
	d, err := ipv4.Parse(payload)
	if err != nil {
		e.log.Debug("dropping malformed ipv4 datagram", "error", err)
		return
	}
	if d.Header.Dst != e.cfg.LocalIP {
		return
	}
	switch d.Header.Protocol {
	case ipv4.ProtocolUDP:
		e.udpPeer.Deliver(d.Payload, d.Header.Src, d.Header.Dst)
	case ipv4.ProtocolTCP:
		e.handleTCP(d.Payload, d.Header.Src, d.Header.Dst)
	default:
		// ICMP and anything else: out of scope, dropped silently.
	}
}

func (e *Engine) handleTCP(payload []byte, srcIP, dstIP netip.Addr) {
	h, tcpPayload, err := tcp.Parse(payload, srcIP, dstIP)
	if err != nil {
		e.log.Debug("dropping malformed tcp segment", "error", err)
		return
	}
	local := nettypes.Endpoint{Addr: dstIP, Port: h.DstPort}
	remote := nettypes.Endpoint{Addr: srcIP, Port: h.SrcPort}
	tuple := nettypes.FourTuple{Local: local, Remote: remote}

	if qd, ok := e.tcpByTuple[tuple]; ok {
		st, err := e.sockets.Get(qd)
		if err == nil && st.tcb != nil {
			st.tcb.Recv(h, tcpPayload, e.clk.Now())
		}
		return
	}

	if tcb, ok := e.pendingAccept[tuple]; ok {
		tcb.Recv(h, tcpPayload, e.clk.Now())
		return
	}

	if h.Flags.Has(tcp.FlagSYN) && !h.Flags.Has(tcp.FlagACK) {
		e.acceptIncomingSYN(local, remote, h)
	}
	// Any other segment for an unknown tuple (spurious ACK/data/RST) is
	// simply dropped — this stack doesn't emit a RST for it (spec §7:
	// unmatched packets are logged and dropped, never surfaced).
}

// acceptIncomingSYN spawns a child TCB for a fresh connection attempt
// against a listening socket and parks it in pendingAccept until Accept()
// claims it and gives it its own queue descriptor.
func (e *Engine) acceptIncomingSYN(local, remote nettypes.Endpoint, h tcp.Header) {
	lqd, ok := e.tcpListen[local.Port]
	if !ok {
		return
	}
	lst, err := e.sockets.Get(lqd)
	if err != nil || lst.kind != kindTCPListener {
		return
	}
	if len(lst.acceptQueue) >= lst.backlog {
		// Open Question decision: silently drop the SYN rather than
		// sending RST or growing past backlog (spec §9, matching BSD).
		return
	}
	tuple := nettypes.FourTuple{Local: local, Remote: remote}
	isn := e.issFor(local, remote)
	wake := func() {
		if lst.acceptWake != nil {
			lst.acceptWake.Wake()
		}
	}
	effective := e.cfg.TCPDefaults.Merge(lst.tcpOpts)
	var child *tcp.TCB
	child = tcp.NewListenChild(local, remote, effective, e.clk, isn, h,
		e.transmitFor(local, remote, func(err error) {
			if child != nil {
				child.Fail(err)
			}
		}), wake)
	e.pendingAccept[tuple] = child
	lst.acceptQueue = append(lst.acceptQueue, acceptedConn{tcb: child, remote: remote})
	wake()
}

// transmitFor builds the callback a TCB uses to emit one finished segment:
// wrap it in an IPv4 header and hand it to sendIPv4, which resolves ARP
// for the next hop as needed. onFail, if non-nil, is invoked when ARP
// permanently can't resolve the next hop for a segment this TCB sent —
// normally wired to the TCB's own Fail so an unreachable peer surfaces as
// EHOSTUNREACH on connect()/push() rather than hanging forever.
func (e *Engine) transmitFor(local, remote nettypes.Endpoint, onFail func(error)) func([]byte) {
	return func(segment []byte) {
		e.sendIPv4(ipv4.ProtocolTCP, local.Addr, remote.Addr, segment, onFail)
	}
}

// sendIPv4 wraps payload in an IPv4 header addressed dst and resolves the
// next hop's MAC via ARP before emitting the Ethernet frame. If
// resolution is still pending, the frame is queued and sent once
// Resolve's callback fires — never blocking the caller's scheduler slot
// (SPEC_FULL §C.3). On permanent resolution failure the datagram is
// dropped and onFail, if given, is called with the error.
func (e *Engine) sendIPv4(protocol ipv4.Protocol, src, dst netip.Addr, payload []byte, onFail func(error)) {
	datagram := ipv4.Emit(src, dst, protocol, 64, e.allocIPID(), payload)
	nextHop := e.nextHop(dst)
	mac, ok := e.arpCache.Resolve(nextHop, func(mac nettypes.MAC, err error) {
		if err != nil {
			e.log.Debug("dropping datagram: arp resolution failed", "dst", dst, "error", err)
			if onFail != nil {
				onFail(err)
			}
			return
		}
		frame := ethernet.Emit(mac, e.cfg.LocalMAC, ethernet.EtherTypeIPv4, datagram)
		_ = e.rt.Transmit(frame)
	})
	if ok {
		frame := ethernet.Emit(mac, e.cfg.LocalMAC, ethernet.EtherTypeIPv4, datagram)
		_ = e.rt.Transmit(frame)
	}
}
