package engine

import (
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/queue"
	"github.com/jroosing/inetstack/internal/scheduler"
	"github.com/jroosing/inetstack/internal/tcp"
)

// Bind assigns qd's local endpoint (spec §6 bind()). For a stream socket,
// port 0 defers allocation to Connect, which picks an ephemeral port
// itself; a datagram socket bound to port 0 gets an ephemeral port at once.
func (e *Engine) Bind(qd queue.QD, port uint16) error {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return err
	}
	switch st.kind {
	case kindUDP:
		return e.bindUDP(qd, port)
	case kindTCPConnection:
		if !st.local.IsZero() {
			return ierrors.ErrInval
		}
		if port == 0 {
			return nil
		}
		if _, taken := e.tcpBoundPorts[port]; taken {
			return ierrors.ErrAddrInUse
		}
		st.local = nettypes.Endpoint{Addr: e.cfg.LocalIP, Port: port}
		e.tcpBoundPorts[port] = struct{}{}
		return nil
	default:
		return ierrors.ErrNotSupported
	}
}

// bindUDP is the TCP-file-sibling of udp.go's Bind, referenced here only
// to keep the exported Bind() a single dispatch point across both
// transports (spec §6: one bind() for every socket type).
func (e *Engine) bindUDP(qd queue.QD, port uint16) error {
	st, _ := e.sockets.Get(qd)
	if st.udpSock != nil {
		return ierrors.ErrInval
	}
	sock, err := e.udpPeer.Bind(port)
	if err != nil {
		return err
	}
	st.udpSock = sock
	st.local = nettypes.Endpoint{Addr: e.cfg.LocalIP, Port: sock.Port()}
	st.notify = &wakeRef{sched: e.sched}
	sock.SetNotify(st.notify.Wake)
	return nil
}

// SetTCPOptions installs a per-QD overlay over Config.TCPDefaults
// (SPEC_FULL §C.1), layered in via Options.Merge the next time qd
// connects or starts listening. Must be called before connect()/listen()
// — a socket already attached to a TCB, or a listener already accepting,
// can't retune its wire-level options in place.
func (e *Engine) SetTCPOptions(qd queue.QD, opts tcp.Options) error {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return err
	}
	if st.kind != kindTCPConnection || st.tcb != nil {
		return ierrors.ErrInval
	}
	st.tcpOpts = opts
	return nil
}

// Listen turns a bound stream socket into a passive listener with the
// given backlog (spec §6 listen()).
func (e *Engine) Listen(qd queue.QD, backlog int) error {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return err
	}
	if st.kind != kindTCPConnection || st.local.IsZero() {
		return ierrors.ErrInval
	}
	if backlog <= 0 {
		backlog = 1
	}
	st.kind = kindTCPListener
	st.backlog = backlog
	st.acceptWake = &wakeRef{sched: e.sched}
	e.tcpListen[st.local.Port] = qd
	return nil
}

// Accept waits for and claims the next completed connection on a
// listening socket, spec §6 accept(): the returned task resolves to a
// fresh queue.QD already in ESTABLISHED/SYN_RECEIVED.
func (e *Engine) Accept(qd queue.QD) (scheduler.Handle, error) {
	lst, err := e.sockets.Get(qd)
	if err != nil {
		return scheduler.Handle{}, err
	}
	if lst.kind != kindTCPListener {
		return scheduler.Handle{}, ierrors.ErrInval
	}
	h, err := e.sched.Insert(funcTask{fn: func() scheduler.Status {
		for len(lst.acceptQueue) > 0 {
			ac := lst.acceptQueue[0]
			lst.acceptQueue = lst.acceptQueue[1:]
			tuple := nettypes.FourTuple{Local: lst.local, Remote: ac.remote}
			if ac.tcb.State() == tcp.StateClosed {
				delete(e.pendingAccept, tuple)
				continue
			}
			child := &socketState{
				kind:          kindTCPConnection,
				local:         lst.local,
				remote:        ac.remote,
				tcb:           ac.tcb,
				notify:        &wakeRef{sched: e.sched},
				correlationID: e.newCorrelationID(),
				openedAt:      e.clk.Now(),
			}
			ac.tcb.SetWake(child.notify.Wake)
			childQD := e.sockets.Insert(child)
			delete(e.pendingAccept, tuple)
			e.tcpByTuple[tuple] = childQD
			return scheduler.Ready(childQD)
		}
		return scheduler.Pending
	}})
	if err != nil {
		return h, err
	}
	lst.acceptWake.arm(h)
	return h, nil
}

// Connect actively opens a stream connection to remote (spec §6
// connect()). If qd wasn't bound, an ephemeral local port is assigned
// first.
func (e *Engine) Connect(qd queue.QD, remote nettypes.Endpoint) (scheduler.Handle, error) {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return scheduler.Handle{}, err
	}
	if st.kind != kindTCPConnection || st.tcb != nil {
		return scheduler.Handle{}, ierrors.ErrIsConn
	}
	if st.local.IsZero() {
		port, err := e.allocTCPEphemeral()
		if err != nil {
			return scheduler.Handle{}, err
		}
		st.local = nettypes.Endpoint{Addr: e.cfg.LocalIP, Port: port}
		e.tcpBoundPorts[port] = struct{}{}
	}
	tuple := nettypes.FourTuple{Local: st.local, Remote: remote}
	if _, inUse := e.tcpByTuple[tuple]; inUse {
		return scheduler.Handle{}, ierrors.ErrAddrInUse
	}
	st.remote = remote
	st.correlationID = e.newCorrelationID()
	st.openedAt = e.clk.Now()
	st.notify = &wakeRef{sched: e.sched}
	isn := e.issFor(st.local, remote)
	effective := e.cfg.TCPDefaults.Merge(st.tcpOpts)
	var tcb *tcp.TCB
	st.tcb = tcp.NewActive(st.local, remote, effective, e.clk, isn,
		e.transmitFor(st.local, remote, func(err error) {
			if tcb != nil {
				tcb.Fail(err)
			}
		}), st.notify.Wake)
	tcb = st.tcb
	e.tcpByTuple[tuple] = qd

	h, err := e.sched.Insert(funcTask{fn: func() scheduler.Status {
		switch st.tcb.State() {
		case tcp.StateEstablished:
			return scheduler.Ready(nil)
		case tcp.StateClosed:
			if lastErr := st.tcb.LastError(); lastErr != nil {
				return scheduler.Ready(lastErr)
			}
			return scheduler.Ready(ierrors.ErrConnRefused)
		default:
			return scheduler.Pending
		}
	}})
	if err != nil {
		return h, err
	}
	st.notify.arm(h)
	return h, nil
}

func (e *Engine) allocTCPEphemeral() (uint16, error) {
	for i := 0; i < 16384; i++ {
		port := 49152 + e.nextTCPEphemeral
		e.nextTCPEphemeral = (e.nextTCPEphemeral + 1) % 16384
		if _, taken := e.tcpBoundPorts[port]; !taken {
			return port, nil
		}
	}
	return 0, ierrors.ErrAddrNotAvail
}

// Push queues data for transmission on an established connection (spec §6
// push()); the task completes once the bytes have been handed to the
// TCB's send buffer (not once acknowledged — push is "enqueue", not
// "flush").
func (e *Engine) Push(qd queue.QD, data []byte) (scheduler.Handle, error) {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return scheduler.Handle{}, err
	}
	if st.kind != kindTCPConnection || st.tcb == nil {
		return scheduler.Handle{}, ierrors.ErrNotConn
	}
	return e.sched.Insert(funcTask{fn: func() scheduler.Status {
		if st.tcb.State() == tcp.StateClosed {
			if lastErr := st.tcb.LastError(); lastErr != nil {
				return scheduler.Ready(lastErr)
			}
			return scheduler.Ready(ierrors.ErrNotConn)
		}
		st.tcb.Push(data)
		st.bytesSent += uint64(len(data))
		return scheduler.Ready(nil)
	}})
}

// Pop waits for the next received chunk on qd (spec §6 pop()): a
// udp.Datagram for a dgram socket, a []byte for a stream one, or
// nil once a stream peer's FIN has been fully drained.
func (e *Engine) Pop(qd queue.QD) (scheduler.Handle, error) {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return scheduler.Handle{}, err
	}
	switch st.kind {
	case kindUDP:
		if st.udpSock == nil {
			return scheduler.Handle{}, ierrors.ErrNotConn
		}
		h, err := e.sched.Insert(funcTask{fn: func() scheduler.Status {
			d, ok := st.udpSock.Pop()
			if !ok {
				return scheduler.Pending
			}
			return scheduler.Ready(d)
		}})
		if err != nil {
			return h, err
		}
		if st.notify != nil {
			st.notify.arm(h)
		}
		return h, nil
	case kindTCPConnection:
		if st.tcb == nil {
			return scheduler.Handle{}, ierrors.ErrNotConn
		}
		h, err := e.sched.Insert(funcTask{fn: func() scheduler.Status {
			data, ok, eof := st.tcb.Pop()
			if ok {
				st.bytesRecv += uint64(len(data))
				return scheduler.Ready(data)
			}
			if eof {
				return scheduler.Ready(nil)
			}
			if st.tcb.State() == tcp.StateClosed {
				if lastErr := st.tcb.LastError(); lastErr != nil {
					return scheduler.Ready(lastErr)
				}
				return scheduler.Ready(nil)
			}
			return scheduler.Pending
		}})
		if err != nil {
			return h, err
		}
		if st.notify != nil {
			st.notify.arm(h)
		}
		return h, nil
	default:
		return scheduler.Handle{}, ierrors.ErrInval
	}
}

// CloseSend half-closes qd's send direction (spec §6 close_send(),
// SPEC_FULL §C.2): the peer still sees data pop()'d until its own FIN.
func (e *Engine) CloseSend(qd queue.QD) error {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return err
	}
	if st.kind != kindTCPConnection || st.tcb == nil {
		return ierrors.ErrNotConn
	}
	st.tcb.CloseSend()
	return nil
}

// AsyncClose starts a full close of qd and returns a task that resolves
// once teardown (through TIME_WAIT, where applicable) completes (spec §6
// async_close()).
func (e *Engine) AsyncClose(qd queue.QD) (scheduler.Handle, error) {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return scheduler.Handle{}, err
	}
	if st.kind == kindTCPConnection && st.tcb != nil {
		st.tcb.Close()
		return e.sched.Insert(funcTask{fn: func() scheduler.Status {
			if st.tcb.State() == tcp.StateClosed {
				return scheduler.Ready(nil)
			}
			return scheduler.Pending
		}})
	}
	if err := e.Close(qd); err != nil {
		return scheduler.Handle{}, err
	}
	return e.sched.Insert(funcTask{fn: func() scheduler.Status {
		return scheduler.Ready(nil)
	}})
}
