package engine

import (
	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/ipv4"
	"github.com/jroosing/inetstack/internal/nettypes"
	"github.com/jroosing/inetstack/internal/queue"
	"github.com/jroosing/inetstack/internal/scheduler"
)

// PushTo sends payload to to over qd's datagram socket. The resulting
// task completes as soon as the frame is handed to the runtime (or
// queued pending ARP resolution) — spec §6 pushto() never blocks on
// delivery, only on local resource exhaustion.
func (e *Engine) PushTo(qd queue.QD, to nettypes.Endpoint, payload []byte) (scheduler.Handle, error) {
	st, err := e.sockets.Get(qd)
	if err != nil {
		return scheduler.Handle{}, err
	}
	if st.kind != kindUDP || st.udpSock == nil {
		return scheduler.Handle{}, ierrors.ErrNotConn
	}
	done := false
	h, err := e.sched.Insert(funcTask{fn: func() scheduler.Status {
		if done {
			return scheduler.Ready(nil)
		}
		ipPayload := e.udpPeer.PushTo(st.udpSock, to, payload)
		e.sendIPv4(ipv4.ProtocolUDP, e.cfg.LocalIP, to.Addr, ipPayload, nil)
		done = true
		return scheduler.Ready(nil)
	}})
	return h, err
}
