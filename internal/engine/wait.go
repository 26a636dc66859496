package engine

import (
	"time"

	"github.com/jroosing/inetstack/internal/ierrors"
	"github.com/jroosing/inetstack/internal/scheduler"
)

// Wait drives PollBgWork until qt completes or deadline passes (spec
// §4.10 wait()). A zero deadline means wait forever. On completion Wait
// takes (consumes) qt's result; on timeout qt is left untouched and can be
// waited on again.
func (e *Engine) Wait(qt scheduler.Handle, deadline time.Time) (any, error) {
	for {
		if done, ok := e.sched.Peek(qt); ok && done {
			v, _ := e.sched.Take(qt)
			if err, ok := v.(error); ok {
				return nil, err
			}
			return v, nil
		}
		if !deadline.IsZero() && !e.clk.Now().Before(deadline) {
			return nil, ierrors.ErrTimedOut
		}
		e.PollBgWork()
	}
}

// WaitAny is wait_any() (spec §4.10): blocks until the first of qts
// completes, returning its index and result.
func (e *Engine) WaitAny(qts []scheduler.Handle, deadline time.Time) (int, any, error) {
	for {
		for i, qt := range qts {
			if done, ok := e.sched.Peek(qt); ok && done {
				v, _ := e.sched.Take(qt)
				if err, ok := v.(error); ok {
					return i, nil, err
				}
				return i, v, nil
			}
		}
		if !deadline.IsZero() && !e.clk.Now().Before(deadline) {
			return -1, nil, ierrors.ErrTimedOut
		}
		e.PollBgWork()
	}
}
