package engine

import "github.com/jroosing/inetstack/internal/scheduler"

// funcTask adapts a poll closure to scheduler.Task, the shape every async
// operation in this package (accept, connect, push, pop, async_close)
// reduces to: a closure the scheduler calls each time the task is woken,
// until it reports Ready.
type funcTask struct {
	fn func() scheduler.Status
}

func (t funcTask) Poll() scheduler.Status { return t.fn() }

// wakeRef lets a TCB, ARP waiter, or UDP socket created before any of its
// callers' scheduler Handles exist still rouse them once those Handles
// are assigned. One wakeRef is shared per connection/socket across
// however many async ops (accept, connect, pop, ...) are waiting on it at
// once; arm registers a handle to be woken on every Wake, and a handle
// stays armed until its task has completed or its slot was released
// (Wake prunes those, so a wakeRef can safely accumulate handles from
// operations that never actually suspend).
type wakeRef struct {
	sched   *scheduler.Scheduler
	handles []scheduler.Handle
}

func (w *wakeRef) Wake() {
	live := w.handles[:0]
	for _, h := range w.handles {
		if done, ok := w.sched.Peek(h); !ok || done {
			continue
		}
		live = append(live, h)
		w.sched.Wake(h)
	}
	w.handles = live
}

func (w *wakeRef) arm(h scheduler.Handle) {
	w.handles = append(w.handles, h)
}
