// Package queue implements the QueueTable, the POSIX-flavored descriptor
// table that hands out queue descriptors (QD) for sockets (spec §4.4).
// Allocation follows the same lowest-free-integer convention as a Unix
// file descriptor table, which is what lets a QD round-trip through code
// written against the bare int contract POSIX networking code expects.
package queue

import (
	"container/heap"

	"github.com/jroosing/inetstack/internal/ierrors"
)

// QD is a queue descriptor: an opaque handle identifying one entry in a
// QueueTable, numerically a small non-negative int per spec §4.4.
type QD int

// freeHeap is a min-heap of released descriptor values, so the table
// always reissues the lowest free integer first.
type freeHeap []QD

func (h freeHeap) Len() int            { return len(h) }
func (h freeHeap) Less(i, j int) bool  { return h[i] < h[j] }
func (h freeHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *freeHeap) Push(x interface{}) { *h = append(*h, x.(QD)) }
func (h *freeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	v := old[n-1]
	*h = old[:n-1]
	return v
}

// Table is a QueueTable: a dense array of slots indexed by QD, with
// lowest-free-integer reuse of released descriptors. Not safe for
// concurrent use; only ever touched from the single thread driving
// poll_bg_work (spec §5).
type Table[V any] struct {
	slots []entry[V]
	free  freeHeap
}

type entry[V any] struct {
	value V
	used  bool
}

// NewTable creates an empty QueueTable.
func NewTable[V any]() *Table[V] {
	return &Table[V]{}
}

// Insert allocates the lowest free QD and stores value under it.
func (t *Table[V]) Insert(value V) QD {
	if t.free.Len() > 0 {
		qd := heap.Pop(&t.free).(QD)
		t.slots[qd] = entry[V]{value: value, used: true}
		return qd
	}
	t.slots = append(t.slots, entry[V]{value: value, used: true})
	return QD(len(t.slots) - 1)
}

// Get looks up the value stored under qd. Returns ierrors.ErrBadFD if qd
// was never issued or has since been removed.
func (t *Table[V]) Get(qd QD) (V, error) {
	var zero V
	if qd < 0 || int(qd) >= len(t.slots) || !t.slots[qd].used {
		return zero, ierrors.ErrBadFD
	}
	return t.slots[qd].value, nil
}

// Replace overwrites the value stored under an already-allocated qd,
// without changing its allocation state. Used to update in-place socket
// state (e.g. transitioning a passive-open socket to an established
// connection) without reallocating a descriptor.
func (t *Table[V]) Replace(qd QD, value V) error {
	if qd < 0 || int(qd) >= len(t.slots) || !t.slots[qd].used {
		return ierrors.ErrBadFD
	}
	t.slots[qd].value = value
	return nil
}

// Remove releases qd, making it eligible for reissue by a future Insert.
func (t *Table[V]) Remove(qd QD) error {
	if qd < 0 || int(qd) >= len(t.slots) || !t.slots[qd].used {
		return ierrors.ErrBadFD
	}
	var zero V
	t.slots[qd] = entry[V]{value: zero, used: false}
	heap.Push(&t.free, qd)
	return nil
}

// Len reports the number of currently allocated descriptors.
func (t *Table[V]) Len() int {
	return len(t.slots) - t.free.Len()
}
