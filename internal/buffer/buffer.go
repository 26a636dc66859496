// Package buffer provides the ref-counted, sliceable, zero-copy packet
// buffer used throughout the stack (spec §3, §4.1).
//
// A Buffer is immutable-by-default: adjust_head/adjust_tail never
// reallocate or copy, they only move the logical window over a shared
// backing array. The backing array is released (returned to its pool, if
// it came from one) only when the last reference drops, tracked with an
// atomic refcount exactly like the teacher's generic pool.Pool[T] manages
// reusable objects — here the "object" is the backing array itself.
package buffer

import (
	"sync/atomic"

	"github.com/jroosing/inetstack/internal/pool"
)

// defaultBackingSize is large enough for a full Ethernet frame at the
// default MTU (1500) plus headroom for header prepends during emission.
const defaultBackingSize = 2048

// maxOutstanding bounds how many pooled backing allocations may be
// checked out at once; beyond this, FromSlice reports ErrAllocExhausted
// instead of growing unbounded, so buffer exhaustion is observable the way
// spec §7 requires (callers see it, rather than the allocator silently
// absorbing unbounded growth).
const maxOutstanding = 65536

// backingPool recycles the byte slices backing buffers, reducing GC
// pressure on the receive/transmit hot path the same way the teacher's
// internal/pool.Pool backs UDP receive buffers.
var backingPool = pool.NewBounded(maxOutstanding, func() *[]byte {
	b := make([]byte, defaultBackingSize)
	return &b
})

// shared is the reference-counted backing allocation. Multiple Buffer
// values can point at the same shared region with different windows.
type shared struct {
	data    []byte
	refs    atomic.Int32
	pooled  bool
	release func(*[]byte)
}

// Buffer is a cheap-to-clone, cheap-to-slice view over a shared backing
// allocation. The zero Buffer is an empty, unusable buffer.
type Buffer struct {
	sh     *shared
	off    int
	length int
}

// FromSlice copies b into a newly allocated (or pooled) backing region and
// returns a Buffer owning it. This is the only allocation point; every
// other operation on the returned Buffer is zero-copy.
//
// Returns ErrAllocExhausted if the backing pool cannot produce storage —
// callers should surface this as the scheduler-visible EAGAIN per spec §7,
// not drop it silently, since buffer exhaustion is caller-visible by design.
func FromSlice(b []byte) (Buffer, error) {
	if len(b) == 0 {
		return Buffer{}, nil
	}

	var backing []byte
	pooled := false
	if len(b) <= defaultBackingSize {
		ptr, ok := backingPool.Get()
		if !ok {
			return Buffer{}, ErrAllocExhausted
		}
		backing = (*ptr)[:len(b)]
		pooled = true
		copy(backing, b)
		sh := &shared{data: backing, pooled: pooled, release: func(p *[]byte) { backingPool.Put(p) }}
		sh.refs.Store(1)
		return Buffer{sh: sh, off: 0, length: len(b)}, nil
	}

	backing = make([]byte, len(b))
	copy(backing, b)
	sh := &shared{data: backing}
	sh.refs.Store(1)
	return Buffer{sh: sh, off: 0, length: len(b)}, nil
}

// Len returns the logical length of the buffer's current window — never
// the allocation length (spec §3 invariant).
func (b Buffer) Len() int {
	return b.length
}

// AsSlice returns a read-only view of the buffer's current window. Callers
// must not retain the slice past the Buffer's lifetime or mutate it unless
// they hold the only reference (see Writable).
func (b Buffer) AsSlice() []byte {
	if b.sh == nil {
		return nil
	}
	return b.sh.data[b.off : b.off+b.length]
}

// Writable returns a mutable view of the buffer's window, but only when
// this Buffer is the sole reference to its backing allocation. Copy-on-write
// beyond that point is the caller's responsibility (spec §4.1), mirroring
// how the teacher's pooled receive buffers are only safe to mutate in the
// single goroutine that currently owns them.
func (b Buffer) Writable() ([]byte, bool) {
	if b.sh == nil {
		return nil, false
	}
	if b.sh.refs.Load() != 1 {
		return nil, false
	}
	return b.sh.data[b.off : b.off+b.length], true
}

// AdjustHead peels n bytes off the front of the window without copying.
// Used to strip a parsed header before handing the remainder to the next
// protocol layer (Ethernet -> IPv4 -> UDP/TCP).
func (b Buffer) AdjustHead(n int) Buffer {
	if n < 0 || n > b.length {
		n = b.length
	}
	b.off += n
	b.length -= n
	return b
}

// AdjustTail peels n bytes off the back of the window without copying.
func (b Buffer) AdjustTail(n int) Buffer {
	if n < 0 || n > b.length {
		n = b.length
	}
	b.length -= n
	return b
}

// Clone bumps the shared refcount and returns an independent handle over
// the same window. Exactly one Release must be paired with each Clone (and
// with the original FromSlice).
func (b Buffer) Clone() Buffer {
	if b.sh != nil {
		b.sh.refs.Add(1)
	}
	return b
}

// Release drops this Buffer's reference. When the last reference drops,
// the backing allocation is returned to the pool it came from (or left for
// the garbage collector, if it was oversized and heap-allocated).
func (b Buffer) Release() {
	if b.sh == nil {
		return
	}
	if b.sh.refs.Add(-1) == 0 && b.sh.pooled && b.sh.release != nil {
		full := b.sh.data[:cap(b.sh.data)][:defaultBackingSize]
		b.sh.release(&full)
	}
}
