package pool

import "sync"

// Pool is a generic wrapper around sync.Pool.
type Pool[T any] struct {
	internal sync.Pool
}

// New creates a new Pool with the given constructor.
func New[T any](newFn func() T) *Pool[T] {
	return &Pool[T]{
		internal: sync.Pool{
			New: func() any {
				return newFn()
			},
		},
	}
}

// Get retrieves an item from the pool.
func (p *Pool[T]) Get() T {
	return p.internal.Get().(T)
}

// Put returns an item to the pool.
func (p *Pool[T]) Put(item T) {
	p.internal.Put(item)
}

// BoundedPool wraps Pool with a hard ceiling on the number of items
// outstanding at once. Unlike sync.Pool (which always produces a new item
// via New when empty), BoundedPool.Get can fail once the ceiling is
// reached — used where an allocator-exhausted error needs to be
// observable rather than silently absorbed by unbounded growth.
type BoundedPool[T any] struct {
	inner     Pool[T]
	sem       chan struct{}
	zero      T
}

// NewBounded creates a BoundedPool that allows at most max items
// outstanding (checked out via Get and not yet returned via Put).
func NewBounded[T any](max int, newFn func() T) *BoundedPool[T] {
	return &BoundedPool[T]{
		inner: Pool[T]{internal: sync.Pool{New: func() any { return newFn() }}},
		sem:   make(chan struct{}, max),
	}
}

// Get retrieves an item, or reports ok=false if the pool is at capacity.
func (p *BoundedPool[T]) Get() (T, bool) {
	select {
	case p.sem <- struct{}{}:
		return p.inner.Get(), true
	default:
		return p.zero, false
	}
}

// Put returns an item and frees a capacity slot.
func (p *BoundedPool[T]) Put(item T) {
	p.inner.Put(item)
	select {
	case <-p.sem:
	default:
	}
}
