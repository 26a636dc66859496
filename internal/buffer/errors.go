package buffer

import "errors"

// ErrAllocExhausted is returned by FromSlice when the backing pool has
// reached its outstanding-allocation ceiling (spec §4.1 failure mode).
var ErrAllocExhausted = errors.New("buffer: allocator exhausted")
