// File: internal/concurrency/ring.go
// Package concurrency implements fixed-capacity index rings.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// RingBuffer is a bounded circular arena with atomic head/tail, padded to
// prevent false sharing. It backs the free descriptor list and the software
// model of hardware descriptor rings. Single producer, single consumer.

package concurrency

import (
	"sync/atomic"

	"github.com/momentics/hioload-monrx/api"
)

// Ensure compile-time interface compliance.
var _ api.Ring[any] = (*RingBuffer[any])(nil)

// RingBuffer is a lock-free ring buffer (single-producer, single-consumer safe).
type RingBuffer[T any] struct {
	data []T
	mask uint64
	head atomic.Uint64
	_    [64]byte // Padding for hot/cold separation
	tail atomic.Uint64
	_    [64]byte // Padding to separate tail from other data
}

// NewRingBuffer allocates a ring buffer of power-of-two size.
func NewRingBuffer[T any](size uint64) *RingBuffer[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("size must be power of two")
	}
	return &RingBuffer[T]{
		data: make([]T, size),
		mask: size - 1,
	}
}

// NewRingBufferAtLeast rounds capacity up to the next power of two.
func NewRingBufferAtLeast[T any](capacity int) *RingBuffer[T] {
	return NewRingBuffer[T](uint64(NextPowerOfTwo(uint32(capacity))))
}

// Enqueue adds item; returns false if full.
func (r *RingBuffer[T]) Enqueue(item T) bool {
	head := r.head.Load()
	tail := r.tail.Load()
	if tail-head >= uint64(len(r.data)) {
		return false
	}
	r.data[tail&r.mask] = item
	r.tail.Store(tail + 1)
	return true
}

// Dequeue removes and returns item; ok false if empty.
func (r *RingBuffer[T]) Dequeue() (T, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	var zero T
	if head >= tail {
		return zero, false
	}
	item := r.data[head&r.mask]
	r.data[head&r.mask] = zero
	r.head.Store(head + 1)
	return item, true
}

// Peek returns the oldest item without consuming it.
func (r *RingBuffer[T]) Peek() (T, bool) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head >= tail {
		var zero T
		return zero, false
	}
	return r.data[head&r.mask], true
}

// Len returns number of items currently in buffer.
func (r *RingBuffer[T]) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	return int(tail - head)
}

// Cap returns fixed buffer capacity.
func (r *RingBuffer[T]) Cap() int {
	return len(r.data)
}

// Free returns the number of slots still writable.
func (r *RingBuffer[T]) Free() int {
	return len(r.data) - r.Len()
}

// Indices exposes the raw head/tail counters.
func (r *RingBuffer[T]) Indices() (head, tail uint64) {
	return r.head.Load(), r.tail.Load()
}

// NextPowerOfTwo rounds v up; zero maps to one.
func NextPowerOfTwo(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
