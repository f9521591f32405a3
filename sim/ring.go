// Package sim models the hardware side of the monitor receive rings: the
// destination and status descriptor rings, the two refill rings and the
// link descriptor idle pool, plus a traffic generator that fills them.
//
// Every ring is a fixed-capacity arena with a producer and a consumer index,
// built on the same index ring the buffer pool free list uses.
package sim

import (
	"sync"

	"github.com/momentics/hioload-monrx/internal/concurrency"
	"github.com/pkg/errors"
)

// ErrAccessDenied is returned by AccessStart while failures are injected.
var ErrAccessDenied = errors.New("sim: ring access denied")

// ErrRingFull is returned when a producer finds no free slot.
var ErrRingFull = errors.New("sim: ring full")

// Ring is a descriptor ring: the simulated hardware produces, the pipeline
// consumes through the api.DescRing access protocol.
type Ring[D any] struct {
	mu       sync.Mutex
	slots    *concurrency.RingBuffer[D]
	capacity int

	inAccess   bool
	failNext   int
	starts     uint64
	ends       uint64
	violations uint64
}

// NewRing creates a ring holding up to capacity descriptors.
func NewRing[D any](capacity int) *Ring[D] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Ring[D]{
		slots:    concurrency.NewRingBufferAtLeast[D](capacity),
		capacity: capacity,
	}
}

// Produce appends a descriptor on behalf of hardware.
func (r *Ring[D]) Produce(d D) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.slots.Len() >= r.capacity {
		return false
	}
	return r.slots.Enqueue(d)
}

// AccessStart opens a consumer pass.
func (r *Ring[D]) AccessStart() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failNext > 0 {
		r.failNext--
		return ErrAccessDenied
	}
	if r.inAccess {
		r.violations++
	}
	r.inAccess = true
	r.starts++
	return nil
}

// PeekNext returns the oldest unconsumed descriptor.
func (r *Ring[D]) PeekNext() (D, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inAccess {
		r.violations++
	}
	return r.slots.Peek()
}

// Advance consumes the descriptor returned by the last PeekNext.
func (r *Ring[D]) Advance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inAccess {
		r.violations++
	}
	r.slots.Dequeue()
}

// AccessEnd closes the consumer pass.
func (r *Ring[D]) AccessEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.inAccess {
		r.violations++
	}
	r.inAccess = false
	r.ends++
}

// AvailableFreeSlots is the room left for hardware.
func (r *Ring[D]) AvailableFreeSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity - r.slots.Len()
}

// Pending is the number of produced but unconsumed descriptors.
func (r *Ring[D]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.slots.Len()
}

// FailAccess makes the next n AccessStart calls fail.
func (r *Ring[D]) FailAccess(n int) {
	r.mu.Lock()
	r.failNext = n
	r.mu.Unlock()
}

// AccessCounts reports successful starts, ends and protocol violations
// (nested starts, or peek/advance/end outside an access window).
func (r *Ring[D]) AccessCounts() (starts, ends, violations uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.ends, r.violations
}

// InAccess reports whether a consumer pass is open.
func (r *Ring[D]) InAccess() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inAccess
}
