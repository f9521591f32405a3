// Package api
// Author: momentics@gmail.com
//
// Ring contracts: the software FIFO ring and the hardware descriptor ring
// access protocol.

package api

// Ring is a bounded FIFO ring contract used by software-side lists.
type Ring[T any] interface {
	// Enqueue adds an item, returns false if full.
	Enqueue(item T) bool
	// Dequeue removes oldest item, returns false if empty.
	Dequeue() (T, bool)
	// Len returns current number of items.
	Len() int
	// Cap returns buffer capacity.
	Cap() int
}

// DescRing is the consumer side of a hardware descriptor ring.
//
// AccessStart and AccessEnd bracket every reap pass. PeekNext returns the next
// unconsumed descriptor without moving the tail; Advance consumes it.
type DescRing[D any] interface {
	AccessStart() error
	PeekNext() (D, bool)
	Advance()
	AccessEnd()
	// AvailableFreeSlots reports how many entries hardware can still produce.
	AvailableFreeSlots() int
}

// RefillRing is the producer side of a hardware buffer ring: software posts
// mapped buffers for hardware to fill.
type RefillRing interface {
	AvailableFreeSlots() int
	// Post writes one entry; it becomes visible to hardware on Commit.
	Post(cookie Cookie, addr uint64) error
	// Commit publishes posted entries by moving the hardware-visible head.
	Commit()
}

// LinkPool resolves link descriptor references and takes them back once
// software has walked them.
type LinkPool interface {
	Resolve(ref LinkRef) (*LinkNode, error)
	Return(ref LinkRef) error
}
