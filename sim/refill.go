// File: sim/refill.go
// License: Apache-2.0

package sim

import (
	"sync"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/internal/concurrency"
)

// Slot is one refill ring entry: a buffer handed to hardware.
type Slot struct {
	Cookie api.Cookie
	Addr   uint64
}

// RefillRing is the software-producer, hardware-consumer buffer ring.
// Entries posted by software become visible to hardware only on Commit.
type RefillRing struct {
	mu       sync.Mutex
	visible  *concurrency.RingBuffer[Slot]
	staged   []Slot
	capacity int

	commits uint64
	rejects uint64
}

// NewRefillRing creates a ring of the given capacity.
func NewRefillRing(capacity int) *RefillRing {
	if capacity <= 0 {
		capacity = 1
	}
	return &RefillRing{
		visible:  concurrency.NewRingBufferAtLeast[Slot](capacity),
		staged:   make([]Slot, 0, capacity),
		capacity: capacity,
	}
}

// AvailableFreeSlots implements api.RefillRing.
func (r *RefillRing) AvailableFreeSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.free()
}

func (r *RefillRing) free() int {
	return r.capacity - r.visible.Len() - len(r.staged)
}

// Post implements api.RefillRing.
func (r *RefillRing) Post(cookie api.Cookie, addr uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.free() <= 0 {
		r.rejects++
		return ErrRingFull
	}
	if addr == 0 {
		r.rejects++
		return api.Wrap(api.ErrCodeInvariant, api.ErrUnmapped).WithContext("cookie", cookie.String())
	}
	r.staged = append(r.staged, Slot{Cookie: cookie, Addr: addr})
	return nil
}

// Commit implements api.RefillRing.
func (r *RefillRing) Commit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.staged {
		r.visible.Enqueue(s)
	}
	r.staged = r.staged[:0]
	r.commits++
}

// Consume takes the next buffer on behalf of hardware.
func (r *RefillRing) Consume() (Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible.Dequeue()
}

// Visible is the number of committed buffers hardware can still use.
func (r *RefillRing) Visible() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible.Len()
}

// Staged is the number of posted but uncommitted entries.
func (r *RefillRing) Staged() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.staged)
}

// Commits counts head moves.
func (r *RefillRing) Commits() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.commits
}

// Capacity returns the ring size.
func (r *RefillRing) Capacity() int { return r.capacity }

var _ api.RefillRing = (*RefillRing)(nil)
