// File: pool/freelist.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Free descriptor list: cookies of mapped buffers awaiting reuse.

package pool

import (
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/internal/concurrency"
)

// freeList is sized to the pool table so pushes of owned buffers never fail.
type freeList struct {
	ring *concurrency.RingBuffer[api.Cookie]
}

func newFreeList(capacity int) *freeList {
	return &freeList{ring: concurrency.NewRingBufferAtLeast[api.Cookie](capacity)}
}

func (f *freeList) push(c api.Cookie) bool { return f.ring.Enqueue(c) }

func (f *freeList) pop() (api.Cookie, bool) { return f.ring.Dequeue() }

func (f *freeList) len() int { return f.ring.Len() }
