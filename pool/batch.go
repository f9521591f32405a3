// File: pool/batch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ordered list of buffers forming one frame unit.
// This implementation is NOT thread-safe and avoids mutex in hot-path.

package pool

import "github.com/momentics/hioload-monrx/api"

var _ api.Batch[*Buffer] = (*BufferBatch)(nil)

// BufferBatch is a minimal zero-alloc batch of buffers.
type BufferBatch struct {
	buffers []*Buffer
}

// NewBufferBatch creates a new batch with given capacity.
func NewBufferBatch(capacity int) *BufferBatch {
	return &BufferBatch{
		buffers: make([]*Buffer, 0, capacity),
	}
}

// Append adds a buffer to the batch.
func (b *BufferBatch) Append(buf *Buffer) {
	b.buffers = append(b.buffers, buf)
}

// Len returns number of items in the batch.
func (b *BufferBatch) Len() int {
	return len(b.buffers)
}

// Get retrieves item at index.
func (b *BufferBatch) Get(idx int) *Buffer {
	return b.buffers[idx]
}

// Slice returns the underlying slice.
func (b *BufferBatch) Slice() []*Buffer {
	return b.buffers
}

// Reset clears the batch retaining underlying buffer.
func (b *BufferBatch) Reset() {
	clear(b.buffers)
	b.buffers = b.buffers[:0]
}
