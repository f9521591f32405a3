// Package pool
// Author: momentics <momentics@gmail.com>
//
// DMA buffer pools for the monitor receive pipeline.
// A Pool owns a fixed table of DMA-capable buffers addressed by dense cookies,
// a free descriptor list of mapped buffers awaiting reuse, and the logic that
// posts buffers to hardware refill rings. Allocation goes through a
// DMAAllocator service (heap or mmap backed).
// See bufferpool.go, freelist.go, batch.go and dma*.go for implementation details.
package pool
