//go:build !linux
// +build !linux

// File: pool/dma_other.go
// Author: momentics <momentics@gmail.com>
//
// Non-Linux platforms have no mmap arena; fall back to the heap allocator.

package pool

// NewMmapAllocator returns the heap allocator on this platform.
func NewMmapAllocator(int) DMAAllocator { return NewHeapAllocator() }
