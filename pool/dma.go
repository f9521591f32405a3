// File: pool/dma.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// DMA allocation service contract and the portable heap-backed implementation.

package pool

import (
	"unsafe"

	"github.com/momentics/hioload-monrx/api"
)

// DMAAllocator is the opaque allocate/map/unmap service of the platform.
type DMAAllocator interface {
	Alloc(size int) ([]byte, error)
	// Map makes buf visible to the device and returns its bus address.
	Map(buf []byte) (uint64, error)
	Unmap(addr uint64) error
	Free(buf []byte) error
}

// heapAllocator hands out Go heap memory; the bus address is the virtual one.
type heapAllocator struct{}

// NewHeapAllocator returns an allocator backed by the Go heap.
func NewHeapAllocator() DMAAllocator { return heapAllocator{} }

func (heapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, api.ErrInvalidArgument
	}
	return make([]byte, size), nil
}

func (heapAllocator) Map(buf []byte) (uint64, error) {
	if len(buf) == 0 {
		return 0, api.ErrInvalidArgument
	}
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf)))), nil
}

func (heapAllocator) Unmap(uint64) error { return nil }
func (heapAllocator) Free([]byte) error  { return nil }

// NewAllocator picks a backend by name: "heap" or "mmap".
func NewAllocator(kind string) (DMAAllocator, error) {
	switch kind {
	case "", "heap":
		return NewHeapAllocator(), nil
	case "mmap":
		return NewMmapAllocator(defaultChunkSize), nil
	}
	return nil, api.NewError(api.ErrCodeInvalidArgument, "unknown dma allocator").WithContext("kind", kind)
}

const defaultChunkSize = 2 << 20
