// Package fake
// Author: momentics <momentics@gmail.com>
//
// Test doubles for the DMA allocation service and the delivery sink.

package fake

import (
	"sync"

	"github.com/momentics/hioload-monrx/pool"
	"github.com/pkg/errors"
)

// ErrMapFailed is returned once the map budget of a FailingAllocator is spent.
var ErrMapFailed = errors.New("fake: dma map failed")

// ErrAllocFailed is returned once the alloc budget is spent.
var ErrAllocFailed = errors.New("fake: dma alloc failed")

// FailingAllocator wraps the heap allocator and starts failing after a
// configured number of successful allocations or mappings. A negative limit
// never fails.
type FailingAllocator struct {
	mu    sync.Mutex
	inner pool.DMAAllocator

	AllocLimit int
	MapLimit   int

	Allocs  int
	Maps    int
	Unmaps  int
	Frees   int
	mapped  map[uint64]bool
	doubles int
}

// NewFailingAllocator returns an allocator that maps at most mapLimit buffers.
func NewFailingAllocator(mapLimit int) *FailingAllocator {
	return &FailingAllocator{
		inner:      pool.NewHeapAllocator(),
		AllocLimit: -1,
		MapLimit:   mapLimit,
		mapped:     make(map[uint64]bool),
	}
}

func (f *FailingAllocator) Alloc(size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AllocLimit >= 0 && f.Allocs >= f.AllocLimit {
		return nil, ErrAllocFailed
	}
	buf, err := f.inner.Alloc(size)
	if err == nil {
		f.Allocs++
	}
	return buf, err
}

func (f *FailingAllocator) Map(buf []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.MapLimit >= 0 && f.Maps >= f.MapLimit {
		return 0, ErrMapFailed
	}
	addr, err := f.inner.Map(buf)
	if err != nil {
		return 0, err
	}
	f.Maps++
	f.mapped[addr] = true
	return addr, nil
}

func (f *FailingAllocator) Unmap(addr uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.mapped[addr] {
		f.doubles++
		return errors.Errorf("fake: unmap of unmapped address %#x", addr)
	}
	delete(f.mapped, addr)
	f.Unmaps++
	return nil
}

func (f *FailingAllocator) Free(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Frees++
	return f.inner.Free(buf)
}

// Mapped is the number of currently mapped buffers.
func (f *FailingAllocator) Mapped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mapped)
}

// DoubleUnmaps counts unmaps of addresses that were not mapped.
func (f *FailingAllocator) DoubleUnmaps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doubles
}

var _ pool.DMAAllocator = (*FailingAllocator)(nil)
