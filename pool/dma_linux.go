//go:build linux
// +build linux

// File: pool/dma_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux DMA arena: anonymous mmap chunks, locked in memory when permitted,
// carved into fixed-size buffers.

package pool

import (
	"sync"
	"unsafe"

	"github.com/momentics/hioload-monrx/api"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const bufAlign = 64

type mmapAllocator struct {
	mu        sync.Mutex
	chunkSize int
	chunks    [][]byte
	cur       []byte
	recycled  map[int][][]byte
}

// NewMmapAllocator returns an allocator carving buffers out of mmap'd chunks.
func NewMmapAllocator(chunkSize int) DMAAllocator {
	if chunkSize < unix.Getpagesize() {
		chunkSize = unix.Getpagesize()
	}
	return &mmapAllocator{chunkSize: chunkSize, recycled: make(map[int][][]byte)}
}

func (m *mmapAllocator) Alloc(size int) ([]byte, error) {
	if size <= 0 {
		return nil, api.ErrInvalidArgument
	}
	size = (size + bufAlign - 1) &^ (bufAlign - 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if l := m.recycled[size]; len(l) > 0 {
		buf := l[len(l)-1]
		m.recycled[size] = l[:len(l)-1]
		return buf, nil
	}
	if len(m.cur) < size {
		n := m.chunkSize
		if n < size {
			n = (size + unix.Getpagesize() - 1) &^ (unix.Getpagesize() - 1)
		}
		chunk, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
		if err != nil {
			return nil, errors.Wrap(err, "mmap dma chunk")
		}
		// Best effort: unprivileged processes may not be allowed to lock.
		_ = unix.Mlock(chunk)
		m.chunks = append(m.chunks, chunk)
		m.cur = chunk
	}
	buf := m.cur[:size:size]
	m.cur = m.cur[size:]
	return buf, nil
}

func (m *mmapAllocator) Map(buf []byte) (uint64, error) {
	if len(buf) == 0 {
		return 0, api.ErrInvalidArgument
	}
	return uint64(uintptr(unsafe.Pointer(unsafe.SliceData(buf)))), nil
}

func (m *mmapAllocator) Unmap(uint64) error { return nil }

func (m *mmapAllocator) Free(buf []byte) error {
	if cap(buf) == 0 {
		return api.ErrInvalidArgument
	}
	m.mu.Lock()
	m.recycled[cap(buf)] = append(m.recycled[cap(buf)], buf[:cap(buf)])
	m.mu.Unlock()
	return nil
}

// Close unmaps every chunk. Buffers handed out before must not be used.
func (m *mmapAllocator) Close() (err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chunks {
		err = multierr.Append(err, unix.Munmap(c))
	}
	m.chunks, m.cur = nil, nil
	m.recycled = make(map[int][][]byte)
	return err
}
