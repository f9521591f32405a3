// Package api
// Author: momentics
//
// DMA buffer identity and ownership contracts.
//
// Buffers are fixed-size, DMA-addressable regions. Hardware only ever sees the
// bus address and an opaque cookie; software resolves the cookie back to its
// descriptor through a dense table.

package api

import "fmt"

// Cookie is the hardware-visible handle of a buffer. The upper byte carries
// the pool id, the rest is the table index.
type Cookie uint32

// InvalidCookie never resolves.
const InvalidCookie Cookie = 0xFFFFFFFF

const cookieIndexBits = 24

// MakeCookie packs a pool id and a table index.
func MakeCookie(poolID uint8, index int) Cookie {
	return Cookie(uint32(poolID)<<cookieIndexBits | uint32(index)&(1<<cookieIndexBits-1))
}

// PoolID returns the pool the cookie belongs to.
func (c Cookie) PoolID() uint8 { return uint8(c >> cookieIndexBits) }

// Index returns the table index.
func (c Cookie) Index() int { return int(c & (1<<cookieIndexBits - 1)) }

func (c Cookie) String() string {
	if c == InvalidCookie {
		return "cookie(invalid)"
	}
	return fmt.Sprintf("cookie(%d:%d)", c.PoolID(), c.Index())
}

// Owner tells which side holds a buffer. Exactly one holds at any instant.
type Owner uint8

const (
	OwnerNone Owner = iota
	OwnerHardware
	OwnerFreeList
	OwnerInFlight
)

func (o Owner) String() string {
	switch o {
	case OwnerHardware:
		return "hardware"
	case OwnerFreeList:
		return "free-list"
	case OwnerInFlight:
		return "in-flight"
	default:
		return "none"
	}
}

// BufferPoolStats aggregates buffer allocation/reuse stats.
type BufferPoolStats struct {
	Capacity    int
	Allocated   int
	Hardware    int
	FreeList    int
	InFlight    int
	Outstanding int
	AllocFail   uint64
	DoubleFree  uint64
}
