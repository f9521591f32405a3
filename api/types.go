// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations: hardware descriptors, link nodes and
// frame units.

package api

// PPDUID identifies one over-the-air transmission. It wraps at 16 bits.
type PPDUID uint16

// LinkRef references a link descriptor in hardware-owned memory.
type LinkRef uint32

// NoLink terminates a link descriptor chain.
const NoLink LinkRef = 0

// MaxLinkEntries is the number of buffer references one link node carries.
const MaxLinkEntries = 6

// DestDesc is the logical view of one destination ring entry.
type DestDesc struct {
	PPDUID PPDUID
	// LinkRef is the first link node of the frame unit; unused on end markers.
	LinkRef   LinkRef
	FragCount int
	// EndOfPPDU marks a payload-less synchronization entry.
	EndOfPPDU bool
	DMAError  bool
}

// StatusDesc is the logical view of one status ring entry.
type StatusDesc struct {
	Cookie Cookie
}

// LinkEntry is one buffer reference inside a link node.
type LinkEntry struct {
	Cookie Cookie
	// MSDULen is the payload length declared by hardware metadata.
	MSDULen      int
	First        bool
	Last         bool
	Continuation bool
}

// LinkNode lists buffer references of one frame unit and chains to the next node.
type LinkNode struct {
	Entries []LinkEntry
	Next    LinkRef
}

// DecapMode selects how buffers are turned into frames.
type DecapMode uint8

const (
	// ModeDecap strips per-buffer metadata headers and concatenates payloads.
	ModeDecap DecapMode = iota
	// ModeRaw keeps every buffer byte-for-byte.
	ModeRaw
)

func (m DecapMode) String() string {
	if m == ModeRaw {
		return "raw"
	}
	return "decap"
}

// ParseDecapMode accepts "decap" and "raw".
func ParseDecapMode(s string) (DecapMode, error) {
	switch s {
	case "", "decap":
		return ModeDecap, nil
	case "raw":
		return ModeRaw, nil
	}
	return ModeDecap, NewError(ErrCodeInvalidArgument, "unknown decap mode").WithContext("mode", s)
}
