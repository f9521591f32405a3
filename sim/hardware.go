// File: sim/hardware.go
// License: Apache-2.0
//
// Hardware model: places status streams and MPDUs into posted buffers and
// publishes the descriptors the monitor pipeline reaps.

package sim

import (
	"encoding/binary"
	"sync"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/tlv"
	"github.com/pkg/errors"
)

// ErrNoBuffers means hardware has no posted buffer to write into; the data
// is dropped on the floor as a real device would.
var ErrNoBuffers = errors.New("sim: no posted buffers")

// BufferResolver gives the model access to the memory behind a posted
// cookie, standing in for the DMA write.
type BufferResolver interface {
	Lookup(api.Cookie) (*pool.Buffer, error)
	BufSize() int
}

// Config sizes the rings.
type Config struct {
	DestRing     int
	StatusRing   int
	DataRefill   int
	StatusRefill int
	LinkNodes    int
	// RxHeaderLen is the per-buffer metadata header hardware writes in
	// front of every payload.
	RxHeaderLen int
}

// DefaultConfig returns ring sizes comfortable for a few hundred PPDUs in
// flight.
func DefaultConfig() Config {
	return Config{
		DestRing:     1024,
		StatusRing:   256,
		DataRefill:   512,
		StatusRefill: 128,
		LinkNodes:    1024,
		RxHeaderLen:  16,
	}
}

// Hardware bundles the rings of one radio.
type Hardware struct {
	cfg Config

	Dest         *Ring[api.DestDesc]
	Status       *Ring[api.StatusDesc]
	DataRefill   *RefillRing
	StatusRefill *RefillRing
	Links        *LinkPool

	mu         sync.Mutex
	data       BufferResolver
	status     BufferResolver
	unfinished []*pool.Buffer
}

// NewHardware builds the ring set over the two buffer pools.
func NewHardware(cfg Config, data, status BufferResolver) *Hardware {
	return &Hardware{
		cfg:          cfg,
		Dest:         NewRing[api.DestDesc](cfg.DestRing),
		Status:       NewRing[api.StatusDesc](cfg.StatusRing),
		DataRefill:   NewRefillRing(cfg.DataRefill),
		StatusRefill: NewRefillRing(cfg.StatusRefill),
		Links:        NewLinkPool(cfg.LinkNodes),
		data:         data,
		status:       status,
	}
}

// Config returns the ring sizes.
func (h *Hardware) Config() Config { return h.cfg }

func (h *Hardware) resolve(r BufferResolver, s Slot) (*pool.Buffer, error) {
	b, err := r.Lookup(s.Cookie)
	if err != nil {
		return nil, err
	}
	if b.Addr != s.Addr {
		return nil, errors.Errorf("sim: %s posted at %#x, pool has %#x", s.Cookie, s.Addr, b.Addr)
	}
	return b, nil
}

// WriteStatus splits stream into status buffers and publishes one status
// descriptor per buffer. With ready false the completion markers are left
// clear until FinishStatus.
func (h *Hardware) WriteStatus(stream []byte, ready bool) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	images := tlv.Split(stream, h.status.BufSize())
	if len(images) > h.StatusRefill.Visible() {
		return 0, ErrNoBuffers
	}
	if len(images) > h.Status.AvailableFreeSlots() {
		return 0, ErrRingFull
	}
	for i, img := range images {
		s, _ := h.StatusRefill.Consume()
		b, err := h.resolve(h.status, s)
		if err != nil {
			return i, err
		}
		copy(b.Data, img)
		if !ready {
			tlv.ClearCompletionMarker(b.Data)
			h.unfinished = append(h.unfinished, b)
		}
		h.Status.Produce(api.StatusDesc{Cookie: s.Cookie})
	}
	return len(images), nil
}

// FinishStatus sets the completion marker of every buffer written not ready.
func (h *Hardware) FinishStatus() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.unfinished)
	for _, b := range h.unfinished {
		tlv.SetCompletionMarker(b.Data)
	}
	h.unfinished = h.unfinished[:0]
	return n
}

// MPDU is one frame unit as hardware receives it.
type MPDU struct {
	// MSDUs are the payload units; the FCS is part of the last one.
	MSDUs [][]byte
	// DMAError flags the descriptor as failed.
	DMAError bool
	// FragSkew is added to the reported fragment count.
	FragSkew int
}

// Buffers returns how many data buffers m occupies.
func (h *Hardware) Buffers(m MPDU) int {
	room := h.data.BufSize() - h.cfg.RxHeaderLen
	n := 0
	for _, msdu := range m.MSDUs {
		n += chunks(len(msdu), room)
	}
	return n
}

func chunks(n, room int) int {
	if n == 0 || room <= 0 {
		return 1
	}
	return (n + room - 1) / room
}

// WriteMPDU spreads m over posted data buffers, links them and publishes one
// destination descriptor. Nothing is consumed when resources are short.
func (h *Hardware) WriteMPDU(id api.PPDUID, m MPDU) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(m.MSDUs) == 0 {
		return api.ErrInvalidArgument
	}
	hdr := h.cfg.RxHeaderLen
	room := h.data.BufSize() - hdr
	if room <= 0 {
		return api.ErrInvalidArgument
	}
	need := h.Buffers(m)
	nodes := (need + api.MaxLinkEntries - 1) / api.MaxLinkEntries
	switch {
	case need > h.DataRefill.Visible():
		return ErrNoBuffers
	case nodes > h.Links.Idle(), h.Dest.AvailableFreeSlots() < 1:
		return ErrRingFull
	}

	entries := make([]api.LinkEntry, 0, need)
	for i, msdu := range m.MSDUs {
		n := chunks(len(msdu), room)
		for j := 0; j < n; j++ {
			s, _ := h.DataRefill.Consume()
			b, err := h.resolve(h.data, s)
			if err != nil {
				return err
			}
			part := msdu[min(j*room, len(msdu)):min((j+1)*room, len(msdu))]
			e := api.LinkEntry{
				Cookie:       s.Cookie,
				MSDULen:      len(msdu),
				First:        i == 0 && j == 0,
				Last:         i == len(m.MSDUs)-1 && j == n-1,
				Continuation: j < n-1,
			}
			writeRxHeader(b.Data[:hdr], id, e)
			copy(b.Data[hdr:], part)
			entries = append(entries, e)
		}
	}

	first := api.NoLink
	var prev *api.LinkNode
	for k := 0; k < len(entries); k += api.MaxLinkEntries {
		ref, node, err := h.Links.Alloc()
		if err != nil {
			return err
		}
		node.Entries = append(node.Entries, entries[k:min(k+api.MaxLinkEntries, len(entries))]...)
		if prev == nil {
			first = ref
		} else {
			prev.Next = ref
		}
		prev = node
	}
	h.Dest.Produce(api.DestDesc{
		PPDUID:    id,
		LinkRef:   first,
		FragCount: len(entries) + m.FragSkew,
		DMAError:  m.DMAError,
	})
	return nil
}

// WriteEnd publishes the end-of-PPDU marker.
func (h *Hardware) WriteEnd(id api.PPDUID) error {
	if !h.Dest.Produce(api.DestDesc{PPDUID: id, EndOfPPDU: true}) {
		return ErrRingFull
	}
	return nil
}

// writeRxHeader fills the opaque per-buffer metadata header:
// ppdu id, msdu length and entry flags, little endian.
func writeRxHeader(dst []byte, id api.PPDUID, e api.LinkEntry) {
	clear(dst)
	var h [5]byte
	binary.LittleEndian.PutUint16(h[0:2], uint16(id))
	binary.LittleEndian.PutUint16(h[2:4], uint16(e.MSDULen))
	if e.First {
		h[4] |= 1
	}
	if e.Last {
		h[4] |= 2
	}
	if e.Continuation {
		h[4] |= 4
	}
	copy(dst, h[:])
}
