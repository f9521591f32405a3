// Package api
// Author: momentics <momentics@gmail.com>
//
// Reassembled frames and the delivery sink contract.

package api

// Frame is one reassembled MPDU.
//
// Units are views valid only for the duration of Sink.Deliver; sinks that
// retain data must copy it.
type Frame struct {
	PPDUID PPDUID
	Mode   DecapMode
	// Units holds payload units (decap) or whole buffers (raw), in order.
	Units [][]byte
	// HeaderLen is the per-buffer metadata header kept in raw units.
	HeaderLen int
	// FCSLen is the trailer still present at the end of the last raw unit.
	FCSLen int
}

// Len is the total byte count across units.
func (f *Frame) Len() int {
	n := 0
	for _, u := range f.Units {
		n += len(u)
	}
	return n
}

// MPDU returns the 802.11 frame bytes regardless of mode.
func (f *Frame) MPDU() []byte {
	out := make([]byte, 0, f.Len())
	if f.Mode == ModeDecap {
		for _, u := range f.Units {
			out = append(out, u...)
		}
		return out
	}
	for _, u := range f.Units {
		if len(u) > f.HeaderLen {
			out = append(out, u[f.HeaderLen:]...)
		}
	}
	if f.FCSLen > 0 && len(out) >= f.FCSLen {
		out = out[:len(out)-f.FCSLen]
	}
	return out
}

// Sink receives completed frames with a read-only view of their PPDU status.
type Sink interface {
	Deliver(frame *Frame, info *TxInfo)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(frame *Frame, info *TxInfo)

// Deliver implements Sink.
func (f SinkFunc) Deliver(frame *Frame, info *TxInfo) { f(frame, info) }
