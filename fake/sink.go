// File: fake/sink.go
// Author: momentics <momentics@gmail.com>

package fake

import (
	"sync"

	"github.com/momentics/hioload-monrx/api"
)

// Delivery is one frame captured by RecordingSink, copied out of the
// pipeline's buffers.
type Delivery struct {
	PPDUID api.PPDUID
	MPDU   []byte
	Units  [][]byte
	Info   *api.TxInfo
}

// RecordingSink keeps every delivery in arrival order.
type RecordingSink struct {
	mu         sync.Mutex
	deliveries []Delivery
}

// NewRecordingSink returns an empty sink.
func NewRecordingSink() *RecordingSink { return &RecordingSink{} }

// Deliver implements api.Sink.
func (s *RecordingSink) Deliver(frame *api.Frame, info *api.TxInfo) {
	d := Delivery{
		PPDUID: frame.PPDUID,
		MPDU:   frame.MPDU(),
		Units:  make([][]byte, len(frame.Units)),
	}
	for i, u := range frame.Units {
		d.Units[i] = append([]byte(nil), u...)
	}
	if info != nil {
		d.Info = info.Clone()
	}
	s.mu.Lock()
	s.deliveries = append(s.deliveries, d)
	s.mu.Unlock()
}

// Deliveries returns a snapshot of what was delivered so far.
func (s *RecordingSink) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

// Len is the number of deliveries.
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deliveries)
}

// Reset forgets all deliveries.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	s.deliveries = nil
	s.mu.Unlock()
}

var _ api.Sink = (*RecordingSink)(nil)
