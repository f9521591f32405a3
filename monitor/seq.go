// File: monitor/seq.go
// License: Apache-2.0

package monitor

import "github.com/momentics/hioload-monrx/api"

// Order is the relation between two PPDU ids in the wrapping id space.
type Order uint8

const (
	OrderEqual Order = iota
	OrderAhead
	OrderBehind
	// OrderOutOfWindow means the ids are too far apart to tell.
	OrderOutOfWindow
)

func (o Order) String() string {
	switch o {
	case OrderEqual:
		return "equal"
	case OrderAhead:
		return "ahead"
	case OrderBehind:
		return "behind"
	}
	return "out-of-window"
}

// DefaultWrapThreshold is half the 16-bit id space.
const DefaultWrapThreshold = 0x8000

// SeqCompare reports whether a is ahead of, behind or equal to b, treating
// distances below threshold as monotone across the 16-bit wrap. A zero or
// oversized threshold selects DefaultWrapThreshold.
func SeqCompare(a, b api.PPDUID, threshold uint16) Order {
	if a == b {
		return OrderEqual
	}
	if threshold == 0 || threshold > DefaultWrapThreshold {
		threshold = DefaultWrapThreshold
	}
	if uint16(a-b) < threshold {
		return OrderAhead
	}
	if uint16(b-a) < threshold {
		return OrderBehind
	}
	return OrderOutOfWindow
}
