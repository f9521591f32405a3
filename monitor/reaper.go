// File: monitor/reaper.go
// License: Apache-2.0
//
// Generic consumer loop over a hardware descriptor ring.

package monitor

import "github.com/momentics/hioload-monrx/api"

// Verdict tells the reap loop what to do with the descriptor just processed.
type Verdict uint8

const (
	// VerdictAdvance consumes the descriptor and continues.
	VerdictAdvance Verdict = iota
	// VerdictAdvanceStop consumes the descriptor and ends the loop.
	VerdictAdvanceStop
	// VerdictStop leaves the descriptor in place and ends the loop.
	VerdictStop
	// VerdictNotReady leaves the descriptor for the next pass.
	VerdictNotReady
)

// budget is the per-pass work quota shared by both reapers.
type budget struct {
	left int
}

type reapResult struct {
	consumed int
	notReady bool
	stopped  bool
}

// reap walks ring under one access window. Every consumed descriptor costs
// exactly one unit of b; AccessEnd runs on every path once AccessStart
// succeeded.
func reap[D any](ring api.DescRing[D], b *budget, fn func(D) Verdict) (res reapResult, err error) {
	if b.left <= 0 {
		return res, nil
	}
	if err := ring.AccessStart(); err != nil {
		return res, api.Wrap(api.ErrCodeProtocol, api.ErrRingAccess).WithContext("cause", err.Error())
	}
	defer ring.AccessEnd()

	for b.left > 0 {
		d, ok := ring.PeekNext()
		if !ok {
			return res, nil
		}
		switch fn(d) {
		case VerdictAdvance:
			ring.Advance()
			b.left--
			res.consumed++
		case VerdictAdvanceStop:
			ring.Advance()
			b.left--
			res.consumed++
			res.stopped = true
			return res, nil
		case VerdictStop:
			res.stopped = true
			return res, nil
		case VerdictNotReady:
			res.notReady = true
			return res, nil
		}
	}
	return res, nil
}
