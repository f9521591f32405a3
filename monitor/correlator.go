// File: monitor/correlator.go
// License: Apache-2.0
//
// Matches destination end-of-PPDU markers against completed status records
// and decides whether pending frames are delivered, held or dropped.

package monitor

import (
	"github.com/eapache/queue"
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/tlv"
	"github.com/sirupsen/logrus"
)

// State is the correlation state of one radio.
type State uint8

const (
	// StateSynced: the last destination end matched the status stream.
	StateSynced State = iota
	// StateHold: destination is ahead; its frames wait for status.
	StateHold
	// StateStatusAhead: status passed the destination; its frames were dropped.
	StateStatusAhead
)

func (s State) String() string {
	switch s {
	case StateHold:
		return "hold"
	case StateStatusAhead:
		return "status-ahead"
	}
	return "synced"
}

// Correlation is the per-radio correlation context.
type Correlation struct {
	State State

	StatusID      api.PPDUID
	HaveStatus    bool
	StatusClaimed bool
	// StatusStalls counts passes an unclaimed status saw no destination progress.
	StatusStalls int

	DestID   api.PPDUID
	HaveDest bool

	HeldID api.PPDUID
	Held   int
	// Stalls counts passes spent in StateHold.
	Stalls int
}

type correlator struct {
	Correlation

	info *api.TxInfo
	held *queue.Queue

	reasm  *Reassembler
	parser *tlv.Parser
	sink   api.Sink

	threshold uint16
	maxHold   int

	log     logrus.FieldLogger
	metrics *control.RadioMetrics
	stats   *Stats
}

func (c *correlator) holding() bool { return c.State == StateHold }

// gateStatus is true while a completed status waits for its destination
// end marker; the status reaper pauses so the rings stay in lockstep.
func (c *correlator) gateStatus() bool {
	return c.State != StateHold && c.HaveStatus && !c.StatusClaimed
}

// onStatusDone takes ownership of a completed record.
func (c *correlator) onStatusDone(info *api.TxInfo) {
	c.stats.PPDUs++
	if c.info != nil {
		if !c.StatusClaimed {
			c.discardStatus("superseded by newer status")
		}
		c.parser.Recycle(c.info)
	}
	c.info = info
	c.StatusID = info.PPDUID
	c.HaveStatus = true
	c.StatusClaimed = false
	c.StatusStalls = 0
	c.retryHeld()
}

// onDestEnd correlates the frames collected for id.
func (c *correlator) onDestEnd(id api.PPDUID) Verdict {
	c.DestID, c.HaveDest = id, true
	c.stats.DestEnds++
	if !c.HaveStatus {
		return c.hold(id)
	}
	switch SeqCompare(id, c.StatusID, c.threshold) {
	case OrderEqual:
		n := c.reasm.Flush(c.sink, c.info)
		c.delivered(n)
		c.StatusClaimed = true
		c.State = StateSynced
		return VerdictAdvance
	case OrderAhead:
		return c.hold(id)
	case OrderBehind:
		n := c.reasm.Drop()
		c.State = StateStatusAhead
		c.stats.StaleBatches++
		c.stats.FramesDroppedStale += uint64(n)
		c.metrics.Add(control.EventFramesDroppedStale, n)
		c.log.WithFields(logrus.Fields{"ppdu": id, "status": c.StatusID, "frames": n}).
			Debug("status ahead of destination, dropping stale frames")
		return VerdictAdvance
	default:
		n := c.reasm.Drop()
		c.stats.Resyncs++
		c.stats.FramesDroppedStale += uint64(n)
		c.metrics.Add(control.EventFramesDroppedStale, n)
		c.log.WithFields(logrus.Fields{"ppdu": id, "status": c.StatusID, "frames": n}).
			Warn("ppdu ids out of window, resynchronizing")
		c.forgetStatus()
		c.State = StateSynced
		return VerdictAdvance
	}
}

func (c *correlator) hold(id api.PPDUID) Verdict {
	c.held = c.reasm.Detach()
	c.HeldID = id
	c.Held = c.held.Length()
	c.State = StateHold
	c.Stalls = 0
	c.stats.Holds++
	c.metrics.Inc(control.EventHoldEntered)
	if c.HaveStatus && !c.StatusClaimed {
		// The destination already passed this status; nothing can claim it.
		c.discardStatus("destination passed status")
	}
	c.log.WithFields(logrus.Fields{"ppdu": id, "frames": c.Held}).Debug("destination ahead, holding frames")
	return VerdictAdvanceStop
}

// retryHeld re-evaluates held frames against the latest status.
func (c *correlator) retryHeld() {
	if c.State != StateHold || !c.HaveStatus || c.StatusClaimed {
		return
	}
	switch SeqCompare(c.StatusID, c.HeldID, c.threshold) {
	case OrderEqual:
		n := c.reasm.deliver(c.held, c.sink, c.info)
		c.delivered(n)
		c.stats.HeldReleased += uint64(n)
		c.StatusClaimed = true
		c.State = StateSynced
		c.Held = 0
	case OrderBehind:
		// Status has not caught up yet.
	default:
		n := c.dropHeld()
		c.State = StateStatusAhead
		c.log.WithFields(logrus.Fields{"ppdu": c.HeldID, "status": c.StatusID, "frames": n}).
			Debug("status skipped held ppdu, dropping held frames")
	}
}

// endPass runs the stall escapes once per pass.
func (c *correlator) endPass(destProgress bool) {
	if c.State == StateHold {
		c.Stalls++
		if c.Stalls > c.maxHold {
			n := c.dropHeld()
			c.State = StateSynced
			c.stats.ForcedHoldDrops++
			c.log.WithFields(logrus.Fields{"ppdu": c.HeldID, "passes": c.Stalls, "frames": n}).
				Warn("status never arrived, dropping held frames")
		}
		return
	}
	if c.HaveStatus && !c.StatusClaimed && !destProgress {
		c.StatusStalls++
		if c.StatusStalls > c.maxHold {
			c.discardStatus("destination never reported ppdu")
		}
		return
	}
	c.StatusStalls = 0
}

func (c *correlator) dropHeld() int {
	n := 0
	if c.held != nil {
		n = c.reasm.discard(c.held)
	}
	c.Held = 0
	c.stats.FramesDroppedHeld += uint64(n)
	c.metrics.Add(control.EventFramesDroppedHeld, n)
	return n
}

func (c *correlator) delivered(n int) {
	c.stats.FramesDelivered += uint64(n)
	c.metrics.Add(control.EventFramesDelivered, n)
}

func (c *correlator) discardStatus(reason string) {
	c.StatusClaimed = true
	c.StatusStalls = 0
	c.stats.StatusDiscarded++
	c.metrics.Inc(control.EventPPDUSuperseded)
	c.log.WithField("ppdu", c.StatusID).Debug("status discarded: " + reason)
}

func (c *correlator) forgetStatus() {
	if c.info != nil {
		c.parser.Recycle(c.info)
		c.info = nil
	}
	c.HaveStatus = false
	c.StatusClaimed = false
	c.StatusStalls = 0
}

// reset drops everything for teardown.
func (c *correlator) reset() int {
	n := 0
	if c.State == StateHold {
		n = c.dropHeld()
	}
	c.forgetStatus()
	c.State = StateSynced
	return n
}
