// File: monitor/dest.go
// License: Apache-2.0
//
// Destination ring reaper: walks link chains into frame units.

package monitor

import (
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

func (r *Radio) reapDest(b *budget) int {
	if r.skipDest || r.corr.holding() {
		return 0
	}
	res, err := reap(r.hw.Dest, b, r.processDest)
	if err != nil {
		r.skipDest = true
		r.ringAccessFailed("destination", err)
	}
	r.stats.DestReaped += uint64(res.consumed)
	return res.consumed
}

func (r *Radio) processDest(d api.DestDesc) Verdict {
	if r.corr.holding() {
		return VerdictStop
	}
	if d.EndOfPPDU {
		return r.corr.onDestEnd(d.PPDUID)
	}
	r.collect(d)
	return VerdictAdvance
}

// collect takes every buffer of d back from hardware and hands the unit to
// the reassembler, or recycles it when the unit is unusable.
func (r *Radio) collect(d api.DestDesc) {
	u := r.unit
	u.Reset(d.PPDUID)
	err := r.walk(d, u)
	log := r.log.WithFields(logrus.Fields{"ppdu": d.PPDUID, "buffers": u.Len()})

	switch {
	case d.DMAError:
		r.stats.DMAErrors++
		r.stats.FramesDroppedDMA++
		r.metrics.Inc(control.EventDMAError)
		log.Debug("hardware flagged dma error, dropping frame unit")
		r.recycleAll(u.Bufs.Slice())
		return
	case err != nil:
		r.stats.LinkAnomalies++
		r.metrics.Inc(control.EventLinkAnomaly)
		log.WithError(err).Warn("abandoning frame unit")
		r.recycleAll(u.Bufs.Slice())
		return
	}

	if d.FragCount != u.Len() {
		r.stats.LinkAnomalies++
		r.metrics.Inc(control.EventLinkAnomaly)
		log.WithField("declared", d.FragCount).Debug("fragment count mismatch")
	}
	if id, ok := r.reasm.PendingID(); ok && id != d.PPDUID {
		n := r.reasm.Drop()
		r.stats.LinkAnomalies++
		r.stats.FramesDroppedStale += uint64(n)
		r.metrics.Add(control.EventFramesDroppedStale, n)
		log.WithFields(logrus.Fields{"pending": id, "frames": n}).Warn("end of ppdu missing, dropping pending frames")
	}
	if err := r.reasm.Add(u); err != nil {
		r.stats.FramesDroppedMalformed++
	}
}

// walk resolves the link chain of d, taking each buffer from hardware and
// setting its logical length from the declared payload length. Every node is
// returned to the link pool. Buffers taken before an error stay in u.
func (r *Radio) walk(d api.DestDesc, u *FrameUnit) error {
	var err error
	hdr := r.tun.RxHeaderLen
	room := r.data.BufSize() - hdr
	remaining, open := 0, false

	ref := d.LinkRef
	for hops := 0; ref != api.NoLink; hops++ {
		if hops >= r.tun.MaxLinkHops {
			return multierr.Append(err, api.Wrap(api.ErrCodeProtocol, api.ErrBadLinkChain).
				WithContext("hops", hops))
		}
		node, rerr := r.hw.Links.Resolve(ref)
		if rerr != nil {
			return multierr.Append(err, rerr)
		}
		for _, e := range node.Entries {
			b, terr := r.data.Take(e.Cookie)
			if terr != nil {
				r.data.AddOutstanding(1)
				err = multierr.Append(err, terr)
				continue
			}
			if !open {
				remaining, open = e.MSDULen, true
			}
			n := min(max(remaining, 0), room)
			remaining -= n
			b.SetLen(hdr + n)
			if !e.Continuation {
				open = false
			}
			u.Append(b, e)
		}
		next := node.Next
		if rerr := r.hw.Links.Return(ref); rerr != nil {
			err = multierr.Append(err, rerr)
		}
		ref = next
	}
	return err
}

func (r *Radio) recycleAll(bufs []*pool.Buffer) {
	for _, b := range bufs {
		if err := r.data.Recycle(b); err != nil {
			r.log.WithError(err).Error("recycling data buffer")
		}
	}
}

// drainDest consumes everything left on the destination ring at teardown,
// returning link nodes and recycling buffers without delivering.
func (r *Radio) drainDest() (int, error) {
	u := NewFrameUnit(api.MaxLinkEntries)
	res, err := reap(r.hw.Dest, &budget{left: 1 << 30}, func(d api.DestDesc) Verdict {
		if !d.EndOfPPDU {
			u.Reset(d.PPDUID)
			if werr := r.walk(d, u); werr != nil {
				r.log.WithError(werr).Debug("draining broken link chain")
			}
			r.recycleAll(u.Bufs.Slice())
		}
		return VerdictAdvance
	})
	return res.consumed, err
}
