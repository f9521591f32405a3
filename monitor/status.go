// File: monitor/status.go
// License: Apache-2.0
//
// Status ring reaper: feeds finished status buffers to the parser.

package monitor

import (
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/tlv"
)

func (r *Radio) reapStatus(b *budget) int {
	if r.skipStatus {
		return 0
	}
	res, err := reap(r.hw.Status, b, r.processStatus)
	if err != nil {
		r.skipStatus = true
		r.ringAccessFailed("status", err)
	}
	r.stats.StatusReaped += uint64(res.consumed)
	return res.consumed
}

// checkStatus takes the buffer behind c once hardware has set its
// completion marker.
func (r *Radio) checkStatus(c api.Cookie) api.Result[*pool.Buffer] {
	buf, err := r.status.Lookup(c)
	if err != nil {
		return api.Failed[*pool.Buffer](err)
	}
	if buf.Owner() == api.OwnerHardware && !tlv.HasCompletionMarker(buf.Data) {
		return api.Pending[*pool.Buffer]()
	}
	if buf, err = r.status.Take(c); err != nil {
		return api.Failed[*pool.Buffer](err)
	}
	return api.Ready(buf)
}

func (r *Radio) processStatus(d api.StatusDesc) Verdict {
	if r.corr.gateStatus() {
		return VerdictStop
	}
	if r.statusCur == nil {
		res := r.checkStatus(d.Cookie)
		switch {
		case res.NotReady:
			r.stats.StatusNotReady++
			r.metrics.Inc(control.EventStatusNotReady)
			return VerdictNotReady
		case res.Err != nil:
			// The slot was consumed all the same; owe hardware a buffer.
			r.stats.StatusInvalid++
			r.status.AddOutstanding(1)
			r.log.WithError(res.Err).WithField("cookie", d.Cookie).Warn("skipping status descriptor")
			r.abandonStream()
			return VerdictAdvance
		}
		r.statusCur, r.statusOff = res.Value, 0
		if r.resync {
			first, ok := tlv.FirstRecord(r.statusCur.Data)
			if !ok {
				// Nothing in this buffer but the tail of a lost record.
				r.finishStatusBuffer()
				return VerdictAdvance
			}
			r.statusOff, r.resync = first, false
		}
	}

	buf := r.statusCur
	payload := tlv.Payload(buf.Data)
	for r.statusOff < len(payload) {
		rest := payload[r.statusOff:]
		if r.parser.AtBoundary() && tlv.IsBufferEnd(rest) {
			break
		}
		if r.corr.gateStatus() {
			return VerdictStop
		}
		res, n, err := r.parser.Feed(rest)
		r.statusOff += n
		if err != nil {
			// The rest of the buffer belongs to the abandoned PPDU.
			r.stats.StatusTruncated++
			r.resync = true
			break
		}
		if res != tlv.ResultDone {
			break
		}
		if info := r.parser.Take(); info != nil {
			r.corr.onStatusDone(info)
		}
	}

	r.finishStatusBuffer()
	return VerdictAdvance
}

func (r *Radio) finishStatusBuffer() {
	tlv.ClearCompletionMarker(r.statusCur.Data)
	if err := r.status.Recycle(r.statusCur); err != nil {
		r.log.WithError(err).Error("recycling status buffer")
	}
	r.statusCur = nil
}

// abandonStream drops parser state that spans a lost status buffer; the
// next buffer cannot continue a record whose middle is gone.
func (r *Radio) abandonStream() {
	if _, active := r.parser.InProgress(); active || !r.parser.AtBoundary() {
		r.stats.StatusTruncated++
	}
	r.parser.Truncate()
	r.resync = true
}
