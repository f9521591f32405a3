// File: monitor/reassembler.go
// License: Apache-2.0
//
// Turns frame units reaped from the destination ring into frames and keeps
// them until the correlator decides their fate.

package monitor

import (
	"github.com/eapache/queue"
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FrameUnit is the ordered buffer list of one MPDU as linked by hardware.
type FrameUnit struct {
	PPDUID  api.PPDUID
	Bufs    *pool.BufferBatch
	Entries []api.LinkEntry
}

// NewFrameUnit returns an empty unit sized for n buffers.
func NewFrameUnit(n int) *FrameUnit {
	return &FrameUnit{
		Bufs:    pool.NewBufferBatch(n),
		Entries: make([]api.LinkEntry, 0, n),
	}
}

// Append adds one buffer with its link flags.
func (u *FrameUnit) Append(b *pool.Buffer, e api.LinkEntry) {
	u.Bufs.Append(b)
	u.Entries = append(u.Entries, e)
}

// Len is the number of buffers.
func (u *FrameUnit) Len() int { return u.Bufs.Len() }

// Reset empties the unit for reuse.
func (u *FrameUnit) Reset(id api.PPDUID) {
	u.PPDUID = id
	u.Bufs.Reset()
	u.Entries = u.Entries[:0]
}

var errMalformed = errors.New("malformed frame unit")

type pendingFrame struct {
	frame *api.Frame
	bufs  []*pool.Buffer
}

// Reassembler builds frames and owns their buffers until delivery or drop.
type Reassembler struct {
	mode      api.DecapMode
	headerLen int
	fcsLen    int

	data    *pool.Pool
	log     logrus.FieldLogger
	metrics *control.RadioMetrics

	pending   *queue.Queue
	pendingID api.PPDUID

	malformed uint64
}

// NewReassembler recycles consumed buffers into data.
func NewReassembler(t Tunables, data *pool.Pool, log logrus.FieldLogger, m *control.RadioMetrics) *Reassembler {
	return &Reassembler{
		mode:      t.Mode,
		headerLen: t.RxHeaderLen,
		fcsLen:    t.FCSLen,
		data:      data,
		log:       log,
		metrics:   m,
		pending:   queue.New(),
	}
}

// configure picks up new tunables; only called between passes.
func (r *Reassembler) configure(t Tunables) {
	r.mode, r.headerLen, r.fcsLen = t.Mode, t.RxHeaderLen, t.FCSLen
}

// Build turns u into a frame. Decap units are copies, raw units are views
// into the buffers.
func (r *Reassembler) Build(u *FrameUnit) (*api.Frame, error) {
	n := u.Len()
	if n == 0 || n != len(u.Entries) {
		return nil, errors.WithMessage(errMalformed, "empty unit")
	}
	if !u.Entries[0].First {
		return nil, errors.WithMessage(errMalformed, "first flag missing")
	}
	if u.Entries[n-1].Continuation {
		return nil, errors.WithMessage(errMalformed, "unit ends inside a payload")
	}
	f := &api.Frame{
		PPDUID:    u.PPDUID,
		Mode:      r.mode,
		Units:     make([][]byte, 0, n),
		HeaderLen: r.headerLen,
		FCSLen:    r.fcsLen,
	}

	if r.mode == api.ModeRaw {
		for i := 0; i < n; i++ {
			f.Units = append(f.Units, u.Bufs.Get(i).Bytes())
		}
		return f, nil
	}

	var cur []byte
	for i := 0; i < n; i++ {
		data := u.Bufs.Get(i).Bytes()
		if len(data) < r.headerLen {
			return nil, errors.WithMessagef(errMalformed, "buffer %d shorter than its header", i)
		}
		cur = append(cur, data[r.headerLen:]...)
		if !u.Entries[i].Continuation {
			f.Units = append(f.Units, cur)
			cur = nil
		}
	}
	last := len(f.Units) - 1
	if len(f.Units[last]) < r.fcsLen {
		return nil, errors.WithMessage(errMalformed, "payload shorter than fcs")
	}
	f.Units[last] = f.Units[last][:len(f.Units[last])-r.fcsLen]
	return f, nil
}

// Add builds u and queues the frame for correlation. A malformed unit is
// counted and its buffers recycled. The buffers move into the reassembler,
// so u can be reused right away.
func (r *Reassembler) Add(u *FrameUnit) error {
	f, err := r.Build(u)
	if err != nil {
		r.malformed++
		r.metrics.Inc(control.EventFramesDroppedMalformed)
		r.log.WithError(err).WithField("ppdu", u.PPDUID).Debug("dropping frame unit")
		r.recycle(u.Bufs.Slice())
		return err
	}
	if r.pending.Length() == 0 {
		r.pendingID = u.PPDUID
	}
	r.pending.Add(&pendingFrame{frame: f, bufs: append([]*pool.Buffer(nil), u.Bufs.Slice()...)})
	return nil
}

// Pending is the number of frames awaiting correlation.
func (r *Reassembler) Pending() int { return r.pending.Length() }

// PendingID is the PPDU the pending frames belong to.
func (r *Reassembler) PendingID() (api.PPDUID, bool) {
	return r.pendingID, r.pending.Length() > 0
}

// Malformed counts dropped units.
func (r *Reassembler) Malformed() uint64 { return r.malformed }

// Flush delivers every pending frame to sink in order, then recycles the
// buffers. It returns the number delivered.
func (r *Reassembler) Flush(sink api.Sink, info *api.TxInfo) int {
	return r.deliver(r.pending, sink, info)
}

// Drop recycles every pending frame without delivering it.
func (r *Reassembler) Drop() int {
	return r.discard(r.pending)
}

// Detach hands the pending frames over and starts an empty queue.
func (r *Reassembler) Detach() *queue.Queue {
	q := r.pending
	r.pending = queue.New()
	return q
}

func (r *Reassembler) deliver(q *queue.Queue, sink api.Sink, info *api.TxInfo) int {
	n := 0
	for q.Length() > 0 {
		pf := q.Remove().(*pendingFrame)
		sink.Deliver(pf.frame, info)
		r.recycle(pf.bufs)
		n++
	}
	return n
}

func (r *Reassembler) discard(q *queue.Queue) int {
	n := 0
	for q.Length() > 0 {
		pf := q.Remove().(*pendingFrame)
		r.recycle(pf.bufs)
		n++
	}
	return n
}

func (r *Reassembler) recycle(bufs []*pool.Buffer) {
	for _, b := range bufs {
		if err := r.data.Recycle(b); err != nil {
			r.log.WithError(err).Error("recycling frame buffer")
		}
	}
}
