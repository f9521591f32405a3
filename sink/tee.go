// File: sink/tee.go
// License: Apache-2.0
//
// Fan-out and bounded backlog.

package sink

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-monrx/api"
)

// Tee hands every frame to each of its sinks in order.
type Tee struct {
	sinks []api.Sink
}

// NewTee skips nil sinks.
func NewTee(sinks ...api.Sink) *Tee {
	t := &Tee{}
	for _, s := range sinks {
		t.Add(s)
	}
	return t
}

// Add appends s. Not safe once delivery has started.
func (t *Tee) Add(s api.Sink) {
	if s != nil {
		t.sinks = append(t.sinks, s)
	}
}

// Len is the number of sinks.
func (t *Tee) Len() int { return len(t.sinks) }

// Deliver implements api.Sink.
func (t *Tee) Deliver(frame *api.Frame, info *api.TxInfo) {
	for _, s := range t.sinks {
		s.Deliver(frame, info)
	}
}

type backlogEntry struct {
	frame *api.Frame
	info  *api.TxInfo
}

// Backlog copies delivered frames into a bounded FIFO so a slow consumer can
// drain them outside the pass lock. When full, the oldest frame is dropped.
type Backlog struct {
	mu      sync.Mutex
	q       *queue.Queue
	limit   int
	dropped uint64
}

// NewBacklog keeps at most limit frames; limit <= 0 means unbounded.
func NewBacklog(limit int) *Backlog {
	return &Backlog{q: queue.New(), limit: limit}
}

// Deliver implements api.Sink.
func (b *Backlog) Deliver(frame *api.Frame, info *api.TxInfo) {
	e := backlogEntry{frame: copyFrame(frame)}
	if info != nil {
		e.info = info.Clone()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.limit > 0 && b.q.Length() >= b.limit {
		b.q.Remove()
		b.dropped++
	}
	b.q.Add(e)
}

// Drain forwards every queued frame to dst and returns how many it forwarded.
func (b *Backlog) Drain(dst api.Sink) int {
	b.mu.Lock()
	entries := make([]backlogEntry, 0, b.q.Length())
	for b.q.Length() > 0 {
		entries = append(entries, b.q.Remove().(backlogEntry))
	}
	b.mu.Unlock()
	for _, e := range entries {
		dst.Deliver(e.frame, e.info)
	}
	return len(entries)
}

// Len is the number of queued frames.
func (b *Backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.q.Length()
}

// Dropped counts frames evicted by the limit.
func (b *Backlog) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

func copyFrame(f *api.Frame) *api.Frame {
	c := *f
	c.Units = make([][]byte, len(f.Units))
	for i, u := range f.Units {
		c.Units[i] = append([]byte(nil), u...)
	}
	return &c
}
