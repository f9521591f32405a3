// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Fixed-capacity DMA buffer pool with a dense cookie table.
//
// Each table slot is in exactly one owner state. Transitions:
//
//	none      -> in-flight   Acquire (alloc + map)
//	free-list -> in-flight   Acquire
//	in-flight -> hardware    Replenish
//	hardware  -> in-flight   Take
//	in-flight -> free-list   Recycle
//	in-flight -> none        Release (unmap + free)
//
// The pool is not safe for concurrent use; callers serialize access with the
// per-radio pass lock.

package pool

import (
	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// MaxCapacity is the largest table a cookie can index.
const MaxCapacity = 1 << 24

// Config sizes one pool.
type Config struct {
	ID       uint8
	Name     string
	Capacity int
	BufSize  int
}

// Buffer is the software descriptor of one DMA buffer.
type Buffer struct {
	Cookie api.Cookie
	Addr   uint64
	// Data spans the whole buffer; Len is the logical length set from
	// hardware metadata.
	Data []byte
	Len  int

	owner  api.Owner
	mapped bool
}

// Bytes returns the logical contents.
func (b *Buffer) Bytes() []byte { return b.Data[:b.Len] }

// Owner reports who holds the buffer.
func (b *Buffer) Owner() api.Owner { return b.owner }

// Mapped reports whether the buffer is device visible.
func (b *Buffer) Mapped() bool { return b.mapped }

// SetLen clamps n to the buffer capacity.
func (b *Buffer) SetLen(n int) {
	switch {
	case n < 0:
		n = 0
	case n > len(b.Data):
		n = len(b.Data)
	}
	b.Len = n
}

// Pool owns the lifecycle of its buffers.
type Pool struct {
	cfg     Config
	alloc   DMAAllocator
	log     logrus.FieldLogger
	metrics *control.RadioMetrics

	table  []Buffer
	unused []int
	free   *freeList

	owners      [4]int
	outstanding int
	allocFail   uint64
	doubleFree  uint64
	closed      bool
}

// New creates an empty pool; buffers are allocated lazily by Acquire.
func New(cfg Config, alloc DMAAllocator, log logrus.FieldLogger, m *control.RadioMetrics) (*Pool, error) {
	if cfg.Capacity <= 0 || cfg.Capacity > MaxCapacity || cfg.BufSize <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "invalid pool size").
			WithContext("capacity", cfg.Capacity).WithContext("bufSize", cfg.BufSize)
	}
	if alloc == nil {
		alloc = NewHeapAllocator()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.Name == "" {
		cfg.Name = "pool"
	}
	p := &Pool{
		cfg:     cfg,
		alloc:   alloc,
		log:     log.WithField("pool", cfg.Name),
		metrics: m,
		table:   make([]Buffer, cfg.Capacity),
		unused:  make([]int, cfg.Capacity),
		free:    newFreeList(cfg.Capacity),
	}
	for i := range p.unused {
		// Lowest index is popped first.
		p.unused[i] = cfg.Capacity - 1 - i
		p.table[i].Cookie = api.MakeCookie(cfg.ID, i)
	}
	p.owners[api.OwnerNone] = cfg.Capacity
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// BufSize returns the size of every buffer.
func (p *Pool) BufSize() int { return p.cfg.BufSize }

// Cap returns the table capacity.
func (p *Pool) Cap() int { return p.cfg.Capacity }

// Outstanding is the number of hardware slots consumed but not refilled yet.
func (p *Pool) Outstanding() int { return p.outstanding }

// AddOutstanding records hardware slots that must be filled, e.g. at ring init.
func (p *Pool) AddOutstanding(n int) {
	if n > 0 {
		p.outstanding += n
	}
}

func (p *Pool) setOwner(b *Buffer, o api.Owner) {
	p.owners[b.owner]--
	b.owner = o
	p.owners[o]++
}

// Acquire produces up to count in-flight buffers. It fails with
// ErrOutOfMemory only when nothing could be produced; a shortfall returns the
// partial list together with an ErrPartialAlloc indicator.
func (p *Pool) Acquire(count int) ([]*Buffer, error) {
	if p.closed {
		return nil, api.ErrClosed
	}
	if count <= 0 {
		return nil, nil
	}
	out := make([]*Buffer, 0, count)
	var cause error
	for len(out) < count {
		if c, ok := p.free.pop(); ok {
			b := &p.table[c.Index()]
			if b.owner != api.OwnerFreeList {
				p.invariant(api.ErrNotOwned, b, "free list entry not owned by free list")
				continue
			}
			p.setOwner(b, api.OwnerInFlight)
			out = append(out, b)
			continue
		}
		b, err := p.grow()
		if err != nil {
			cause = err
			break
		}
		out = append(out, b)
	}

	if len(out) == count {
		return out, nil
	}
	p.allocFail++
	p.metrics.Inc(control.EventAllocFail)
	sentinel := api.ErrPartialAlloc
	if len(out) == 0 {
		sentinel = api.ErrOutOfMemory
	}
	e := api.Wrap(api.ErrCodeResourceExhausted, sentinel).
		WithContext("pool", p.cfg.Name).
		WithContext("requested", count).
		WithContext("acquired", len(out))
	if cause != nil {
		e.WithContext("cause", cause.Error())
	}
	p.log.WithError(e).Debug("buffer acquisition short")
	return out, e
}

// grow allocates and maps a buffer into an unused table slot.
func (p *Pool) grow() (*Buffer, error) {
	if len(p.unused) == 0 {
		return nil, errors.New("pool table full")
	}
	idx := p.unused[len(p.unused)-1]

	data, err := p.alloc.Alloc(p.cfg.BufSize)
	if err != nil {
		return nil, errors.Wrap(err, "alloc")
	}
	addr, err := p.alloc.Map(data)
	if err != nil {
		_ = p.alloc.Free(data)
		return nil, errors.Wrap(err, "map")
	}

	p.unused = p.unused[:len(p.unused)-1]
	b := &p.table[idx]
	b.Data = data[:p.cfg.BufSize]
	b.Addr = addr
	b.Len = 0
	b.mapped = true
	p.setOwner(b, api.OwnerInFlight)
	p.metrics.Inc(control.EventBuffersAllocated)
	return b, nil
}

// Replenish posts in-flight buffers to ring, clamped to its free slots. The
// surplus goes to the free list. It returns the number posted.
func (p *Pool) Replenish(ring api.RefillRing, bufs []*Buffer) int {
	slots := ring.AvailableFreeSlots()
	n := 0
	for _, b := range bufs {
		if b == nil {
			continue
		}
		if b.owner != api.OwnerInFlight {
			p.invariant(api.ErrNotOwned, b, "replenish of buffer not in flight")
			continue
		}
		if !b.mapped {
			p.invariant(api.ErrUnmapped, b, "refusing to post unmapped buffer")
			continue
		}
		if n >= slots {
			p.toFreeList(b)
			continue
		}
		if err := ring.Post(b.Cookie, b.Addr); err != nil {
			p.log.WithError(err).WithField("cookie", b.Cookie).Debug("refill post rejected")
			p.toFreeList(b)
			continue
		}
		b.Len = 0
		p.setOwner(b, api.OwnerHardware)
		n++
	}
	if n > 0 {
		ring.Commit()
		p.outstanding -= n
		if p.outstanding < 0 {
			p.outstanding = 0
		}
		p.metrics.Add(control.EventReplenished, n)
	}
	return n
}

// Refill acquires as many buffers as hardware is owed and ring can take.
// A shortfall is reported but whatever was acquired is still posted.
func (p *Pool) Refill(ring api.RefillRing) (int, error) {
	want := p.outstanding
	if free := ring.AvailableFreeSlots(); free < want {
		want = free
	}
	if want <= 0 {
		return 0, nil
	}
	bufs, err := p.Acquire(want)
	return p.Replenish(ring, bufs), err
}

// Lookup resolves a cookie without changing ownership.
func (p *Pool) Lookup(c api.Cookie) (*Buffer, error) {
	if c == api.InvalidCookie || c.PoolID() != p.cfg.ID || c.Index() >= len(p.table) {
		return nil, api.Wrap(api.ErrCodeInvariant, api.ErrInvalidCookie).
			WithContext("pool", p.cfg.Name).WithContext("cookie", c.String())
	}
	b := &p.table[c.Index()]
	if b.owner == api.OwnerNone {
		return nil, api.Wrap(api.ErrCodeInvariant, api.ErrInvalidCookie).
			WithContext("pool", p.cfg.Name).WithContext("cookie", c.String())
	}
	return b, nil
}

// Take moves a hardware-owned buffer into flight; the slot it leaves is owed
// a replacement.
func (p *Pool) Take(c api.Cookie) (*Buffer, error) {
	if p.closed {
		return nil, api.ErrClosed
	}
	b, err := p.Lookup(c)
	if err != nil {
		p.metrics.Inc(control.EventInvariant)
		return nil, err
	}
	if b.owner != api.OwnerHardware {
		return nil, p.invariant(api.ErrNotOwned, b, "hardware returned buffer it does not own")
	}
	p.setOwner(b, api.OwnerInFlight)
	p.outstanding++
	return b, nil
}

// Recycle returns an in-flight buffer to the free list. A second call is
// detected and reported as ErrDoubleFree without touching state.
func (p *Pool) Recycle(b *Buffer) error {
	if b == nil {
		return api.Wrap(api.ErrCodeInvariant, api.ErrInvalidCookie)
	}
	switch b.owner {
	case api.OwnerInFlight:
		p.toFreeList(b)
		p.metrics.Inc(control.EventRecycled)
		return nil
	case api.OwnerFreeList, api.OwnerNone:
		return p.doubleFreed(b)
	default:
		return p.invariant(api.ErrNotOwned, b, "recycle of hardware-owned buffer")
	}
}

// Release unmaps and frees an in-flight buffer, returning its slot to the
// table. Releasing twice is detected and reported as ErrDoubleFree.
func (p *Pool) Release(b *Buffer) error {
	if b == nil {
		return api.Wrap(api.ErrCodeInvariant, api.ErrInvalidCookie)
	}
	switch b.owner {
	case api.OwnerInFlight:
		err := p.destroy(b)
		p.metrics.Inc(control.EventReleased)
		return err
	case api.OwnerNone:
		return p.doubleFreed(b)
	default:
		return p.invariant(api.ErrNotOwned, b, "release of buffer not in flight")
	}
}

// Shrink releases up to n buffers sitting on the free list.
func (p *Pool) Shrink(n int) (released int, err error) {
	for released < n {
		c, ok := p.free.pop()
		if !ok {
			break
		}
		b := &p.table[c.Index()]
		p.setOwner(b, api.OwnerInFlight)
		err = multierr.Append(err, p.destroy(b))
		released++
	}
	return released, err
}

func (p *Pool) destroy(b *Buffer) error {
	var err error
	if b.mapped {
		err = multierr.Append(err, errors.Wrapf(p.alloc.Unmap(b.Addr), "unmap %s", b.Cookie))
		b.mapped = false
	}
	err = multierr.Append(err, errors.Wrapf(p.alloc.Free(b.Data), "free %s", b.Cookie))
	b.Data, b.Addr, b.Len = nil, 0, 0
	p.setOwner(b, api.OwnerNone)
	p.unused = append(p.unused, b.Cookie.Index())
	return err
}

func (p *Pool) toFreeList(b *Buffer) {
	b.Len = 0
	p.setOwner(b, api.OwnerFreeList)
	if !p.free.push(b.Cookie) {
		// Cannot happen while the list is sized to the table.
		p.invariant(api.ErrNotOwned, b, "free list overflow")
	}
}

func (p *Pool) doubleFreed(b *Buffer) error {
	p.doubleFree++
	p.metrics.Inc(control.EventDoubleFree)
	p.metrics.Inc(control.EventInvariant)
	err := api.Wrap(api.ErrCodeInvariant, api.ErrDoubleFree).
		WithContext("pool", p.cfg.Name).WithContext("cookie", b.Cookie.String())
	p.log.WithError(err).Error("double free detected")
	return err
}

func (p *Pool) invariant(cause error, b *Buffer, msg string) error {
	p.metrics.Inc(control.EventInvariant)
	err := api.Wrap(api.ErrCodeInvariant, cause).
		WithContext("pool", p.cfg.Name).
		WithContext("cookie", b.Cookie.String()).
		WithContext("owner", b.owner.String())
	p.log.WithError(err).Error(msg)
	return err
}

// Stats exposes the per-owner breakdown.
func (p *Pool) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		Capacity:    p.cfg.Capacity,
		Allocated:   p.cfg.Capacity - p.owners[api.OwnerNone],
		Hardware:    p.owners[api.OwnerHardware],
		FreeList:    p.owners[api.OwnerFreeList],
		InFlight:    p.owners[api.OwnerInFlight],
		Outstanding: p.outstanding,
		AllocFail:   p.allocFail,
		DoubleFree:  p.doubleFree,
	}
}

// Close reclaims every allocated buffer, including those still owned by
// hardware; the rings must already be stopped.
func (p *Pool) Close() error {
	if p.closed {
		return nil
	}
	var err error
	for i := range p.table {
		b := &p.table[i]
		if b.owner == api.OwnerNone {
			continue
		}
		if b.owner != api.OwnerInFlight {
			p.setOwner(b, api.OwnerInFlight)
		}
		err = multierr.Append(err, p.destroy(b))
	}
	for {
		if _, ok := p.free.pop(); !ok {
			break
		}
	}
	p.outstanding = 0
	p.closed = true
	return err
}
