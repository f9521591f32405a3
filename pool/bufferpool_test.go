package pool_test

import (
	"errors"
	"testing"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/fake"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/sim"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, capacity int, alloc pool.DMAAllocator) *pool.Pool {
	t.Helper()
	log, _ := test.NewNullLogger()
	p, err := pool.New(pool.Config{ID: 7, Name: "t", Capacity: capacity, BufSize: 64}, alloc, log, nil)
	require.NoError(t, err)
	return p
}

func TestNewRejectsBadSizes(t *testing.T) {
	for _, cfg := range []pool.Config{
		{Capacity: 0, BufSize: 64},
		{Capacity: 8, BufSize: 0},
		{Capacity: pool.MaxCapacity + 1, BufSize: 64},
	} {
		_, err := pool.New(cfg, nil, nil, nil)
		require.Error(t, err)
		assert.Equal(t, api.ErrCodeInvalidArgument, api.Classify(err))
	}
}

func TestAcquirePartialWhenMappingRunsOut(t *testing.T) {
	alloc := fake.NewFailingAllocator(60)
	p := newPool(t, 128, alloc)

	bufs, err := p.Acquire(100)
	require.Error(t, err)
	assert.Len(t, bufs, 60)
	assert.True(t, errors.Is(err, api.ErrPartialAlloc))
	assert.Equal(t, api.ErrCodeResourceExhausted, api.Classify(err))

	st := p.Stats()
	assert.Equal(t, 60, st.Allocated)
	assert.Equal(t, 60, st.InFlight)
	assert.EqualValues(t, 1, st.AllocFail)
	assert.Equal(t, 60, alloc.Mapped())
	// The buffer whose mapping failed was freed again.
	assert.Equal(t, alloc.Allocs, alloc.Frees+60)

	for _, b := range bufs {
		assert.True(t, b.Mapped())
		assert.NotZero(t, b.Addr)
		assert.Len(t, b.Data, 64)
	}
}

func TestAcquireNothingIsOutOfMemory(t *testing.T) {
	p := newPool(t, 8, fake.NewFailingAllocator(0))
	bufs, err := p.Acquire(3)
	assert.Empty(t, bufs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrOutOfMemory))
	assert.Equal(t, api.ErrCodeResourceExhausted, api.Classify(err))

	bufs, err = p.Acquire(0)
	assert.NoError(t, err)
	assert.Empty(t, bufs)
}

func TestAcquirePrefersFreeList(t *testing.T) {
	alloc := fake.NewFailingAllocator(-1)
	p := newPool(t, 8, alloc)
	bufs, err := p.Acquire(2)
	require.NoError(t, err)
	first := bufs[0].Cookie
	require.NoError(t, p.Recycle(bufs[0]))

	again, err := p.Acquire(1)
	require.NoError(t, err)
	assert.Equal(t, first, again[0].Cookie)
	assert.Equal(t, 2, alloc.Maps, "free list reuse must not map again")
	assert.EqualValues(t, 7, first.PoolID())
}

func TestDoubleRecycleAndRelease(t *testing.T) {
	alloc := fake.NewFailingAllocator(-1)
	p := newPool(t, 4, alloc)
	bufs, err := p.Acquire(2)
	require.NoError(t, err)

	require.NoError(t, p.Recycle(bufs[0]))
	err = p.Recycle(bufs[0])
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrDoubleFree))
	assert.Equal(t, api.ErrCodeInvariant, api.Classify(err))

	require.NoError(t, p.Release(bufs[1]))
	err = p.Release(bufs[1])
	assert.True(t, errors.Is(err, api.ErrDoubleFree))
	assert.Zero(t, alloc.DoubleUnmaps())

	st := p.Stats()
	assert.EqualValues(t, 2, st.DoubleFree)
	assert.Equal(t, 1, st.FreeList)
	assert.Equal(t, 1, st.Allocated)
}

func TestReplenishClampsToRing(t *testing.T) {
	p := newPool(t, 8, nil)
	ring := sim.NewRefillRing(4)
	p.AddOutstanding(4)

	bufs, err := p.Acquire(6)
	require.NoError(t, err)
	assert.Equal(t, 4, p.Replenish(ring, bufs))
	assert.Equal(t, 4, ring.Visible())
	assert.Zero(t, ring.Staged())
	assert.EqualValues(t, 1, ring.Commits())

	st := p.Stats()
	assert.Equal(t, 4, st.Hardware)
	assert.Equal(t, 2, st.FreeList)
	assert.Zero(t, st.InFlight)
	assert.Zero(t, st.Outstanding)

	// A full ring takes nothing and does not commit.
	assert.Zero(t, p.Replenish(ring, nil))
	assert.EqualValues(t, 1, ring.Commits())
}

func TestTakeAndRefill(t *testing.T) {
	p := newPool(t, 8, nil)
	ring := sim.NewRefillRing(4)
	p.AddOutstanding(4)
	n, err := p.Refill(ring)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	slot, ok := ring.Consume()
	require.True(t, ok)
	b, err := p.Take(slot.Cookie)
	require.NoError(t, err)
	assert.Equal(t, api.OwnerInFlight, b.Owner())
	assert.Equal(t, slot.Addr, b.Addr)
	assert.Equal(t, 1, p.Outstanding())

	_, err = p.Take(slot.Cookie)
	assert.True(t, errors.Is(err, api.ErrNotOwned))
	_, err = p.Take(api.MakeCookie(9, 0))
	assert.True(t, errors.Is(err, api.ErrInvalidCookie))
	_, err = p.Take(api.MakeCookie(7, 6))
	assert.True(t, errors.Is(err, api.ErrInvalidCookie), "slot never allocated")

	require.NoError(t, p.Recycle(b))
	n, err = p.Refill(ring)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Zero(t, p.Outstanding())
	assert.Equal(t, 4, p.Stats().Hardware)
}

func TestRecycleHardwareBufferIsRejected(t *testing.T) {
	p := newPool(t, 2, nil)
	ring := sim.NewRefillRing(2)
	bufs, err := p.Acquire(1)
	require.NoError(t, err)
	require.Equal(t, 1, p.Replenish(ring, bufs))
	err = p.Recycle(bufs[0])
	assert.True(t, errors.Is(err, api.ErrNotOwned))
	assert.Equal(t, api.OwnerHardware, bufs[0].Owner())
}

func TestShrinkAndClose(t *testing.T) {
	alloc := fake.NewFailingAllocator(-1)
	p := newPool(t, 8, alloc)
	ring := sim.NewRefillRing(2)

	bufs, err := p.Acquire(6)
	require.NoError(t, err)
	for _, b := range bufs[:3] {
		require.NoError(t, p.Recycle(b))
	}
	released, err := p.Shrink(2)
	require.NoError(t, err)
	assert.Equal(t, 2, released)
	assert.Equal(t, 2, alloc.Unmaps)

	require.Equal(t, 2, p.Replenish(ring, bufs[3:5]))
	require.NoError(t, p.Close())
	assert.Zero(t, alloc.Mapped())
	assert.Zero(t, alloc.DoubleUnmaps())
	assert.Zero(t, p.Stats().Allocated)

	_, err = p.Acquire(1)
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.NoError(t, p.Close())
}

func TestBufferSetLenClamps(t *testing.T) {
	p := newPool(t, 1, nil)
	bufs, err := p.Acquire(1)
	require.NoError(t, err)
	b := bufs[0]
	b.SetLen(1000)
	assert.Equal(t, 64, b.Len)
	b.SetLen(-3)
	assert.Zero(t, b.Len)
	b.SetLen(10)
	assert.Len(t, b.Bytes(), 10)
}

func TestNewAllocator(t *testing.T) {
	for _, kind := range []string{"", "heap", "mmap"} {
		alloc, err := pool.NewAllocator(kind)
		require.NoError(t, err, kind)
		p := newPool(t, 4, alloc)
		bufs, err := p.Acquire(4)
		require.NoError(t, err, kind)
		bufs[0].Data[63] = 0xff
		require.NoError(t, p.Close(), kind)
	}
	_, err := pool.NewAllocator("hugetlb")
	assert.Equal(t, api.ErrCodeInvalidArgument, api.Classify(err))
}

func TestBufferBatch(t *testing.T) {
	p := newPool(t, 4, nil)
	bufs, err := p.Acquire(3)
	require.NoError(t, err)
	batch := pool.NewBufferBatch(2)
	for _, b := range bufs {
		batch.Append(b)
	}
	assert.Equal(t, 3, batch.Len())
	assert.Same(t, bufs[2], batch.Get(2))
	assert.Equal(t, bufs, batch.Slice())
	batch.Reset()
	assert.Zero(t, batch.Len())
}
