package sim

import (
	"testing"

	"github.com/momentics/hioload-monrx/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingAccessProtocol(t *testing.T) {
	r := NewRing[int](3)
	assert.Equal(t, 3, r.AvailableFreeSlots())
	for i := 0; i < 3; i++ {
		require.True(t, r.Produce(i))
	}
	assert.False(t, r.Produce(3), "capacity is exact, not rounded up")
	assert.Zero(t, r.AvailableFreeSlots())

	require.NoError(t, r.AccessStart())
	d, ok := r.PeekNext()
	require.True(t, ok)
	assert.Equal(t, 0, d)
	d, _ = r.PeekNext()
	assert.Equal(t, 0, d, "peek does not consume")
	r.Advance()
	r.AccessEnd()

	assert.Equal(t, 2, r.Pending())
	s, e, v := r.AccessCounts()
	assert.EqualValues(t, 1, s)
	assert.EqualValues(t, 1, e)
	assert.Zero(t, v)
}

func TestRingCountsViolations(t *testing.T) {
	r := NewRing[int](2)
	r.Produce(1)
	r.PeekNext()
	r.AccessEnd()
	require.NoError(t, r.AccessStart())
	require.NoError(t, r.AccessStart())
	_, _, v := r.AccessCounts()
	assert.EqualValues(t, 3, v)
}

func TestRingInjectedFailures(t *testing.T) {
	r := NewRing[int](2)
	r.FailAccess(2)
	assert.ErrorIs(t, r.AccessStart(), ErrAccessDenied)
	assert.ErrorIs(t, r.AccessStart(), ErrAccessDenied)
	require.NoError(t, r.AccessStart())
	assert.True(t, r.InAccess())
	r.AccessEnd()
	assert.False(t, r.InAccess())
}

func TestRefillRingCommitPublishes(t *testing.T) {
	r := NewRefillRing(2)
	require.NoError(t, r.Post(api.MakeCookie(1, 0), 0x1000))
	assert.Equal(t, 1, r.Staged())
	assert.Zero(t, r.Visible())
	_, ok := r.Consume()
	assert.False(t, ok, "hardware must not see uncommitted entries")

	require.NoError(t, r.Post(api.MakeCookie(1, 1), 0x2000))
	assert.ErrorIs(t, r.Post(api.MakeCookie(1, 2), 0x3000), ErrRingFull)
	r.Commit()
	assert.Equal(t, 2, r.Visible())
	assert.EqualValues(t, 1, r.Commits())

	s, ok := r.Consume()
	require.True(t, ok)
	assert.Equal(t, Slot{Cookie: api.MakeCookie(1, 0), Addr: 0x1000}, s)
	assert.Equal(t, 1, r.AvailableFreeSlots())

	err := r.Post(api.MakeCookie(1, 3), 0)
	assert.ErrorIs(t, err, api.ErrUnmapped)
	assert.Equal(t, 2, r.Capacity())
}

func TestLinkPool(t *testing.T) {
	l := NewLinkPool(2)
	assert.Equal(t, 2, l.Idle())

	ref, node, err := l.Alloc()
	require.NoError(t, err)
	assert.NotEqual(t, api.NoLink, ref)
	node.Entries = append(node.Entries, api.LinkEntry{Cookie: 5})

	got, err := l.Resolve(ref)
	require.NoError(t, err)
	assert.Same(t, node, got)

	_, _, err = l.Alloc()
	require.NoError(t, err)
	_, _, err = l.Alloc()
	assert.ErrorIs(t, err, ErrRingFull)

	require.NoError(t, l.Return(ref))
	err = l.Return(ref)
	assert.ErrorIs(t, err, api.ErrDoubleFree)
	_, err = l.Resolve(ref)
	assert.ErrorIs(t, err, api.ErrBadLinkChain)
	assert.ErrorIs(t, l.Return(api.NoLink), api.ErrBadLinkChain)
	assert.ErrorIs(t, l.Return(99), api.ErrBadLinkChain)

	ok, doubles := l.Returns()
	assert.EqualValues(t, 1, ok)
	assert.EqualValues(t, 1, doubles)
	assert.Equal(t, 1, l.Idle())
}
