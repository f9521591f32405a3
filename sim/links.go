// File: sim/links.go
// License: Apache-2.0

package sim

import (
	"sync"

	"github.com/momentics/hioload-monrx/api"
)

// LinkPool is the arena of link descriptors. Hardware allocates nodes to
// describe frame units; software resolves and returns them after walking.
type LinkPool struct {
	mu    sync.Mutex
	nodes []api.LinkNode
	inUse []bool
	idle  []api.LinkRef

	returns       uint64
	doubleReturns uint64
}

// NewLinkPool creates n nodes. Ref 0 is reserved as the chain terminator.
func NewLinkPool(n int) *LinkPool {
	l := &LinkPool{
		nodes: make([]api.LinkNode, n+1),
		inUse: make([]bool, n+1),
		idle:  make([]api.LinkRef, 0, n),
	}
	for i := n; i >= 1; i-- {
		l.idle = append(l.idle, api.LinkRef(i))
		l.nodes[i].Entries = make([]api.LinkEntry, 0, api.MaxLinkEntries)
	}
	return l
}

// Alloc takes an idle node on behalf of hardware.
func (l *LinkPool) Alloc() (api.LinkRef, *api.LinkNode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.idle) == 0 {
		return api.NoLink, nil, ErrRingFull
	}
	ref := l.idle[len(l.idle)-1]
	l.idle = l.idle[:len(l.idle)-1]
	l.inUse[ref] = true
	n := &l.nodes[ref]
	n.Entries = n.Entries[:0]
	n.Next = api.NoLink
	return ref, n, nil
}

func (l *LinkPool) valid(ref api.LinkRef) bool {
	return ref != api.NoLink && int(ref) < len(l.nodes)
}

// Resolve implements api.LinkPool.
func (l *LinkPool) Resolve(ref api.LinkRef) (*api.LinkNode, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid(ref) || !l.inUse[ref] {
		return nil, api.Wrap(api.ErrCodeHardwareFrame, api.ErrBadLinkChain).WithContext("ref", ref)
	}
	return &l.nodes[ref], nil
}

// Return implements api.LinkPool.
func (l *LinkPool) Return(ref api.LinkRef) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.valid(ref) {
		return api.Wrap(api.ErrCodeHardwareFrame, api.ErrBadLinkChain).WithContext("ref", ref)
	}
	if !l.inUse[ref] {
		l.doubleReturns++
		return api.Wrap(api.ErrCodeInvariant, api.ErrDoubleFree).WithContext("ref", ref)
	}
	l.inUse[ref] = false
	l.idle = append(l.idle, ref)
	l.returns++
	return nil
}

// Idle is the number of nodes available to hardware.
func (l *LinkPool) Idle() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.idle)
}

// Returns counts successful returns and rejected double returns.
func (l *LinkPool) Returns() (ok, doubles uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.returns, l.doubleReturns
}

var _ api.LinkPool = (*LinkPool)(nil)
