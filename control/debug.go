// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named debug probes: each radio publishes its snapshot here.

package control

import (
	"sort"
	"sync"

	"github.com/momentics/hioload-monrx/api"
)

var _ api.Debug = (*DebugProbes)(nil)

// DebugProbes holds registered probe functions.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts or replaces a named probe.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// Probe evaluates one probe.
func (dp *DebugProbes) Probe(name string) (any, bool) {
	dp.mu.RLock()
	fn, ok := dp.probes[name]
	dp.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return fn(), true
}

// Names lists registered probes in order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DumpState evaluates every probe. Probes run outside the registry lock
// since they take radio locks of their own.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	fns := make(map[string]func() any, len(dp.probes))
	for k, fn := range dp.probes {
		fns[k] = fn
	}
	dp.mu.RUnlock()
	out := make(map[string]any, len(fns))
	for k, fn := range fns {
		out[k] = fn()
	}
	return out
}
