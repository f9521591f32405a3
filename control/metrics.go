// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics for the monitor receive pipeline, exported through a
// prometheus registry. Every radio gets its own labelled set of counters.

package control

import (
	"sync"

	"github.com/momentics/hioload-monrx/api"
	"github.com/prometheus/client_golang/prometheus"
)

// Event names one counted pipeline occurrence.
type Event int

const (
	EventPasses Event = iota
	EventBuffersAllocated
	EventAllocFail
	EventReplenished
	EventRecycled
	EventReleased
	EventDoubleFree
	EventStatusNotReady
	EventPPDUParsed
	EventPPDUTruncated
	EventPPDUSuperseded
	EventDuplicatePPDU
	EventDMAError
	EventFramesDelivered
	EventFramesDroppedStale
	EventFramesDroppedHeld
	EventFramesDroppedMalformed
	EventHoldEntered
	EventRingAccessError
	EventLinkAnomaly
	EventInvariant
	numEvents
)

var eventNames = [numEvents]string{
	EventPasses:                 "passes",
	EventBuffersAllocated:       "buffers_allocated",
	EventAllocFail:              "alloc_fail",
	EventReplenished:            "replenished",
	EventRecycled:               "recycled",
	EventReleased:               "released",
	EventDoubleFree:             "double_free",
	EventStatusNotReady:         "status_not_ready",
	EventPPDUParsed:             "ppdu_parsed",
	EventPPDUTruncated:          "ppdu_truncated",
	EventPPDUSuperseded:         "ppdu_superseded",
	EventDuplicatePPDU:          "ppdu_duplicate",
	EventDMAError:               "dma_error",
	EventFramesDelivered:        "frames_delivered",
	EventFramesDroppedStale:     "frames_dropped_stale",
	EventFramesDroppedHeld:      "frames_dropped_held",
	EventFramesDroppedMalformed: "frames_dropped_malformed",
	EventHoldEntered:            "hold_entered",
	EventRingAccessError:        "ring_access_error",
	EventLinkAnomaly:            "link_anomaly",
	EventInvariant:              "invariant_violation",
}

func (e Event) String() string {
	if e < 0 || e >= numEvents {
		return "unknown"
	}
	return eventNames[e]
}

// Metrics owns the prometheus collectors shared by all radios.
type Metrics struct {
	mu     sync.Mutex
	events *prometheus.CounterVec
	owners *prometheus.GaugeVec
	radios map[string]*RadioMetrics
}

// NewMetrics registers the pipeline collectors on reg. A nil reg creates a
// private registry.
func NewMetrics(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if namespace == "" {
		namespace = "monrx"
	}
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Monitor pipeline events by radio and kind.",
		}, []string{"radio", "event"}),
		owners: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffers",
			Help:      "DMA buffers by pool and current owner.",
		}, []string{"radio", "pool", "owner"}),
		radios: make(map[string]*RadioMetrics),
	}
	for _, c := range []prometheus.Collector{m.events, m.owners} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Radio returns the counter set for one radio, creating it on first use.
func (m *Metrics) Radio(name string) *RadioMetrics {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.radios[name]; ok {
		return r
	}
	r := &RadioMetrics{name: name, parent: m}
	for e := Event(0); e < numEvents; e++ {
		r.counters[e] = m.events.WithLabelValues(name, e.String())
	}
	m.radios[name] = r
	return r
}

// RadioMetrics is nil-safe so components can run without metrics.
type RadioMetrics struct {
	name     string
	parent   *Metrics
	counters [numEvents]prometheus.Counter
}

// Add bumps an event counter by n.
func (r *RadioMetrics) Add(e Event, n int) {
	if r == nil || n <= 0 || e < 0 || e >= numEvents {
		return
	}
	r.counters[e].Add(float64(n))
}

// Inc bumps an event counter by one.
func (r *RadioMetrics) Inc(e Event) { r.Add(e, 1) }

// Counter exposes the underlying collector.
func (r *RadioMetrics) Counter(e Event) prometheus.Counter {
	if r == nil || e < 0 || e >= numEvents {
		return nil
	}
	return r.counters[e]
}

// SetOwners publishes the ownership breakdown of one pool.
func (r *RadioMetrics) SetOwners(pool string, s api.BufferPoolStats) {
	if r == nil {
		return
	}
	g := r.parent.owners
	g.WithLabelValues(r.name, pool, api.OwnerHardware.String()).Set(float64(s.Hardware))
	g.WithLabelValues(r.name, pool, api.OwnerFreeList.String()).Set(float64(s.FreeList))
	g.WithLabelValues(r.name, pool, api.OwnerInFlight.String()).Set(float64(s.InFlight))
}
