package monitor

import (
	"bytes"
	"testing"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/fake"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/sim"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

type rigConfig struct {
	tun       Tunables
	sim       sim.Config
	dataCap   int
	dataBuf   int
	statusCap int
	statusBuf int
}

type rigOption func(*rigConfig)

func withTunables(fn func(*Tunables)) rigOption {
	return func(c *rigConfig) { fn(&c.tun) }
}

type rig struct {
	t       *testing.T
	hw      *sim.Hardware
	alloc   *fake.FailingAllocator
	data    *pool.Pool
	status  *pool.Pool
	sink    *fake.RecordingSink
	metrics *control.RadioMetrics
	hook    *test.Hook
	radio   *Radio
}

func newRig(t *testing.T, opts ...rigOption) *rig {
	t.Helper()
	cfg := rigConfig{
		tun: DefaultTunables(),
		sim: sim.Config{
			DestRing:     64,
			StatusRing:   32,
			DataRefill:   32,
			StatusRefill: 16,
			LinkNodes:    32,
			RxHeaderLen:  16,
		},
		dataCap:   64,
		dataBuf:   256,
		statusCap: 32,
		statusBuf: 128,
	}
	for _, o := range opts {
		o(&cfg)
	}

	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.TraceLevel)
	m, err := control.NewMetrics(prometheus.NewRegistry(), "test")
	require.NoError(t, err)
	rm := m.Radio("r0")

	alloc := fake.NewFailingAllocator(-1)
	data, err := pool.New(pool.Config{ID: 1, Name: "data", Capacity: cfg.dataCap, BufSize: cfg.dataBuf}, alloc, log, rm)
	require.NoError(t, err)
	status, err := pool.New(pool.Config{ID: 2, Name: "status", Capacity: cfg.statusCap, BufSize: cfg.statusBuf}, nil, log, rm)
	require.NoError(t, err)

	hw := sim.NewHardware(cfg.sim, data, status)
	sink := fake.NewRecordingSink()
	radio, err := NewRadio(Config{
		Name: "r0",
		Hardware: Hardware{
			Dest:         hw.Dest,
			Status:       hw.Status,
			DataRefill:   hw.DataRefill,
			StatusRefill: hw.StatusRefill,
			Links:        hw.Links,
		},
		Data:     data,
		Status:   status,
		Sink:     sink,
		Tunables: cfg.tun,
		Log:      log,
		Metrics:  rm,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = radio.Close() })

	return &rig{
		t:       t,
		hw:      hw,
		alloc:   alloc,
		data:    data,
		status:  status,
		sink:    sink,
		metrics: rm,
		hook:    hook,
		radio:   radio,
	}
}

// ppdu builds a VHT PPDU with one single-MSDU MPDU per payload size.
func (r *rig) ppdu(id api.PPDUID, payloads ...int) sim.PPDU {
	r.t.Helper()
	p := sim.PPDU{
		ID:  id,
		TSF: uint64(id) * 1000,
		PHY: sim.PHY{
			Preamble:  api.PreambleVHT,
			Bandwidth: api.BW80,
			GI:        api.GI400,
			MCS:       7,
			NSS:       2,
			RSSI:      -40,
			Chains:    []int8{-41, -43},
			Freq:      5180,
		},
	}
	for i, n := range payloads {
		payload := bytes.Repeat([]byte{byte(id), byte(i)}, n/2+1)[:n]
		m, err := sim.BuildMPDU(uint16(i), payload)
		require.NoError(r.t, err)
		p.MPDUs = append(p.MPDUs, sim.MPDU{MSDUs: [][]byte{m}})
	}
	return p
}

// wantMPDU is what a sink should see for m: every unit joined, FCS removed.
func wantMPDU(m sim.MPDU) []byte {
	var out []byte
	for _, u := range m.MSDUs {
		out = append(out, u...)
	}
	return out[:len(out)-sim.FCSLen]
}

// postStatus places one status buffer image the way hardware does, without
// going through sim.Hardware's splitter.
func (r *rig) postStatus(img []byte) {
	r.t.Helper()
	s, ok := r.hw.StatusRefill.Consume()
	require.True(r.t, ok, "no posted status buffer")
	b, err := r.status.Lookup(s.Cookie)
	require.NoError(r.t, err)
	copy(b.Data, img)
	require.True(r.t, r.hw.Status.Produce(api.StatusDesc{Cookie: s.Cookie}))
}

func (r *rig) counter(e control.Event) float64 {
	return testutil.ToFloat64(r.metrics.Counter(e))
}

// requireNoLeaks checks every data buffer is owned by hardware or the free
// list once nothing is pending.
func (r *rig) requireNoLeaks() {
	r.t.Helper()
	st := r.data.Stats()
	require.Zero(r.t, st.InFlight, "data buffers left in flight")
	require.Equal(r.t, st.Allocated, st.Hardware+st.FreeList)
	require.Zero(r.t, st.DoubleFree)
	ss := r.status.Stats()
	require.Zero(r.t, ss.InFlight, "status buffers left in flight")
}

func (r *rig) requirePairedAccess() {
	r.t.Helper()
	for name, counts := range map[string][3]uint64{
		"dest":   access(r.hw.Dest),
		"status": access(r.hw.Status),
	} {
		require.Equal(r.t, counts[0], counts[1], "%s ring start/end mismatch", name)
		require.Zero(r.t, counts[2], "%s ring protocol violations", name)
	}
	require.False(r.t, r.hw.Dest.InAccess())
	require.False(r.t, r.hw.Status.InAccess())
}

type accessCounter interface {
	AccessCounts() (uint64, uint64, uint64)
}

func access(r accessCounter) [3]uint64 {
	s, e, v := r.AccessCounts()
	return [3]uint64{s, e, v}
}
