// File: monitor/radio.go
// License: Apache-2.0
//
// Per-radio pipeline context and the pass driver.

package monitor

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/tlv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// Hardware is the set of rings one radio consumes and refills.
type Hardware struct {
	Dest         api.DescRing[api.DestDesc]
	Status       api.DescRing[api.StatusDesc]
	DataRefill   api.RefillRing
	StatusRefill api.RefillRing
	Links        api.LinkPool
}

// Tunables are the knobs that may change between passes.
type Tunables struct {
	// Quota is the default descriptor budget of one pass.
	Quota         int
	WrapThreshold uint16
	// MaxHoldPasses bounds how long frames wait for status, and status for
	// frames.
	MaxHoldPasses int
	Mode          api.DecapMode
	RxHeaderLen   int
	FCSLen        int
	// MaxLinkHops guards against cyclic link chains.
	MaxLinkHops int
}

// DefaultTunables matches the simulator's buffer layout.
func DefaultTunables() Tunables {
	return Tunables{
		Quota:         64,
		WrapThreshold: DefaultWrapThreshold,
		MaxHoldPasses: 32,
		Mode:          api.ModeDecap,
		RxHeaderLen:   16,
		FCSLen:        4,
		MaxLinkHops:   16,
	}
}

// Validate rejects unusable tunables.
func (t Tunables) Validate() error {
	switch {
	case t.Quota <= 0:
		return api.NewError(api.ErrCodeInvalidArgument, "quota must be positive").WithContext("quota", t.Quota)
	case t.MaxHoldPasses <= 0:
		return api.NewError(api.ErrCodeInvalidArgument, "max hold passes must be positive")
	case t.RxHeaderLen < 0, t.FCSLen < 0:
		return api.NewError(api.ErrCodeInvalidArgument, "negative header or fcs length")
	case t.MaxLinkHops <= 0:
		return api.NewError(api.ErrCodeInvalidArgument, "max link hops must be positive")
	case t.Mode != api.ModeDecap && t.Mode != api.ModeRaw:
		return api.NewError(api.ErrCodeInvalidArgument, "unknown decap mode")
	}
	return nil
}

// TunablesFromConfig maps the pipeline section of the YAML configuration.
// Zero fields fall back to DefaultTunables.
func TunablesFromConfig(c control.PipelineConfig) (Tunables, error) {
	t := DefaultTunables()
	mode, err := api.ParseDecapMode(strings.ToLower(c.Mode))
	if err != nil {
		return t, err
	}
	t.Mode = mode
	if c.Quota != 0 {
		t.Quota = c.Quota
	}
	if c.WrapThreshold != 0 {
		t.WrapThreshold = c.WrapThreshold
	}
	if c.MaxHoldPasses != 0 {
		t.MaxHoldPasses = c.MaxHoldPasses
	}
	if c.MaxLinkHops != 0 {
		t.MaxLinkHops = c.MaxLinkHops
	}
	t.RxHeaderLen = c.RxHeaderLen
	t.FCSLen = c.FCSLen
	return t, t.Validate()
}

// Config assembles one radio.
type Config struct {
	Name     string
	Hardware Hardware
	// Data backs the destination ring, Status the status ring. The radio
	// owns both from now on and closes them on Close.
	Data     *pool.Pool
	Status   *pool.Pool
	Sink     api.Sink
	Tunables Tunables
	Log      logrus.FieldLogger
	Metrics  *control.RadioMetrics
}

// Stats are cumulative counters of one radio.
type Stats struct {
	Passes uint64
	Work   uint64

	StatusReaped    uint64
	StatusNotReady  uint64
	StatusTruncated uint64
	StatusInvalid   uint64
	PPDUs           uint64
	StatusDiscarded uint64

	DestReaped uint64
	DestEnds   uint64

	FramesDelivered        uint64
	HeldReleased           uint64
	FramesDroppedStale     uint64
	FramesDroppedHeld      uint64
	FramesDroppedDMA       uint64
	FramesDroppedMalformed uint64

	StaleBatches    uint64
	Holds           uint64
	ForcedHoldDrops uint64
	Resyncs         uint64

	DMAErrors        uint64
	LinkAnomalies    uint64
	RingAccessErrors uint64
	AllocShortfalls  uint64
}

// PassResult summarizes one pass.
type PassResult struct {
	// Work is the number of descriptors consumed.
	Work int
	// QuotaLeft is zero when the pass stopped on its budget; more work is
	// likely pending.
	QuotaLeft   int
	Delivered   int
	Replenished int
	State       State
}

// Snapshot is the debug view of a radio.
type Snapshot struct {
	Radio       string
	Stats       Stats
	Correlation Correlation
	Parser      tlv.Stats
	Data        api.BufferPoolStats
	Status      api.BufferPoolStats
	Pending     int
	Closed      bool
}

// Radio is the per-radio context. One mutex covers a whole pass, so
// independent radios run concurrently while each is strictly serial.
type Radio struct {
	mu     sync.Mutex
	name   string
	hw     Hardware
	data   *pool.Pool
	status *pool.Pool
	log    logrus.FieldLogger

	metrics *control.RadioMetrics

	tun        Tunables
	pendingTun atomic.Pointer[Tunables]

	parser *tlv.Parser
	reasm  *Reassembler
	corr   *correlator
	unit   *FrameUnit

	// Status buffer paused mid-way while a completed status awaits its
	// destination side.
	statusCur *pool.Buffer
	statusOff int
	// resync skips status bytes up to the next record start after a lost
	// or truncated buffer.
	resync bool

	// Rings whose access failed are left alone for the rest of the pass.
	skipStatus bool
	skipDest   bool

	stats  Stats
	closed bool
}

// NewRadio wires a radio and primes both refill rings. A short allocation
// while priming is logged and made up on later passes.
func NewRadio(cfg Config) (*Radio, error) {
	hw := cfg.Hardware
	if hw.Dest == nil || hw.Status == nil || hw.DataRefill == nil || hw.StatusRefill == nil || hw.Links == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "incomplete hardware ring set")
	}
	if cfg.Data == nil || cfg.Status == nil || cfg.Sink == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "radio needs data and status pools and a sink")
	}
	if cfg.Tunables == (Tunables{}) {
		cfg.Tunables = DefaultTunables()
	}
	if err := cfg.Tunables.Validate(); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = "radio0"
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("radio", cfg.Name)

	r := &Radio{
		name:    cfg.Name,
		hw:      hw,
		data:    cfg.Data,
		status:  cfg.Status,
		log:     log,
		metrics: cfg.Metrics,
		tun:     cfg.Tunables,
		parser:  tlv.NewParser(nil, log, cfg.Metrics),
		unit:    NewFrameUnit(api.MaxLinkEntries),
	}
	r.reasm = NewReassembler(r.tun, r.data, log, r.metrics)
	r.corr = &correlator{
		reasm:     r.reasm,
		parser:    r.parser,
		sink:      cfg.Sink,
		threshold: r.tun.WrapThreshold,
		maxHold:   r.tun.MaxHoldPasses,
		log:       log,
		metrics:   r.metrics,
		stats:     &r.stats,
	}

	r.data.AddOutstanding(hw.DataRefill.AvailableFreeSlots())
	r.status.AddOutstanding(hw.StatusRefill.AvailableFreeSlots())
	r.replenish()
	r.publishOwners()
	log.WithFields(logrus.Fields{
		"data":   r.data.Stats().Hardware,
		"status": r.status.Stats().Hardware,
		"mode":   r.tun.Mode,
	}).Info("radio started")
	return r, nil
}

// Name returns the radio name.
func (r *Radio) Name() string { return r.name }

// ApplyTunables stages t for the next pass boundary.
func (r *Radio) ApplyTunables(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	r.pendingTun.Store(&t)
	return nil
}

func (r *Radio) configure(t Tunables) {
	r.tun = t
	r.reasm.configure(t)
	r.corr.threshold = t.WrapThreshold
	r.corr.maxHold = t.MaxHoldPasses
	r.log.WithFields(logrus.Fields{"quota": t.Quota, "mode": t.Mode}).Info("tunables applied")
}

// Pass runs one bounded, non-blocking processing pass. A quota of zero or
// less uses the configured default.
func (r *Radio) Pass(quota int) PassResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return PassResult{State: r.corr.State}
	}
	if t := r.pendingTun.Swap(nil); t != nil {
		r.configure(*t)
	}
	if quota <= 0 {
		quota = r.tun.Quota
	}
	delivered := r.stats.FramesDelivered
	b := &budget{left: quota}
	r.skipStatus, r.skipDest = false, false

	r.corr.retryHeld()
	destProgress := false
	for b.left > 0 {
		s := r.reapStatus(b)
		d := r.reapDest(b)
		if d > 0 {
			destProgress = true
		}
		if s == 0 && d == 0 {
			break
		}
	}
	r.corr.endPass(destProgress)
	replenished := r.replenish()

	work := quota - b.left
	r.stats.Passes++
	r.stats.Work += uint64(work)
	r.metrics.Inc(control.EventPasses)
	r.publishOwners()

	res := PassResult{
		Work:        work,
		QuotaLeft:   b.left,
		Delivered:   int(r.stats.FramesDelivered - delivered),
		Replenished: replenished,
		State:       r.corr.State,
	}
	if work > 0 {
		r.log.WithFields(logrus.Fields{
			"work":        res.Work,
			"delivered":   res.Delivered,
			"replenished": res.Replenished,
			"state":       res.State,
		}).Trace("pass")
	}
	return res
}

func (r *Radio) ringAccessFailed(ring string, err error) {
	r.stats.RingAccessErrors++
	r.metrics.Inc(control.EventRingAccessError)
	r.log.WithError(err).WithField("ring", ring).Warn("ring access failed, skipping ring this pass")
}

// replenish tops both refill rings up with whatever the pools can supply.
func (r *Radio) replenish() int {
	n := 0
	for _, side := range []struct {
		p    *pool.Pool
		ring api.RefillRing
	}{
		{r.data, r.hw.DataRefill},
		{r.status, r.hw.StatusRefill},
	} {
		k, err := side.p.Refill(side.ring)
		n += k
		if err != nil {
			r.stats.AllocShortfalls++
			r.log.WithError(err).WithField("pool", side.p.Name()).Debug("refill short")
		}
	}
	return n
}

func (r *Radio) publishOwners() {
	r.metrics.SetOwners(r.data.Name(), r.data.Stats())
	r.metrics.SetOwners(r.status.Name(), r.status.Stats())
}

// Stats returns a copy of the counters.
func (r *Radio) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Correlation returns a copy of the correlation context.
func (r *Radio) Correlation() Correlation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.corr.Correlation
}

// Snapshot collects the debug view under the pass lock.
func (r *Radio) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Snapshot{
		Radio:       r.name,
		Stats:       r.stats,
		Correlation: r.corr.Correlation,
		Parser:      r.parser.Stats(),
		Data:        r.data.Stats(),
		Status:      r.status.Stats(),
		Pending:     r.reasm.Pending(),
		Closed:      r.closed,
	}
}

// RegisterProbes exposes the snapshot through dp.
func (r *Radio) RegisterProbes(dp *control.DebugProbes) {
	dp.RegisterProbe("radio."+r.name, func() any { return r.Snapshot() })
}

// Close stops the radio: pending and held frames are dropped, never partly
// delivered; buffers still linked from the destination ring are taken back;
// both pools are closed. Calling Close again is a no-op.
func (r *Radio) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	dropped := r.reasm.Drop() + r.corr.reset()
	if r.statusCur != nil {
		tlv.ClearCompletionMarker(r.statusCur.Data)
		_ = r.status.Recycle(r.statusCur)
		r.statusCur = nil
	}
	r.parser.Truncate()

	var err error
	drained, derr := r.drainDest()
	if derr != nil {
		err = multierr.Append(err, errors.Wrap(derr, "draining destination ring"))
	}
	err = multierr.Append(err, errors.Wrap(r.data.Close(), "closing data pool"))
	err = multierr.Append(err, errors.Wrap(r.status.Close(), "closing status pool"))

	r.log.WithFields(logrus.Fields{"dropped": dropped, "drained": drained}).Info("radio closed")
	return err
}
