package main

import (
	"context"
	"fmt"

	"github.com/momentics/hioload-monrx/api"
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/monitor"
	"github.com/momentics/hioload-monrx/pool"
	"github.com/momentics/hioload-monrx/sim"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const (
	dataPoolID   = 1
	statusPoolID = 2
)

// rig is the set of simulated radios driven by one replay.
type rig struct {
	radios []*monitor.Radio
	hw     []*sim.Hardware
	gens   []*sim.Generator
	sched  *monitor.Scheduler
}

func buildRig(cfg control.Config, out api.Sink, metrics *control.Metrics, probes *control.DebugProbes) (*rig, error) {
	tun, err := monitor.TunablesFromConfig(cfg.Pipeline)
	if err != nil {
		return nil, err
	}
	r := &rig{}
	for i := 0; i < cfg.Radios.Count; i++ {
		name := fmt.Sprintf("radio%d", i)
		radio, hw, err := newRadio(name, cfg.Pool, tun, out, metrics.Radio(name))
		if err != nil {
			return nil, multierr.Append(errors.Wrap(err, name), r.close())
		}
		radio.RegisterProbes(probes)
		gcfg := sim.DefaultGeneratorConfig()
		gcfg.Faults = opts.faults
		r.radios = append(r.radios, radio)
		r.hw = append(r.hw, hw)
		r.gens = append(r.gens, sim.NewGenerator(opts.seed+int64(i), gcfg))
	}
	// Drain drives every pass, so the poll interval is left at its default.
	r.sched = monitor.NewScheduler(0, log, r.radios...)
	return r, nil
}

func newRadio(name string, pc control.PoolConfig, tun monitor.Tunables, out api.Sink, m *control.RadioMetrics) (*monitor.Radio, *sim.Hardware, error) {
	plog := log.WithField("radio", name)
	data, err := newPool(pc.Allocator, pool.Config{
		ID: dataPoolID, Name: "data", Capacity: pc.DataBuffers, BufSize: pc.DataBufferSize,
	}, plog, m)
	if err != nil {
		return nil, nil, err
	}
	status, err := newPool(pc.Allocator, pool.Config{
		ID: statusPoolID, Name: "status", Capacity: pc.StatusBuffers, BufSize: pc.StatusBufferSize,
	}, plog, m)
	if err != nil {
		return nil, nil, multierr.Append(err, data.Close())
	}

	scfg := sim.DefaultConfig()
	scfg.RxHeaderLen = tun.RxHeaderLen
	// Keep half of each pool in software for frames held across passes.
	scfg.DataRefill = max(1, min(scfg.DataRefill, pc.DataBuffers/2))
	scfg.StatusRefill = max(1, min(scfg.StatusRefill, pc.StatusBuffers/2))
	hw := sim.NewHardware(scfg, data, status)

	radio, err := monitor.NewRadio(monitor.Config{
		Name: name,
		Hardware: monitor.Hardware{
			Dest:         hw.Dest,
			Status:       hw.Status,
			DataRefill:   hw.DataRefill,
			StatusRefill: hw.StatusRefill,
			Links:        hw.Links,
		},
		Data:     data,
		Status:   status,
		Sink:     out,
		Tunables: tun,
		Log:      log,
		Metrics:  m,
	})
	if err != nil {
		return nil, nil, multierr.Combine(err, data.Close(), status.Close())
	}
	return radio, hw, nil
}

func newPool(kind string, cfg pool.Config, log logrus.FieldLogger, m *control.RadioMetrics) (*pool.Pool, error) {
	alloc, err := pool.NewAllocator(kind)
	if err != nil {
		return nil, err
	}
	return pool.New(cfg, alloc, log, m)
}

// replay emits n PPDUs on every radio, draining the pipeline after each
// round. It returns the number of PPDUs emitted.
func (r *rig) replay(ctx context.Context, n int) int {
	emitted := 0
	for k := 0; k < n && ctx.Err() == nil; k++ {
		for i, gen := range r.gens {
			p, err := gen.Next()
			if err != nil {
				log.WithError(err).Error("generator failed")
				return emitted
			}
			if err := gen.Drive(r.hw[i], p); err != nil {
				r.warn(i, p.ID, err)
				continue
			}
			emitted++
		}
		r.sched.Drain(ctx)
	}
	for i, gen := range r.gens {
		if err := gen.Flush(r.hw[i]); err != nil {
			r.warn(i, 0, err)
		}
	}
	r.sched.Drain(context.Background())
	return emitted
}

func (r *rig) warn(i int, id api.PPDUID, err error) {
	log.WithFields(logrus.Fields{
		"radio": r.radios[i].Name(),
		"ppdu":  id,
		"code":  api.Classify(err).String(),
	}).WithError(err).Warn("simulated hardware dropped ppdu")
}

func (r *rig) applyTunables(pc control.PipelineConfig) {
	tun, err := monitor.TunablesFromConfig(pc)
	if err != nil {
		log.WithError(err).Warn("ignoring pipeline config")
		return
	}
	for _, radio := range r.radios {
		if err := radio.ApplyTunables(tun); err != nil {
			log.WithError(err).WithField("radio", radio.Name()).Warn("tunables rejected")
		}
	}
}

func (r *rig) close() error {
	var err error
	for _, radio := range r.radios {
		err = multierr.Append(err, radio.Close())
	}
	return err
}
