// File: monitor/scheduler.go
// License: Apache-2.0
//
// Drives passes of independent radios. Each radio runs in its own goroutine
// and is serial under its pass lock; radios never share state.

package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/momentics/hioload-monrx/internal/concurrency"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the polling period when hardware raises no interrupt.
const DefaultInterval = time.Millisecond

// maxBackToBack caps consecutive passes taken while quota keeps running out.
const maxBackToBack = 64

// Scheduler polls a fixed set of radios.
type Scheduler struct {
	radios   []*Radio
	interval time.Duration
	log      logrus.FieldLogger

	kicks []chan struct{}
	cpus  []int
}

// NewScheduler polls radios every interval.
func NewScheduler(interval time.Duration, log logrus.FieldLogger, radios ...*Radio) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Scheduler{
		radios:   radios,
		interval: interval,
		log:      log,
		kicks:    make([]chan struct{}, len(radios)),
	}
	for i := range s.kicks {
		s.kicks[i] = make(chan struct{}, 1)
	}
	return s
}

// PinCPUs binds the poll loop of radio i to cpus[i] while Run is active.
// Radios beyond the list, and negative entries, float.
func (s *Scheduler) PinCPUs(cpus ...int) {
	s.cpus = append(s.cpus[:0], cpus...)
}

// Radios returns the scheduled radios.
func (s *Scheduler) Radios() []*Radio { return s.radios }

// Kick asks for an immediate pass of radio i, as an interrupt would.
func (s *Scheduler) Kick(i int) {
	if i < 0 || i >= len(s.kicks) {
		return
	}
	select {
	case s.kicks[i] <- struct{}{}:
	default:
	}
}

// RunOnce runs one pass on every radio concurrently and returns the results
// in radio order.
func (s *Scheduler) RunOnce(ctx context.Context) []PassResult {
	out := make([]PassResult, len(s.radios))
	var wg sync.WaitGroup
	for i, r := range s.radios {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(i int, r *Radio) {
			defer wg.Done()
			out[i] = r.Pass(0)
		}(i, r)
	}
	wg.Wait()
	return out
}

// Drain runs passes until no radio consumes anything, or ctx ends. It
// returns the number of rounds taken.
func (s *Scheduler) Drain(ctx context.Context) int {
	rounds := 0
	for ctx.Err() == nil {
		rounds++
		idle := true
		for _, res := range s.RunOnce(ctx) {
			if res.Work > 0 {
				idle = false
			}
		}
		if idle {
			break
		}
	}
	return rounds
}

// Run polls every radio until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, r := range s.radios {
		wg.Add(1)
		go func(i int, r *Radio) {
			defer wg.Done()
			if i < len(s.cpus) && s.cpus[i] >= 0 {
				if err := concurrency.PinCurrentThread(s.cpus[i]); err != nil {
					s.log.WithError(err).WithField("radio", r.Name()).Warn("poll loop not pinned")
				}
			}
			s.loop(ctx, r, s.kicks[i])
		}(i, r)
	}
	wg.Wait()
	s.log.Debug("scheduler stopped")
	return nil
}

func (s *Scheduler) loop(ctx context.Context, r *Radio, kick <-chan struct{}) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-kick:
		}
		// An exhausted quota means more descriptors are waiting.
		for n := 0; n < maxBackToBack && ctx.Err() == nil; n++ {
			if res := r.Pass(0); res.QuotaLeft > 0 {
				break
			}
		}
	}
}
