package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-monrx/api"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerRunOnceAndDrain(t *testing.T) {
	a, b := newRig(t), newRig(t)
	log, _ := test.NewNullLogger()
	s := NewScheduler(0, log, a.radio, b.radio)
	require.Len(t, s.Radios(), 2)

	require.NoError(t, a.hw.Emit(a.ppdu(1, 100)))
	require.NoError(t, b.hw.Emit(b.ppdu(1, 100, 100)))

	res := s.RunOnce(context.Background())
	require.Len(t, res, 2)
	assert.Equal(t, 1, res[0].Delivered)
	assert.Equal(t, 2, res[1].Delivered)

	for id := 2; id <= 6; id++ {
		require.NoError(t, a.hw.Emit(a.ppdu(api.PPDUID(id), 60)))
	}
	rounds := s.Drain(context.Background())
	assert.GreaterOrEqual(t, rounds, 2)
	assert.Equal(t, 6, a.sink.Len())
	assert.Equal(t, 2, b.sink.Len())
	a.requireNoLeaks()
	b.requireNoLeaks()
}

func TestSchedulerDrainStopsOnCancel(t *testing.T) {
	r := newRig(t)
	s := NewScheduler(0, nil, r.radio)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Zero(t, s.Drain(ctx))
}

func TestSchedulerRunKick(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.hw.Emit(r.ppdu(1, 80, 80)))

	s := NewScheduler(time.Hour, nil, r.radio)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Kick(0)
	s.Kick(5)
	require.Eventually(t, func() bool { return r.sink.Len() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestSchedulerRunPinned(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.hw.Emit(r.ppdu(1, 80)))

	s := NewScheduler(time.Hour, r.radio.log, r.radio)
	// A cpu outside the container's set only logs a warning.
	s.PinCPUs(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.Kick(0)
	require.Eventually(t, func() bool { return r.sink.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
