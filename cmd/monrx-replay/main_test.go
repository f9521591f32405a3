package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/momentics/hioload-monrx/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monrx.yaml")
	require.NoError(t, os.WriteFile(path, []byte("radios:\n  count: 2\npipeline:\n  quota: 8\n"), 0o600))

	o := replayOptions{configPath: path, radios: 3, metricsListen: "127.0.0.1:0"}
	cfg, err := o.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Radios.Count)
	assert.Equal(t, 8, cfg.Pipeline.Quota)
	assert.Equal(t, "127.0.0.1:0", cfg.Metrics.Listen)

	o = replayOptions{radios: 100}
	_, err = o.loadConfig()
	assert.Error(t, err)
}

func TestReplayWritesCapture(t *testing.T) {
	log.SetOutput(io.Discard)
	out := filepath.Join(t.TempDir(), "out.pcap")
	opts = replayOptions{out: out, ppdus: 25, seed: 7}

	cfg := control.DefaultConfig()
	cfg.Radios.Count = 2
	cfg.Pool.DataBuffers = 256
	cfg.Pool.StatusBuffers = 64
	require.NoError(t, run(context.Background(), cfg))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeIEEE80211Radio, r.LinkType())

	n := 0
	for {
		_, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	// Clean traffic: every PPDU carries at least one MPDU.
	assert.GreaterOrEqual(t, n, 50)
}
