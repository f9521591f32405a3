package main

import (
	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/sim"
)

type replayOptions struct {
	configPath    string
	out           string
	ppdus         int
	seed          int64
	radios        int
	metricsListen string
	faults        sim.Faults
}

// loadConfig reads the configuration file, if any, and applies flag overrides.
func (o *replayOptions) loadConfig() (control.Config, error) {
	cfg := control.DefaultConfig()
	if o.configPath != "" {
		var err error
		if cfg, err = control.LoadConfig(o.configPath); err != nil {
			return cfg, err
		}
	}
	if o.radios > 0 {
		cfg.Radios.Count = o.radios
	}
	if o.metricsListen != "" {
		cfg.Metrics.Listen = o.metricsListen
	}
	return cfg, cfg.Validate()
}
