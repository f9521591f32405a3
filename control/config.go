// control/config.go
// Author: momentics <momentics@gmail.com>
//
// YAML configuration of the monitor pipeline and a thread-safe store that
// propagates updates to reload listeners.

package control

import (
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoggingConfig selects level and output format.
type LoggingConfig struct {
	Level            string `yaml:"level"`
	Format           string `yaml:"format"`
	DisableTimestamp bool   `yaml:"disable_timestamp"`
	TimestampFormat  string `yaml:"timestamp_format"`
}

// MetricsConfig controls the prometheus exporter.
type MetricsConfig struct {
	// Listen is the promhttp address; empty disables the exporter.
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// PoolConfig sizes the two buffer pools of every radio.
type PoolConfig struct {
	DataBuffers      int    `yaml:"data_buffers"`
	DataBufferSize   int    `yaml:"data_buffer_size"`
	StatusBuffers    int    `yaml:"status_buffers"`
	StatusBufferSize int    `yaml:"status_buffer_size"`
	Allocator        string `yaml:"allocator"`
}

// PipelineConfig carries the per-pass tunables.
type PipelineConfig struct {
	Quota         int    `yaml:"quota"`
	WrapThreshold uint16 `yaml:"wrap_threshold"`
	MaxHoldPasses int    `yaml:"max_hold_passes"`
	Mode          string `yaml:"mode"`
	RxHeaderLen   int    `yaml:"rx_header_len"`
	FCSLen        int    `yaml:"fcs_len"`
	MaxLinkHops   int    `yaml:"max_link_hops"`
}

// RadiosConfig lists how many independent radios to run.
type RadiosConfig struct {
	Count int `yaml:"count"`
}

// Config is the root of the YAML document.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Pool     PoolConfig     `yaml:"pool"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Radios   RadiosConfig   `yaml:"radios"`
}

// DefaultConfig returns a configuration that runs one radio.
func DefaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Namespace: "monrx"},
		Pool: PoolConfig{
			DataBuffers:      2048,
			DataBufferSize:   2048,
			StatusBuffers:    256,
			StatusBufferSize: 2048,
			Allocator:        "heap",
		},
		Pipeline: PipelineConfig{
			Quota:         64,
			WrapThreshold: 0x8000,
			MaxHoldPasses: 32,
			Mode:          "decap",
			RxHeaderLen:   16,
			FCSLen:        4,
			MaxLinkHops:   16,
		},
		Radios: RadiosConfig{Count: 1},
	}
}

// ParseConfig overlays a YAML document on the defaults.
func ParseConfig(b []byte) (Config, error) {
	c := DefaultConfig()
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// LoadConfig reads and parses the file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}
	c, err := ParseConfig(b)
	return c, errors.WithMessage(err, path)
}

// Marshal renders c as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks ranges; it does not touch the filesystem or network.
func (c Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return errors.Errorf("unknown log format %q, possible formats: text, json", c.Logging.Format)
	}
	switch strings.ToLower(c.Pool.Allocator) {
	case "", "heap", "mmap":
	default:
		return errors.Errorf("unknown allocator %q", c.Pool.Allocator)
	}
	switch strings.ToLower(c.Pipeline.Mode) {
	case "", "decap", "raw":
	default:
		return errors.Errorf("unknown mode %q", c.Pipeline.Mode)
	}
	p := c.Pool
	switch {
	case p.DataBuffers <= 0, p.StatusBuffers <= 0:
		return errors.New("pool buffer counts must be positive")
	case p.DataBufferSize <= c.Pipeline.RxHeaderLen:
		return errors.Errorf("data buffer size %d leaves no room after the %d byte rx header",
			p.DataBufferSize, c.Pipeline.RxHeaderLen)
	case p.StatusBufferSize <= 8:
		return errors.Errorf("status buffer size %d too small", p.StatusBufferSize)
	case c.Pipeline.Quota <= 0:
		return errors.New("pipeline quota must be positive")
	case c.Pipeline.MaxHoldPasses <= 0:
		return errors.New("pipeline max_hold_passes must be positive")
	case c.Radios.Count <= 0 || c.Radios.Count > 64:
		return errors.Errorf("radio count %d out of range 1..64", c.Radios.Count)
	}
	return nil
}

// ConfigStore holds the current configuration and notifies listeners when
// it is replaced.
type ConfigStore struct {
	mu        sync.RWMutex
	config    Config
	listeners []func(Config)
}

// NewConfigStore starts from c.
func NewConfigStore(c Config) *ConfigStore {
	return &ConfigStore{config: c}
}

// Get returns the current configuration.
func (cs *ConfigStore) Get() Config {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.config
}

// Set validates and swaps the configuration, then runs every listener
// synchronously with the new value.
func (cs *ConfigStore) Set(c Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.config = c
	listeners := slices.Clone(cs.listeners)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(c)
	}
	return nil
}

// Reload re-reads path into the store.
func (cs *ConfigStore) Reload(path string) error {
	c, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return cs.Set(c)
}

// OnReload registers fn for every later Set.
func (cs *ConfigStore) OnReload(fn func(Config)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
