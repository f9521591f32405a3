// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging setup, runtime metrics and debug introspection for
// the monitor receive pipeline.
//
// Provides:
//   - YAML configuration with defaults and validation, held in a
//     ConfigStore that notifies reload listeners
//   - logrus level and formatter setup
//   - prometheus counters per radio and buffer ownership gauges
//   - named debug probes and platform probes
package control
