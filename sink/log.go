// File: sink/log.go
// License: Apache-2.0

package sink

import (
	"sync/atomic"

	"github.com/momentics/hioload-monrx/api"
	"github.com/sirupsen/logrus"
)

// LogSink logs one line per delivered frame.
type LogSink struct {
	log   logrus.FieldLogger
	level logrus.Level
	count atomic.Uint64
}

// NewLogSink logs at level; debug is the usual choice.
func NewLogSink(log logrus.FieldLogger, level logrus.Level) *LogSink {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LogSink{log: log, level: level}
}

// Deliver implements api.Sink.
func (s *LogSink) Deliver(frame *api.Frame, info *api.TxInfo) {
	s.count.Add(1)
	e := s.log.WithFields(logrus.Fields{
		"ppdu":     frame.PPDUID,
		"len":      frame.Len(),
		"units":    len(frame.Units),
		"preamble": info.Preamble.String(),
		"bw":       info.Bandwidth,
		"mcs":      info.MCS,
		"nss":      info.NSS,
		"rssi":     info.RSSIComb,
		"tsf":      info.TSF,
	})
	switch s.level {
	case logrus.TraceLevel:
		e.Trace("frame delivered")
	case logrus.DebugLevel:
		e.Debug("frame delivered")
	case logrus.WarnLevel:
		e.Warn("frame delivered")
	default:
		e.Info("frame delivered")
	}
}

// Count is the number of frames seen.
func (s *LogSink) Count() uint64 { return s.count.Load() }
