// control/logger.go
// Author: momentics <momentics@gmail.com>

package control

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ConfigureLogger applies level and formatter from cfg to l.
func ConfigureLogger(l *logrus.Logger, cfg LoggingConfig) error {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return errors.Wrapf(err, "possible levels: %s", logrus.AllLevels)
	}
	l.SetLevel(lvl)

	tsFormat := cfg.TimestampFormat
	full := tsFormat != ""
	if tsFormat == "" {
		tsFormat = time.RFC3339
	}
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		l.Formatter = &logrus.TextFormatter{
			TimestampFormat:  tsFormat,
			FullTimestamp:    full,
			DisableTimestamp: cfg.DisableTimestamp,
		}
	case "json":
		l.Formatter = &logrus.JSONFormatter{
			TimestampFormat:  tsFormat,
			DisableTimestamp: cfg.DisableTimestamp,
		}
	default:
		return errors.Errorf("unknown log format %q, possible formats: text, json", cfg.Format)
	}
	return nil
}
