// Command monrx-replay pushes synthetic monitor-mode traffic through one or
// more simulated radios and writes what the pipeline delivers to a radiotap
// pcap file.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/momentics/hioload-monrx/control"
	"github.com/momentics/hioload-monrx/sink"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
)

var log = logrus.New()

var opts replayOptions

var app = &cli.App{
	Name:  "monrx-replay",
	Usage: "Replay synthetic PPDUs through the monitor receive pipeline.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML configuration `file`",
			Destination: &opts.configPath,
		},
		&cli.StringFlag{
			Name:        "out",
			Aliases:     []string{"o"},
			Usage:       "pcap output `file`, empty disables capture",
			Value:       "monrx.pcap",
			Destination: &opts.out,
		},
		&cli.IntFlag{
			Name:        "ppdus",
			Usage:       "PPDUs to generate per radio",
			Value:       1000,
			Destination: &opts.ppdus,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "generator seed; radio i uses seed+i",
			Value:       1,
			Destination: &opts.seed,
		},
		&cli.IntFlag{
			Name:        "radios",
			Usage:       "number of radios, overrides the configuration",
			Destination: &opts.radios,
		},
		&cli.StringFlag{
			Name:        "metrics-listen",
			Usage:       "prometheus `address`, overrides the configuration",
			Destination: &opts.metricsListen,
		},
		&cli.Float64Flag{
			Name:        "dma-error",
			Usage:       "probability of a DMA error per PPDU",
			Destination: &opts.faults.DMAError,
		},
		&cli.Float64Flag{
			Name:        "status-lag",
			Usage:       "probability that status trails its data",
			Destination: &opts.faults.StatusLag,
		},
		&cli.Float64Flag{
			Name:        "dest-loss",
			Usage:       "probability that the data side of a PPDU is lost",
			Destination: &opts.faults.DestLoss,
		},
		&cli.Float64Flag{
			Name:        "not-ready",
			Usage:       "probability that status buffers are published unfinished",
			Destination: &opts.faults.NotReady,
		},
	},
	Action: func(c *cli.Context) error {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		if err := control.ConfigureLogger(log, cfg.Logging); err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func main() {
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("monrx-replay failed")
	}
}

func run(ctx context.Context, cfg control.Config) (err error) {
	reg := prometheus.NewRegistry()
	metrics, err := control.NewMetrics(reg, cfg.Metrics.Namespace)
	if err != nil {
		return errors.Wrap(err, "register metrics")
	}
	if cfg.Metrics.Listen != "" {
		srv := serveMetrics(cfg.Metrics.Listen, reg)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err = multierr.Append(err, srv.Shutdown(sctx))
		}()
	}

	sinks := sink.NewTee(sink.NewLogSink(log, logrus.TraceLevel))
	var capture *sink.PcapSink
	if opts.out != "" {
		f, ferr := os.Create(opts.out)
		if ferr != nil {
			return errors.Wrap(ferr, "create pcap")
		}
		defer func() { err = multierr.Append(err, f.Close()) }()
		if capture, err = sink.NewPcapSink(f, sink.PcapOptions{Log: log}); err != nil {
			return err
		}
		sinks.Add(capture)
	}

	probes := control.NewDebugProbes()
	control.RegisterPlatformProbes(probes)

	fleet, err := buildRig(cfg, sinks, metrics, probes)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, fleet.close()) }()

	store := control.NewConfigStore(cfg)
	store.OnReload(func(c control.Config) {
		if err := control.ConfigureLogger(log, c.Logging); err != nil {
			log.WithError(err).Warn("keeping previous logging setup")
		}
		fleet.applyTunables(c.Pipeline)
	})
	if opts.configPath != "" {
		go reloadOnHangup(ctx, store, opts.configPath)
	}

	start := time.Now()
	emitted := fleet.replay(ctx, opts.ppdus)

	for _, r := range fleet.radios {
		s := r.Snapshot()
		log.WithFields(logrus.Fields{
			"radio":     s.Radio,
			"ppdus":     s.Stats.PPDUs,
			"delivered": s.Stats.FramesDelivered,
			"held":      s.Stats.HeldReleased,
			"stale":     s.Stats.FramesDroppedStale,
			"dma":       s.Stats.FramesDroppedDMA,
			"holdDrops": s.Stats.FramesDroppedHeld,
			"resyncs":   s.Stats.Resyncs,
			"passes":    s.Stats.Passes,
			"state":     s.Correlation.State.String(),
			"dataInUse": s.Data.InFlight,
			"dataHW":    s.Data.Hardware,
			"statusHW":  s.Status.Hardware,
		}).Info("radio done")
	}
	fields := logrus.Fields{"emitted": emitted, "elapsed": time.Since(start)}
	if capture != nil {
		written, failed := capture.Counts()
		fields["written"], fields["failed"], fields["out"] = written, failed, opts.out
	}
	log.WithFields(fields).Info("replay finished")
	log.WithField("probes", probes.DumpState()).Debug("final state")
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics listener stopped")
		}
	}()
	log.WithField("addr", addr).Info("serving metrics")
	return srv
}

func reloadOnHangup(ctx context.Context, store *control.ConfigStore, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := store.Reload(path); err != nil {
				log.WithError(err).Warn("config reload failed")
				continue
			}
			control.TriggerHotReloadSync()
			log.WithField("path", path).Info("config reloaded")
		}
	}
}
