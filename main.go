package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ericogr/serial-env-uploader/pkg/collector"
	"github.com/ericogr/serial-env-uploader/pkg/config"
	"github.com/ericogr/serial-env-uploader/pkg/logging"
	"github.com/ericogr/serial-env-uploader/pkg/metrics"
	"github.com/ericogr/serial-env-uploader/pkg/output"
	"github.com/ericogr/serial-env-uploader/pkg/output/console"
	"github.com/ericogr/serial-env-uploader/pkg/output/mqtt"
	"github.com/ericogr/serial-env-uploader/pkg/sensor"
	"github.com/ericogr/serial-env-uploader/pkg/store"
	"github.com/ericogr/serial-env-uploader/pkg/uploader"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logging.Init(level, strings.EqualFold(cfg.Log.Format, "json"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !collector.IsShutdown(err) {
		logging.Component("main").Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := logging.Component("main")

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	s, err := newSensor(cfg, sensor.WithSkipHook(m.LineSkipped))
	if err != nil {
		return err
	}
	defer s.Close()

	st, err := store.NewJSONStore(cfg.Store.Path, logging.Component("store"))
	if err != nil {
		return err
	}
	log.Info("store ready", "path", st.Path())

	up, err := uploader.New(cfg.SSH, logging.Component("uploader"))
	if err != nil {
		return err
	}

	outs, err := initOutputs(cfg)
	if err != nil {
		return err
	}
	defer func() {
		for _, o := range outs {
			_ = o.Close()
		}
	}()

	opts := []collector.Option{
		collector.WithOutputs(outs...),
		collector.WithMetrics(m),
	}

	if cfg.Store.ArchiveSQLite != "" {
		archive, err := openArchive(ctx, cfg.Store.ArchiveSQLite, st, log)
		if err != nil {
			return err
		}
		defer archive.Close()
		opts = append(opts, collector.WithArchive(archive))
	}

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, logging.Component("metrics")); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	c := collector.New(s, st, up, cfg.Interval(), logging.Component("collector"), opts...)
	return c.Run(ctx)
}

func newSensor(cfg config.Config, serialOpts ...sensor.SerialOption) (sensor.Sensor, error) {
	switch cfg.SensorType {
	case config.SensorSerial:
		return sensor.NewSerialSensor(cfg.Serial, logging.Component("sensor"), serialOpts...), nil
	case config.SensorSHT85:
		return sensor.NewSHT85Sensor(cfg.I2C)
	case config.SensorSimulation:
		return sensor.NewFakeSensor(), nil
	default:
		return nil, fmt.Errorf("unknown sensor type %q", cfg.SensorType)
	}
}

func initOutputs(cfg config.Config) ([]output.Output, error) {
	outs := make([]output.Output, 0, len(cfg.Outputs))
	for _, oc := range cfg.Outputs {
		switch strings.ToLower(oc.Type) {
		case config.OutputConsole:
			outs = append(outs, console.NewConsole())
		case config.OutputMQTT:
			if oc.MQTT == nil {
				return nil, errors.New("mqtt output requires mqtt config")
			}
			m, err := mqtt.NewMQTT(*oc.MQTT, logging.Component("mqtt"))
			if err != nil {
				for _, o := range outs {
					_ = o.Close()
				}
				return nil, err
			}
			outs = append(outs, m)
		default:
			return nil, fmt.Errorf("unknown output type %q", oc.Type)
		}
	}
	return outs, nil
}

// openArchive opens the SQLite mirror and seeds it from the JSON log the first
// time it is used.
func openArchive(ctx context.Context, path string, st *store.JSONStore, log *slog.Logger) (*store.Archive, error) {
	archive, err := store.OpenArchive(path)
	if err != nil {
		return nil, err
	}
	existing, err := st.Load()
	if err != nil {
		log.Warn("archive backfill skipped", "error", err)
		return archive, nil
	}
	n, err := archive.Backfill(ctx, existing)
	if err != nil {
		log.Warn("archive backfill failed", "error", err)
	} else if n > 0 {
		log.Info("archive backfilled", "rows", n)
	}
	return archive, nil
}
