// Package collector drives the read, store, upload, sleep cycle.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ericogr/serial-env-uploader/pkg/metrics"
	"github.com/ericogr/serial-env-uploader/pkg/output"
	"github.com/ericogr/serial-env-uploader/pkg/sensor"
)

type State string

const (
	StateReading   State = "reading"
	StateStoring   State = "storing"
	StateUploading State = "uploading"
	StateSleeping  State = "sleeping"
)

type Reader interface {
	Read(ctx context.Context) (sensor.Reading, error)
}

type Store interface {
	Append(sensor.Reading) (string, error)
}

type Uploader interface {
	Upload(ctx context.Context, localPath string) error
}

type Archiver interface {
	Insert(ctx context.Context, r sensor.Reading) error
}

// Result summarises one cycle. Zero values mean the stage was not reached or
// failed.
type Result struct {
	Reading  *sensor.Reading
	Path     string
	Uploaded bool
}

type Collector struct {
	reader   Reader
	store    Store
	uploader Uploader
	outputs  []output.Output
	archive  Archiver
	metrics  *metrics.Metrics
	interval time.Duration
	log      *slog.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

type Option func(*Collector)

func WithOutputs(outs ...output.Output) Option {
	return func(c *Collector) { c.outputs = append(c.outputs, outs...) }
}

func WithArchive(a Archiver) Option {
	return func(c *Collector) { c.archive = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Collector) { c.metrics = m }
}

func New(r Reader, s Store, u Uploader, interval time.Duration, log *slog.Logger, opts ...Option) *Collector {
	c := &Collector{
		reader:   r,
		store:    s,
		uploader: u,
		interval: interval,
		log:      log,
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Run executes cycles back to back with a fixed pause between them until ctx
// is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	c.log.Info("collector started", "interval", c.interval)
	for {
		c.RunCycle(ctx)

		c.setState(StateSleeping)
		if err := c.sleep(ctx, c.interval); err != nil {
			c.log.Info("collector stopped", "reason", err)
			return err
		}
	}
}

// RunCycle reads one value, stores it and uploads the store file. A failing
// stage ends the cycle; nothing is retried until the next one.
func (c *Collector) RunCycle(ctx context.Context) Result {
	var res Result
	start := c.now()
	defer func() {
		if c.metrics != nil {
			c.metrics.CycleDone(c.now().Sub(start))
		}
	}()

	c.setState(StateReading)
	c.log.Info("reading from sensor")
	r, err := c.reader.Read(ctx)
	if err != nil {
		c.log.Warn("no valid reading", "error", err)
		c.stageFailed("read")
		return res
	}
	res.Reading = &r
	if c.metrics != nil {
		c.metrics.Reading(r.Temperature, r.Humidity)
	}
	c.publish(r)

	c.setState(StateStoring)
	path, err := c.store.Append(r)
	if err != nil {
		c.log.Error("saving reading failed", "error", err)
		c.stageFailed("store")
		return res
	}
	res.Path = path
	if c.archive != nil {
		if err := c.archive.Insert(ctx, r); err != nil {
			c.log.Warn("archive insert failed", "error", err)
			c.stageFailed("archive")
		}
	}

	c.setState(StateUploading)
	err = c.uploader.Upload(ctx, path)
	if c.metrics != nil {
		c.metrics.Upload(err == nil, c.now())
	}
	if err != nil {
		c.log.Error("upload failed", "file", path, "error", err)
		return res
	}
	res.Uploaded = true
	return res
}

func (c *Collector) publish(r sensor.Reading) {
	for _, o := range c.outputs {
		if err := o.Publish(r); err != nil {
			c.log.Warn("output publish failed", "error", err)
			c.stageFailed("output")
		}
	}
}

func (c *Collector) setState(s State) {
	c.log.Debug("state", "state", s)
	if c.metrics != nil {
		c.metrics.SetState(string(s))
	}
}

func (c *Collector) stageFailed(stage string) {
	if c.metrics != nil {
		c.metrics.StageFailed(stage)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsShutdown reports whether err only signals that Run was asked to stop.
func IsShutdown(err error) bool {
	return errors.Is(err, context.Canceled)
}
