package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States of the collection cycle, exported through the cycle_state gauge.
var States = []string{"reading", "storing", "uploading", "sleeping"}

type Metrics struct {
	cycles        prometheus.Counter
	readings      prometheus.Counter
	linesSkipped  *prometheus.CounterVec
	stageFailures *prometheus.CounterVec
	uploads       *prometheus.CounterVec
	state         *prometheus.GaugeVec
	lastUpload    prometheus.Gauge
	lastReading   *prometheus.GaugeVec
	cycleDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_cycles_total",
			Help: "Total collection cycles run.",
		}),
		readings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "collector_readings_total",
			Help: "Total readings obtained from the sensor.",
		}),
		linesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_lines_skipped_total",
			Help: "Serial lines discarded while waiting for a reading, by reason.",
		}, []string{"reason"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_stage_failures_total",
			Help: "Cycle stage failures by stage.",
		}, []string{"stage"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "collector_uploads_total",
			Help: "Upload attempts by result.",
		}, []string{"result"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_cycle_state",
			Help: "1 for the state the collector is currently in, 0 otherwise.",
		}, []string{"state"}),
		lastUpload: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "collector_last_upload_timestamp_seconds",
			Help: "Unix time of the last successful upload.",
		}),
		lastReading: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "collector_last_reading",
			Help: "Most recent reading by field.",
		}, []string{"field"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "collector_cycle_duration_seconds",
			Help:    "Histogram of cycle durations, sleep excluded.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8),
		}),
	}

	reg.MustRegister(
		m.cycles,
		m.readings,
		m.linesSkipped,
		m.stageFailures,
		m.uploads,
		m.state,
		m.lastUpload,
		m.lastReading,
		m.cycleDuration,
	)

	for _, s := range States {
		m.state.WithLabelValues(s).Set(0)
	}

	return m
}

func (m *Metrics) SetState(state string) {
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		m.state.WithLabelValues(s).Set(v)
	}
}

func (m *Metrics) CycleDone(d time.Duration) {
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Reading(temperature, humidity float64) {
	m.readings.Inc()
	m.lastReading.WithLabelValues("temperature").Set(temperature)
	m.lastReading.WithLabelValues("humidity").Set(humidity)
}

// LineSkipped counts a discarded serial line. It fits sensor.WithSkipHook.
func (m *Metrics) LineSkipped(reason string) {
	m.linesSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) StageFailed(stage string) {
	m.stageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) Upload(ok bool, at time.Time) {
	if !ok {
		m.uploads.WithLabelValues("error").Inc()
		return
	}
	m.uploads.WithLabelValues("ok").Inc()
	m.lastUpload.Set(float64(at.Unix()))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, log *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
