// Package observability holds the run's Prometheus counters and tracing setup.
package observability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"covlog/internal/logging"
)

// PipelineCollector bundles the counters a parse/merge run reports.
type PipelineCollector struct {
	gatherer prometheus.Gatherer

	Frames        *prometheus.CounterVec
	ModemLines    *prometheus.CounterVec
	MergedRows    *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
}

// NewPipelineCollector registers the pipeline metrics against reg, defaulting
// to the global registry when nil.
func NewPipelineCollector(reg prometheus.Registerer) (*PipelineCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	frames, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covlog_frames_total",
		Help: "GNSS log items decoded, labeled by outcome kind.",
	}, []string{"kind"}), "covlog_frames_total")
	if err != nil {
		return nil, err
	}
	lines, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covlog_modem_lines_total",
		Help: "Modem transcript lines, labeled by classification.",
	}, []string{"kind"}), "covlog_modem_lines_total")
	if err != nil {
		return nil, err
	}
	rows, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "covlog_merged_rows_total",
		Help: "Merged table rows, labeled by contributing sources.",
	}, []string{"sides"}), "covlog_merged_rows_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "covlog_stage_duration_seconds",
		Help:    "Pipeline stage wall time in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"stage"})
	if err := reg.Register(durations); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := are.ExistingCollector.(*prometheus.HistogramVec)
		if !ok {
			return nil, fmt.Errorf("collector covlog_stage_duration_seconds already registered with incompatible type")
		}
		durations = existing
	}

	return &PipelineCollector{
		gatherer:      gatherer,
		Frames:        frames,
		ModemLines:    lines,
		MergedRows:    rows,
		StageDuration: durations,
	}, nil
}

func (c *PipelineCollector) AddFrames(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.Frames.WithLabelValues(kind).Add(float64(n))
}

func (c *PipelineCollector) AddModemLines(kind string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.ModemLines.WithLabelValues(kind).Add(float64(n))
}

func (c *PipelineCollector) AddRows(sides string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.MergedRows.WithLabelValues(sides).Add(float64(n))
}

func (c *PipelineCollector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// Handler exposes a ready-to-use /metrics handler.
func (c *PipelineCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on listen until the returned stop function is called.
func (c *PipelineCollector) Serve(ctx context.Context, listen string, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server stopped", logging.Err(err))
		}
	}()
	log.Info(ctx, "metrics listening", logging.String("addr", ln.Addr().String()))
	return srv.Shutdown, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}
