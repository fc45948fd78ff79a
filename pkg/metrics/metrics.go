// Package metrics exposes Prometheus collectors for batch runs, the engine
// lifecycle, engine requests and model downloads. All methods are safe on a
// nil *Metrics, which records nothing.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docker/image-sorter/pkg/catalog"
	"github.com/docker/image-sorter/pkg/logging"
	"github.com/docker/image-sorter/pkg/pipeline"
)

const namespace = "image_sorter"

// shutdownTimeout bounds the graceful stop of the metrics server.
const shutdownTimeout = 5 * time.Second

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	images        *prometheus.CounterVec
	imageDuration *prometheus.HistogramVec
	runs          *prometheus.CounterVec

	engineStarts        prometheus.Counter
	engineStartDuration prometheus.Histogram
	engineFailures      *prometheus.CounterVec

	engineRequests        *prometheus.CounterVec
	engineRequestDuration *prometheus.HistogramVec

	downloads *prometheus.CounterVec
}

// New creates and registers the collectors, including the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "images_total",
			Help:      "Images handled by outcome.",
		}, []string{"workflow", "outcome"}),
		imageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "image_duration_seconds",
			Help:      "Time to classify and act on one image.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"workflow"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Finished runs by result.",
		}, []string{"workflow", "result"}),
		engineStarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "starts_total",
			Help:      "Engine processes that became ready.",
		}),
		engineStartDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "start_duration_seconds",
			Help:      "Time from spawn to a ready engine.",
			Buckets:   []float64{1, 2, 5, 10, 20, 30, 60, 90},
		}),
		engineFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "failures_total",
			Help:      "Engine start failures by reason.",
		}, []string{"reason"}),
		engineRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "requests_total",
			Help:      "HTTP requests sent to the engine.",
		}, []string{"code", "method"}),
		engineRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests sent to the engine.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"code", "method"}),
		downloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "download",
			Name:      "variants_total",
			Help:      "Variant downloads by result.",
		}, []string{"variant", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.images, m.imageDuration, m.runs,
		m.engineStarts, m.engineStartDuration, m.engineFailures,
		m.engineRequests, m.engineRequestDuration,
		m.downloads,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ImageProcessed records one image of a run.
func (m *Metrics) ImageProcessed(workflow pipeline.Workflow, outcome pipeline.Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(string(workflow), string(outcome)).Inc()
	if outcome != pipeline.OutcomeMissing {
		m.imageDuration.WithLabelValues(string(workflow)).Observe(elapsed.Seconds())
	}
}

// RunFinished records the end of a run.
func (m *Metrics) RunFinished(workflow pipeline.Workflow, err error) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(workflow), result(err)).Inc()
}

// EngineStarted records an engine that became ready after d.
func (m *Metrics) EngineStarted(d time.Duration) {
	if m == nil {
		return
	}
	m.engineStarts.Inc()
	m.engineStartDuration.Observe(d.Seconds())
}

// EngineFailed records a failed engine start.
func (m *Metrics) EngineFailed(reason string) {
	if m == nil {
		return
	}
	m.engineFailures.WithLabelValues(reason).Inc()
}

// DownloadFinished records a variant download.
func (m *Metrics) DownloadFinished(key catalog.Key, err error) {
	if m == nil {
		return
	}
	m.downloads.WithLabelValues(string(key), result(err)).Inc()
}

// InstrumentTransport wraps next so that every engine request is counted and
// timed. A nil next selects http.DefaultTransport.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	if m == nil {
		return next
	}
	return promhttp.InstrumentRoundTripperCounter(m.engineRequests,
		promhttp.InstrumentRoundTripperDuration(m.engineRequestDuration, next))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, log logging.Logger, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, log, listener)
}

func (m *Metrics) serve(ctx context.Context, log logging.Logger, listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(listener)
	}()
	log.Infof("Serving metrics on http://%s/metrics", listener.Addr())

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func result(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}
