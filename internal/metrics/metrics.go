package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics is safe to use through a nil pointer; every observation becomes a
// no-op.
type Metrics struct {
	registry          *prometheus.Registry
	filesTotal        *prometheus.CounterVec
	fileDuration      prometheus.Histogram
	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	pixelsTotal       prometheus.Counter
	bytesWrittenTotal prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		filesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logomark_files_total",
			Help: "Input files seen by the compositor by outcome.",
		}, []string{"outcome"}),
		fileDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logomark_file_duration_seconds",
			Help:    "Time to decode, watermark, encode and emit one image.",
			Buckets: prometheus.DefBuckets,
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logomark_runs_total",
			Help: "Batch runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "logomark_run_duration_seconds",
			Help:    "Wall time of each batch run.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"status"}),
		pixelsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logomark_pixels_processed_total",
			Help: "Total source pixels of successfully watermarked images.",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logomark_bytes_written_total",
			Help: "Total encoded output bytes.",
		}),
	}

	registry.MustRegister(
		m.filesTotal,
		m.fileDuration,
		m.runsTotal,
		m.runDuration,
		m.pixelsTotal,
		m.bytesWrittenTotal,
	)
	return m
}

func (m *Metrics) ObserveFile(outcome string, d time.Duration, pixels, bytesWritten int) {
	if m == nil {
		return
	}
	m.filesTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSucceeded {
		return
	}
	m.fileDuration.Observe(d.Seconds())
	m.pixelsTotal.Add(float64(pixels))
	m.bytesWrittenTotal.Add(float64(bytesWritten))
}

func (m *Metrics) ObserveRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
