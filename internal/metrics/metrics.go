// Package metrics exports Prometheus metrics for the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gazetrace"

// Outcome labels for calibrations.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
)

// Metrics is nil-safe: every recorder is a no-op on a nil receiver, so
// components can be built without metrics in tests.
type Metrics struct {
	registry *prometheus.Registry

	SamplesCaptured     *prometheus.CounterVec
	SamplesDropped      prometheus.Counter
	Calibrations        *prometheus.CounterVec
	CalibrationDuration prometheus.Histogram
	ExportsWritten      prometheus.Counter
	ExportPoints        prometheus.Histogram
	DwellComputations   prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		SamplesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_captured_total",
			Help:      "Gaze samples appended to the sequence",
		}, []string{"page"}),
		SamplesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Gaze samples discarded because a calibration was running",
		}),
		Calibrations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calibrations_total",
			Help:      "Calibration runs by outcome",
		}, []string{"outcome"}),
		CalibrationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "calibration_duration_seconds",
			Help:      "Wall time of completed calibrations",
			Buckets:   []float64{1, 2.5, 5, 7.5, 10, 15, 30, 60},
		}),
		ExportsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_written_total",
			Help:      "Export records persisted",
		}),
		ExportPoints: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_points",
			Help:      "Gaze points per export",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}),
		DwellComputations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dwell_computations_total",
			Help:      "Dwell-time analyses served",
		}),
	}
}

// Handler serves this registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSample(page string) {
	if m == nil {
		return
	}
	m.SamplesCaptured.WithLabelValues(page).Inc()
}

func (m *Metrics) RecordDroppedSample() {
	if m == nil {
		return
	}
	m.SamplesDropped.Inc()
}

func (m *Metrics) RecordCalibration(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.Calibrations.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCompleted {
		m.CalibrationDuration.Observe(seconds)
	}
}

func (m *Metrics) RecordExport(points int) {
	if m == nil {
		return
	}
	m.ExportsWritten.Inc()
	m.ExportPoints.Observe(float64(points))
}

func (m *Metrics) RecordDwell() {
	if m == nil {
		return
	}
	m.DwellComputations.Inc()
}
