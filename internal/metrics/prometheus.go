// Package metrics exposes drive service measurements to prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drive-go/internal/drive"
)

const namespace = "drive"

// PrometheusRecorder implements drive.Recorder on a private registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	durations   *prometheus.HistogramVec
	rollbacks   *prometheus.CounterVec
	orphans     *prometheus.CounterVec
	inconsist   *prometheus.CounterVec
	thumbErrors prometheus.Counter
}

// NewPrometheusRecorder creates a recorder with its own registry, including
// Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		registry: reg,
		operations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Drive operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time spent in drive operations, including lock wait.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		rollbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rollbacks_total",
			Help:      "Metadata compensations after failed physical changes.",
		}, []string{"operation", "succeeded"}),
		orphans: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphaned_bytes_total",
			Help:      "Deletes that left physical entries behind.",
		}, []string{"operation"}),
		inconsist: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_inconsistencies_total",
			Help:      "Records found without their physical counterpart.",
		}, []string{"operation"}),
		thumbErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thumbnail_failures_total",
			Help:      "Thumbnails that fell back to the default icon.",
		}),
	}
}

func (p *PrometheusRecorder) ObserveOperation(op, outcome string, elapsed time.Duration) {
	p.operations.WithLabelValues(op, outcome).Inc()
	p.durations.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (p *PrometheusRecorder) Rollback(op string, succeeded bool) {
	p.rollbacks.WithLabelValues(op, strconv.FormatBool(succeeded)).Inc()
}

func (p *PrometheusRecorder) OrphanedBytes(op string) {
	p.orphans.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) Inconsistency(op string) {
	p.inconsist.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) ThumbnailFailure() {
	p.thumbErrors.Inc()
}

// Registry returns the registry the recorder's collectors live in.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Compile-time check that PrometheusRecorder implements drive.Recorder interface
var _ drive.Recorder = (*PrometheusRecorder)(nil)
