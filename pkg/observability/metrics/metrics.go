package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeSuccess     = "success"
	OutcomeRemoteError = "remote_error"
	OutcomeUnavailable = "unavailable"
	OutcomeDiscarded   = "discarded"
)

// Collector methods are safe on a nil receiver so components can run without metrics.
type Collector struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	InFlightGauge   prometheus.Gauge

	UploadsTotal     *prometheus.CounterVec
	AnalysisTotal    *prometheus.CounterVec
	AnalysisDuration prometheus.Histogram
	StoreMutations   *prometheus.CounterVec
	StoredRecords    prometheus.Gauge
	EventsFailed     prometheus.Counter
}

// NewCollector registers the service metrics with reg, or with the default
// registry when reg is nil.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, route, and status code.",
		}, []string{"method", "route", "status"}),

		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency distribution.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"method", "route", "status"}),

		InFlightGauge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		}),

		UploadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "uploads_total",
			Help:      "ECG files attached to the operator session by kind.",
		}, []string{"kind"}),

		AnalysisTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "requests_total",
			Help:      "Analysis round trips by outcome.",
		}, []string{"outcome"}),

		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Analysis round trip latency distribution.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		StoreMutations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "mutations_total",
			Help:      "Record store mutations by operation.",
		}, []string{"operation"}),

		StoredRecords: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "records",
			Name:      "stored",
			Help:      "Records currently held by the store.",
		}),

		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "publish_failed_total",
			Help:      "Record events that could not be published. Alert if non-zero.",
		}),
	}
}

func (c *Collector) ObserveRequest(method, route, status string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.RequestsTotal.WithLabelValues(method, route, status).Inc()
	c.RequestDuration.WithLabelValues(method, route, status).Observe(elapsed.Seconds())
}

func (c *Collector) RequestStarted() {
	if c != nil {
		c.InFlightGauge.Inc()
	}
}

func (c *Collector) RequestFinished() {
	if c != nil {
		c.InFlightGauge.Dec()
	}
}

func (c *Collector) ObserveUpload(kind string) {
	if c != nil {
		c.UploadsTotal.WithLabelValues(kind).Inc()
	}
}

func (c *Collector) ObserveAnalysis(outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.AnalysisTotal.WithLabelValues(outcome).Inc()
	c.AnalysisDuration.Observe(elapsed.Seconds())
}

func (c *Collector) ObserveMutation(operation string, stored int) {
	if c == nil {
		return
	}
	c.StoreMutations.WithLabelValues(operation).Inc()
	c.StoredRecords.Set(float64(stored))
}

func (c *Collector) SetStored(stored int) {
	if c != nil {
		c.StoredRecords.Set(float64(stored))
	}
}

func (c *Collector) EventPublishFailed() {
	if c != nil {
		c.EventsFailed.Inc()
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor exposes the metrics gathered by g.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
