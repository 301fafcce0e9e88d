package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultError   = "error"
)

// Metrics holds the server's own Prometheus series. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	// MetricsIngested counts /track outcomes by result.
	MetricsIngested *prometheus.CounterVec
	// TrackedErrors counts stored metrics whose status is an error response.
	TrackedErrors prometheus.Counter
	// IngestRetries counts insert attempts beyond the first.
	IngestRetries prometheus.Counter
	// AggregationDuration observes summary, time series and endpoint queries.
	AggregationDuration *prometheus.HistogramVec
	// CacheOperations counts aggregate cache hits, misses and errors.
	CacheOperations *prometheus.CounterVec
	// RetentionDeleted counts metric rows removed by the sweeper.
	RetentionDeleted prometheus.Counter
	// APIKeyAuth counts API key resolutions by result.
	APIKeyAuth *prometheus.CounterVec
}

// New registers the series with reg. Pass prometheus.DefaultRegisterer to
// expose them on /metrics.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		MetricsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_metrics_ingested_total",
			Help: "Total number of tracked request metrics by result",
		}, []string{"result"}),
		TrackedErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_tracked_error_responses_total",
			Help: "Total number of tracked requests that ended in a 4xx or 5xx status",
		}),
		IngestRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_ingest_retries_total",
			Help: "Total number of retried metric inserts",
		}),
		AggregationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pulse_aggregation_duration_seconds",
			Help:    "Histogram of aggregation query duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		CacheOperations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_cache_operations_total",
			Help: "Total number of aggregate cache hits, misses and errors",
		}, []string{"result"}),
		RetentionDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "pulse_retention_deleted_total",
			Help: "Total number of metrics removed by the retention sweeper",
		}),
		APIKeyAuth: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pulse_api_key_auth_total",
			Help: "Total number of API key resolutions by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) Ingested(result string) {
	if m != nil {
		m.MetricsIngested.WithLabelValues(result).Inc()
	}
}

// TrackedError counts one stored error response.
func (m *Metrics) TrackedError() {
	if m != nil {
		m.TrackedErrors.Inc()
	}
}

func (m *Metrics) Retried() {
	if m != nil {
		m.IngestRetries.Inc()
	}
}

// ObserveAggregation records how long an aggregation of kind took since start.
func (m *Metrics) ObserveAggregation(kind string, start time.Time) {
	if m != nil {
		m.AggregationDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	}
}

func (m *Metrics) Cache(result string) {
	if m != nil {
		m.CacheOperations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Deleted(n int64) {
	if m != nil && n > 0 {
		m.RetentionDeleted.Add(float64(n))
	}
}

func (m *Metrics) APIKey(result string) {
	if m != nil {
		m.APIKeyAuth.WithLabelValues(result).Inc()
	}
}
