package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Ingested(ResultSuccess)
	m.Ingested(ResultSuccess)
	m.Ingested(ResultFailure)
	m.Retried()
	m.TrackedError()
	m.Deleted(5)
	m.Deleted(0)
	m.APIKey(ResultFailure)
	m.Cache(ResultHit)
	m.ObserveAggregation("summary", time.Now())

	if got := testutil.ToFloat64(m.MetricsIngested.WithLabelValues(ResultSuccess)); got != 2 {
		t.Errorf("ingested success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.IngestRetries); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.TrackedErrors); got != 1 {
		t.Errorf("tracked errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RetentionDeleted); got != 5 {
		t.Errorf("deleted = %v, want 5", got)
	}
	if got := testutil.CollectAndCount(m.AggregationDuration); got != 1 {
		t.Errorf("aggregation series = %d, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Ingested(ResultSuccess)
	m.Retried()
	m.ObserveAggregation("summary", time.Now())
	m.Cache(ResultMiss)
	m.Deleted(3)
	m.APIKey(ResultSuccess)
}
