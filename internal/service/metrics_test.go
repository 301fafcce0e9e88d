package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/cache"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

func ptr[T any](v T) *T { return &v }

func TestTrackNormalizesAndHashes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.registerUser(t, "owner@example.com")
	created := env.createProject(t, owner, "Billing API")

	m, err := env.metricSvc.Track(ctx, created.ID, model.MetricInput{
		URLPath:            "/users/",
		Method:             "post",
		ResponseStatusCode: 201,
		ResponseTimeMs:     45.3,
		UserAgent:          ptr("curl/8.0"),
		IP:                 ptr("203.0.113.7"),
	})
	if err != nil {
		t.Fatalf("Track: %v", err)
	}
	if m.URLPath != "/users" || m.Method != "POST" {
		t.Errorf("stored %s %s, want POST /users", m.Method, m.URLPath)
	}
	if m.IPHash == nil || *m.IPHash != env.creds.HashIP("203.0.113.7") {
		t.Errorf("IPHash = %v", m.IPHash)
	}
	if m.ID == "" || m.Timestamp.IsZero() {
		t.Errorf("server fields not assigned: %+v", m)
	}

	list, err := env.metricSvc.List(ctx, created.ID, 0, 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].URLPath != "/users" {
		t.Errorf("List = %+v", list)
	}
	if got := testutil.ToFloat64(env.telemetry.MetricsIngested.WithLabelValues(telemetry.ResultSuccess)); got != 1 {
		t.Errorf("ingested success = %v, want 1", got)
	}
}

func TestTrackValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.registerUser(t, "owner@example.com")
	created := env.createProject(t, owner, "Billing API")

	valid := model.MetricInput{URLPath: "/a", Method: "GET", ResponseStatusCode: 200, ResponseTimeMs: 1}
	cases := map[string]func(*model.MetricInput){
		"relative path":  func(in *model.MetricInput) { in.URLPath = "a" },
		"unknown method": func(in *model.MetricInput) { in.Method = "FETCH" },
		"status 99":      func(in *model.MetricInput) { in.ResponseStatusCode = 99 },
		"negative time":  func(in *model.MetricInput) { in.ResponseTimeMs = -1 },
		"too slow":       func(in *model.MetricInput) { in.ResponseTimeMs = 120_001 },
	}
	for name, mutate := range cases {
		in := valid
		mutate(&in)
		if _, err := env.metricSvc.Track(ctx, created.ID, in); !apperr.Is(err, apperr.KindValidation) {
			t.Errorf("%s: err = %v, want validation", name, err)
		}
	}
}

func TestTrackCountsErrorResponses(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.registerUser(t, "owner@example.com")
	created := env.createProject(t, owner, "Billing API")

	for _, status := range []int{200, 399, 400, 503} {
		in := model.MetricInput{URLPath: "/a", Method: "GET", ResponseStatusCode: status, ResponseTimeMs: 1}
		if _, err := env.metricSvc.Track(ctx, created.ID, in); err != nil {
			t.Fatalf("Track %d: %v", status, err)
		}
	}
	if got := testutil.ToFloat64(env.telemetry.TrackedErrors); got != 2 {
		t.Errorf("tracked errors = %v, want 2", got)
	}
}

func TestTrackAsync(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "owner@example.com")
	created := env.createProject(t, owner, "Billing API")

	ctx, cancel := context.WithCancel(context.Background())
	env.metricSvc.TrackAsync(ctx, created.ID, model.MetricInput{URLPath: "/a", Method: "GET", ResponseStatusCode: 200, ResponseTimeMs: 3})
	cancel()
	env.metricSvc.Wait()

	list, err := env.metricSvc.List(context.Background(), created.ID, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("background insert stored %d rows, want 1", len(list))
	}
}

// seedScenario records T, T+2m and T+10m in one project.
func seedScenario(t *testing.T, env *testEnv) (projectID string, q model.MetricQuery) {
	t.Helper()
	ctx := context.Background()
	owner := env.registerUser(t, "owner@example.com")
	created := env.createProject(t, owner, "Billing API")

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	inputs := []model.MetricInput{
		{URLPath: "/users", Method: "GET", ResponseStatusCode: 200, ResponseTimeMs: 50, Timestamp: ptr(base)},
		{URLPath: "/users", Method: "POST", ResponseStatusCode: 500, ResponseTimeMs: 500, Timestamp: ptr(base.Add(2 * time.Minute))},
		{URLPath: "/orders", Method: "GET", ResponseStatusCode: 201, ResponseTimeMs: 150, Timestamp: ptr(base.Add(10 * time.Minute))},
	}
	for _, in := range inputs {
		if _, err := env.metricSvc.Track(ctx, created.ID, in); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	q = model.MetricQuery{
		Start:       base,
		End:         base.Add(10*time.Minute + time.Minute - time.Microsecond),
		Granularity: model.GranularityMinute,
		Page:        1,
		PageSize:    1000,
	}
	return created.ID, q
}

func TestAggregationsAgree(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	projectID, q := seedScenario(t, env)

	sum, err := env.metricSvc.Summary(ctx, projectID, q)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.RequestCount)
	assert.Equal(t, int64(1), sum.ErrorCount)
	assert.Equal(t, 33.33, sum.ErrorRate)
	assert.Equal(t, 500.0, sum.SlowestRequestMs)
	assert.Equal(t, 50.0, sum.FastestRequestMs)

	ts, err := env.metricSvc.TimeSeries(ctx, projectID, q)
	require.NoError(t, err)
	var bucketTotal int64
	for i, p := range ts.Items {
		bucketTotal += p.RequestCount
		if i > 0 {
			assert.True(t, p.Timestamp.After(ts.Items[i-1].Timestamp), "buckets must be strictly increasing")
		}
	}
	assert.Equal(t, sum.RequestCount, bucketTotal)

	eps, err := env.metricSvc.EndpointStats(ctx, projectID, q)
	require.NoError(t, err)
	var endpointTotal int64
	for _, e := range eps.Items {
		endpointTotal += e.RequestCount
	}
	assert.Equal(t, sum.RequestCount, endpointTotal)
	require.Len(t, eps.Items, 3)
	assert.Equal(t, "GET", eps.Items[0].Method)
	assert.Equal(t, "/orders", eps.Items[0].URLPath)
}

func TestAggregationsUseCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rc := cache.NewRedisCache(mr.Addr(), "", 0, time.Minute)
	defer rc.Close()

	env := newTestEnvWithCache(t, rc)
	ctx := context.Background()
	projectID, q := seedScenario(t, env)

	first, err := env.metricSvc.Summary(ctx, projectID, q)
	require.NoError(t, err)
	second, err := env.metricSvc.Summary(ctx, projectID, q)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	ts1, err := env.metricSvc.TimeSeries(ctx, projectID, q)
	require.NoError(t, err)
	ts2, err := env.metricSvc.TimeSeries(ctx, projectID, q)
	require.NoError(t, err)
	assert.Equal(t, len(ts1.Items), len(ts2.Items))
	assert.True(t, ts1.Items[0].Timestamp.Equal(ts2.Items[0].Timestamp))

	assert.Equal(t, 2.0, testutil.ToFloat64(env.telemetry.CacheOperations.WithLabelValues(telemetry.ResultMiss)))
	assert.Equal(t, 2.0, testutil.ToFloat64(env.telemetry.CacheOperations.WithLabelValues(telemetry.ResultHit)))
}

type failingCache struct{}

func (failingCache) Get(context.Context, string, interface{}) (bool, error) {
	return false, errors.New("redis: connection refused")
}

func (failingCache) Set(context.Context, string, interface{}) error {
	return errors.New("redis: connection refused")
}

func TestAggregationsSurviveCacheFailure(t *testing.T) {
	env := newTestEnvWithCache(t, failingCache{})
	ctx := context.Background()
	projectID, q := seedScenario(t, env)

	sum, err := env.metricSvc.Summary(ctx, projectID, q)
	require.NoError(t, err)
	assert.Equal(t, int64(3), sum.RequestCount)
	assert.Equal(t, 2.0, testutil.ToFloat64(env.telemetry.CacheOperations.WithLabelValues(telemetry.ResultError)))
}

func TestSummaryEmptyWindow(t *testing.T) {
	env := newTestEnv(t)
	owner := env.registerUser(t, "owner@example.com")
	created := env.createProject(t, owner, "Billing API")

	q, err := env.metricSvc.ParseQuery(MetricQueryParams{})
	require.NoError(t, err)

	sum, err := env.metricSvc.Summary(context.Background(), created.ID, q)
	require.NoError(t, err)
	assert.Equal(t, model.Summary{}, *sum)
}
