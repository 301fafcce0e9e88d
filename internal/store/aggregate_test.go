package store

import (
	"context"
	"testing"
	"time"

	"github.com/pulsemetrics/pulse/internal/model"
)

var scenarioStart = time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)

// seedScenario records three requests at T, T+2m and T+10m.
func seedScenario(t *testing.T, s *Store, projectID string) {
	t.Helper()
	for _, m := range []model.Metric{
		{URLPath: "/users", Method: "GET", ResponseStatusCode: 200, ResponseTimeMs: 50, Timestamp: scenarioStart},
		{URLPath: "/users", Method: "POST", ResponseStatusCode: 500, ResponseTimeMs: 500, Timestamp: scenarioStart.Add(2 * time.Minute)},
		{URLPath: "/orders", Method: "GET", ResponseStatusCode: 201, ResponseTimeMs: 150, Timestamp: scenarioStart.Add(10 * time.Minute)},
	} {
		m := m
		m.ProjectID = projectID
		if err := s.InsertMetric(context.Background(), &m); err != nil {
			t.Fatalf("InsertMetric: %v", err)
		}
	}
}

func scenarioQuery(g model.Granularity, page, pageSize int) model.MetricQuery {
	return model.MetricQuery{
		Start:       scenarioStart,
		End:         scenarioStart.Add(10*time.Minute + time.Minute - time.Microsecond),
		Granularity: g,
		Page:        page,
		PageSize:    pageSize,
	}
}

func newScenarioStore(t *testing.T) (*Store, string) {
	t.Helper()
	s := newTestStore(t)
	u := seedUser(t, s, "agg@example.com")
	p, _ := seedProject(t, s, u, "agg")
	seedScenario(t, s, p.ID)

	// Traffic of another project never leaks into the scenario.
	other, _ := seedProject(t, s, u, "noise")
	if err := s.InsertMetric(context.Background(), &model.Metric{
		ProjectID: other.ID, URLPath: "/users", Method: "GET", ResponseStatusCode: 404, ResponseTimeMs: 9999, Timestamp: scenarioStart,
	}); err != nil {
		t.Fatalf("InsertMetric: %v", err)
	}
	return s, p.ID
}

func TestSummaryScenario(t *testing.T) {
	s, projectID := newScenarioStore(t)

	sum, err := s.Summary(context.Background(), projectID, scenarioQuery(model.GranularityMinute, 1, 1000))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.RequestCount != 3 {
		t.Errorf("request_count = %d, want 3", sum.RequestCount)
	}
	if sum.ErrorCount != 1 {
		t.Errorf("error_count = %d, want 1", sum.ErrorCount)
	}
	if sum.ErrorRate != 33.33 {
		t.Errorf("error_rate = %v, want 33.33", sum.ErrorRate)
	}
	if sum.SlowestRequestMs != 500 || sum.FastestRequestMs != 50 {
		t.Errorf("slowest/fastest = %v/%v, want 500/50", sum.SlowestRequestMs, sum.FastestRequestMs)
	}
	if sum.AvgResponseTimeMs != 233.33 {
		t.Errorf("avg = %v, want 233.33", sum.AvgResponseTimeMs)
	}
	// 3 requests over an 11 minute window.
	if sum.RequestsPerMinute != 0.27 {
		t.Errorf("requests_per_minute = %v, want 0.27", sum.RequestsPerMinute)
	}
}

func TestSummaryEmptyWindow(t *testing.T) {
	s, projectID := newScenarioStore(t)

	q := scenarioQuery(model.GranularityMinute, 1, 1000)
	q.Start = q.Start.Add(-48 * time.Hour)
	q.End = q.Start.Add(time.Hour)

	sum, err := s.Summary(context.Background(), projectID, q)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if *sum != (model.Summary{}) {
		t.Errorf("expected all zeros, got %+v", sum)
	}
}

func TestSummaryZeroLatency(t *testing.T) {
	s := newTestStore(t)
	u := seedUser(t, s, "zero@example.com")
	p, _ := seedProject(t, s, u, "zero")
	for i := 0; i < 2; i++ {
		if err := s.InsertMetric(context.Background(), &model.Metric{
			ProjectID: p.ID, URLPath: "/", Method: "GET", ResponseStatusCode: 204, Timestamp: scenarioStart,
		}); err != nil {
			t.Fatalf("InsertMetric: %v", err)
		}
	}

	sum, err := s.Summary(context.Background(), p.ID, scenarioQuery(model.GranularityMinute, 1, 10))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.RequestCount != 2 || sum.AvgResponseTimeMs != 0 || sum.FastestRequestMs != 0 {
		t.Errorf("unexpected summary %+v", sum)
	}
}

func TestTimeSeriesBuckets(t *testing.T) {
	s, projectID := newScenarioStore(t)
	ctx := context.Background()

	tests := []struct {
		g    model.Granularity
		want []time.Time
	}{
		{model.GranularityMinute, []time.Time{scenarioStart, scenarioStart.Add(2 * time.Minute), scenarioStart.Add(10 * time.Minute)}},
		{model.GranularityHour, []time.Time{scenarioStart}},
		{model.GranularityDay, []time.Time{time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}},
	}

	for _, tt := range tests {
		t.Run(string(tt.g), func(t *testing.T) {
			page, err := s.TimeSeries(ctx, projectID, scenarioQuery(tt.g, 1, 1000))
			if err != nil {
				t.Fatalf("TimeSeries: %v", err)
			}
			if len(page.Items) != len(tt.want) {
				t.Fatalf("expected %d buckets, got %d", len(tt.want), len(page.Items))
			}
			if page.Total != int64(len(tt.want)) {
				t.Errorf("total = %d, want %d", page.Total, len(tt.want))
			}

			var sum int64
			for i, p := range page.Items {
				if !p.Timestamp.Equal(tt.want[i]) {
					t.Errorf("bucket %d = %v, want %v", i, p.Timestamp, tt.want[i])
				}
				if !p.Timestamp.Equal(tt.g.Truncate(p.Timestamp)) {
					t.Errorf("bucket %d = %v is not on a %s boundary", i, p.Timestamp, tt.g)
				}
				if i > 0 && !p.Timestamp.After(page.Items[i-1].Timestamp) {
					t.Errorf("buckets not strictly increasing at %d", i)
				}
				sum += p.RequestCount
			}
			if sum != 3 {
				t.Errorf("bucket counts sum to %d, want 3", sum)
			}
		})
	}
}

func TestTimeSeriesPagination(t *testing.T) {
	s, projectID := newScenarioStore(t)
	ctx := context.Background()

	page, err := s.TimeSeries(ctx, projectID, scenarioQuery(model.GranularityMinute, 2, 1))
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}
	if len(page.Items) != 1 || page.Total != 3 {
		t.Fatalf("expected 1 item of 3, got %d of %d", len(page.Items), page.Total)
	}
	if !page.Items[0].Timestamp.Equal(scenarioStart.Add(2 * time.Minute)) {
		t.Errorf("unexpected bucket %v", page.Items[0].Timestamp)
	}
	if page.Items[0].ErrorCount != 1 || page.Items[0].AvgResponseTimeMs != 500 {
		t.Errorf("unexpected point %+v", page.Items[0])
	}

	past, err := s.TimeSeries(ctx, projectID, scenarioQuery(model.GranularityMinute, 5, 1))
	if err != nil {
		t.Fatalf("TimeSeries: %v", err)
	}
	if len(past.Items) != 0 || past.Total != 3 {
		t.Errorf("page past the end: %d items, total %d", len(past.Items), past.Total)
	}
}

func TestEndpointStats(t *testing.T) {
	s, projectID := newScenarioStore(t)

	page, err := s.EndpointStats(context.Background(), projectID, scenarioQuery(model.GranularityMinute, 1, 1000))
	if err != nil {
		t.Fatalf("EndpointStats: %v", err)
	}
	if page.Total != 3 || len(page.Items) != 3 {
		t.Fatalf("expected 3 endpoints, got %d (total %d)", len(page.Items), page.Total)
	}

	want := []struct{ method, path string }{
		{"GET", "/orders"},
		{"GET", "/users"},
		{"POST", "/users"},
	}
	var sum int64
	for i, w := range want {
		got := page.Items[i]
		if got.Method != w.method || got.URLPath != w.path {
			t.Errorf("row %d = %s %s, want %s %s", i, got.Method, got.URLPath, w.method, w.path)
		}
		sum += got.RequestCount
	}
	if sum != 3 {
		t.Errorf("endpoint counts sum to %d, want 3", sum)
	}

	post := page.Items[2]
	if post.ErrorCount != 1 || post.ErrorRate != 100 || post.SlowestRequestMs != 500 {
		t.Errorf("unexpected POST /users stats %+v", post)
	}
}

func TestLatencyExtremesRounded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	u := seedUser(t, s, "round@example.com")
	p, _ := seedProject(t, s, u, "round")
	for _, ms := range []float64{12.3456, 98.7654} {
		if err := s.InsertMetric(ctx, &model.Metric{
			ProjectID: p.ID, URLPath: "/r", Method: "GET", ResponseStatusCode: 200, ResponseTimeMs: ms, Timestamp: scenarioStart,
		}); err != nil {
			t.Fatalf("InsertMetric: %v", err)
		}
	}
	q := scenarioQuery(model.GranularityMinute, 1, 10)

	sum, err := s.Summary(ctx, p.ID, q)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.SlowestRequestMs != 98.77 || sum.FastestRequestMs != 12.35 {
		t.Errorf("summary extremes = %v / %v, want 98.77 / 12.35", sum.SlowestRequestMs, sum.FastestRequestMs)
	}

	page, err := s.EndpointStats(ctx, p.ID, q)
	if err != nil {
		t.Fatalf("EndpointStats: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].SlowestRequestMs != 98.77 || page.Items[0].FastestRequestMs != 12.35 {
		t.Errorf("endpoint extremes = %+v", page.Items)
	}
}

func TestEndpointStatsPagination(t *testing.T) {
	s, projectID := newScenarioStore(t)

	page, err := s.EndpointStats(context.Background(), projectID, scenarioQuery(model.GranularityMinute, 2, 2))
	if err != nil {
		t.Fatalf("EndpointStats: %v", err)
	}
	if len(page.Items) != 1 || page.Total != 3 {
		t.Fatalf("expected 1 item of 3, got %d of %d", len(page.Items), page.Total)
	}
	if page.Items[0].Method != "POST" {
		t.Errorf("expected POST /users on page 2, got %+v", page.Items[0])
	}
}
