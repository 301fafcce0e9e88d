package store

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/model"
)

// ---------------------------------------------------------------------------
// Aggregation
//
// Each aggregation is one statement inside a snapshot read transaction.
// Grouped results carry COUNT(*) OVER() so the page and the number of
// groups come from the same rows.
// ---------------------------------------------------------------------------

const (
	errorCountExpr = "SUM(CASE WHEN response_status_code >= 400 THEN 1 ELSE 0 END)"
	windowFilter   = "project_id = ? AND timestamp >= ? AND timestamp <= ?"
)

type summaryRow struct {
	RequestCount      int64   `db:"request_count"`
	AvgResponseTimeMs float64 `db:"avg_response_time_ms"`
	ErrorCount        int64   `db:"error_count"`
	SlowestRequestMs  float64 `db:"slowest_request_ms"`
	FastestRequestMs  float64 `db:"fastest_request_ms"`
}

type timeSeriesRow struct {
	Bucket            string  `db:"bucket"`
	RequestCount      int64   `db:"request_count"`
	AvgResponseTimeMs float64 `db:"avg_response_time_ms"`
	ErrorCount        int64   `db:"error_count"`
	TotalCount        int64   `db:"total_count"`
}

type endpointRow struct {
	Method            string  `db:"method"`
	URLPath           string  `db:"url_path"`
	RequestCount      int64   `db:"request_count"`
	AvgResponseTimeMs float64 `db:"avg_response_time_ms"`
	ErrorCount        int64   `db:"error_count"`
	SlowestRequestMs  float64 `db:"slowest_request_ms"`
	FastestRequestMs  float64 `db:"fastest_request_ms"`
	TotalCount        int64   `db:"total_count"`
}

func windowArgs(projectID string, q model.MetricQuery) []interface{} {
	return []interface{}{projectID, utc(q.Start), utc(q.End)}
}

// Summary aggregates every metric of a project inside the query window.
// Page parameters do not apply.
func (s *Store) Summary(ctx context.Context, projectID string, q model.MetricQuery) (*model.Summary, error) {
	query := `SELECT
		COUNT(*) AS request_count,
		COALESCE(AVG(response_time_ms), 0) AS avg_response_time_ms,
		COALESCE(` + errorCountExpr + `, 0) AS error_count,
		COALESCE(MAX(response_time_ms), 0) AS slowest_request_ms,
		COALESCE(MIN(response_time_ms), 0) AS fastest_request_ms
		FROM metrics WHERE ` + windowFilter

	var row summaryRow
	err := s.inReadTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, s.rebind(query), windowArgs(projectID, q)...)
	})
	if err != nil {
		return nil, fmt.Errorf("metrics summary: %w", err)
	}

	minutes := math.Max(q.End.Sub(q.Start).Minutes(), 1)
	return &model.Summary{
		RequestCount:      row.RequestCount,
		AvgResponseTimeMs: round2(row.AvgResponseTimeMs),
		RequestsPerMinute: round2(float64(row.RequestCount) / minutes),
		ErrorCount:        row.ErrorCount,
		ErrorRate:         errorRate(row.ErrorCount, row.RequestCount),
		SlowestRequestMs:  round2(row.SlowestRequestMs),
		FastestRequestMs:  round2(row.FastestRequestMs),
	}, nil
}

// TimeSeries groups the window into buckets of q.Granularity. Only
// non-empty buckets are returned, in ascending order.
func (s *Store) TimeSeries(ctx context.Context, projectID string, q model.MetricQuery) (*model.Page[model.TimeSeriesPoint], error) {
	bucket := s.dialect.TimeBucket("timestamp", q.Granularity)
	query := `SELECT ` + bucket + ` AS bucket,
		COUNT(*) AS request_count,
		AVG(response_time_ms) AS avg_response_time_ms,
		` + errorCountExpr + ` AS error_count,
		COUNT(*) OVER() AS total_count
		FROM metrics WHERE ` + windowFilter + `
		GROUP BY ` + bucket + `
		ORDER BY bucket`
	query, args := s.paginate(query, windowArgs(projectID, q), q.PageSize, q.Offset())

	var rows []timeSeriesRow
	var total int64
	err := s.inReadTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
			return err
		}
		if len(rows) > 0 {
			total = rows[0].TotalCount
			return nil
		}
		var err error
		total, err = s.countGroups(ctx, tx, bucket, projectID, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("metrics time series: %w", err)
	}

	points := make([]model.TimeSeriesPoint, 0, len(rows))
	for _, r := range rows {
		ts, err := time.Parse(time.RFC3339, r.Bucket)
		if err != nil {
			return nil, fmt.Errorf("parse bucket %q: %w", r.Bucket, err)
		}
		points = append(points, model.TimeSeriesPoint{
			Timestamp:         ts.UTC(),
			RequestCount:      r.RequestCount,
			AvgResponseTimeMs: round2(r.AvgResponseTimeMs),
			ErrorCount:        r.ErrorCount,
		})
	}

	return &model.Page[model.TimeSeriesPoint]{
		Items:    points,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
	}, nil
}

// EndpointStats groups the window by (method, url_path), sorted ascending.
func (s *Store) EndpointStats(ctx context.Context, projectID string, q model.MetricQuery) (*model.Page[model.EndpointStats], error) {
	query := `SELECT method, url_path,
		COUNT(*) AS request_count,
		AVG(response_time_ms) AS avg_response_time_ms,
		` + errorCountExpr + ` AS error_count,
		MAX(response_time_ms) AS slowest_request_ms,
		MIN(response_time_ms) AS fastest_request_ms,
		COUNT(*) OVER() AS total_count
		FROM metrics WHERE ` + windowFilter + `
		GROUP BY method, url_path
		ORDER BY method, url_path`
	query, args := s.paginate(query, windowArgs(projectID, q), q.PageSize, q.Offset())

	var rows []endpointRow
	var total int64
	err := s.inReadTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.SelectContext(ctx, &rows, s.rebind(query), args...); err != nil {
			return err
		}
		if len(rows) > 0 {
			total = rows[0].TotalCount
			return nil
		}
		var err error
		total, err = s.countGroups(ctx, tx, "method, url_path", projectID, q)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("endpoint stats: %w", err)
	}

	items := make([]model.EndpointStats, 0, len(rows))
	for _, r := range rows {
		items = append(items, model.EndpointStats{
			Method:            r.Method,
			URLPath:           r.URLPath,
			RequestCount:      r.RequestCount,
			AvgResponseTimeMs: round2(r.AvgResponseTimeMs),
			ErrorCount:        r.ErrorCount,
			ErrorRate:         errorRate(r.ErrorCount, r.RequestCount),
			SlowestRequestMs:  round2(r.SlowestRequestMs),
			FastestRequestMs:  round2(r.FastestRequestMs),
		})
	}

	return &model.Page[model.EndpointStats]{
		Items:    items,
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    total,
	}, nil
}

// countGroups counts groups when the requested page is empty, so a page past
// the end still reports the real total. It runs in the caller's snapshot.
func (s *Store) countGroups(ctx context.Context, tx *sqlx.Tx, groupBy, projectID string, q model.MetricQuery) (int64, error) {
	if q.Offset() == 0 {
		return 0, nil
	}
	query := `SELECT COUNT(*) FROM (SELECT 1 AS one FROM metrics WHERE ` + windowFilter +
		` GROUP BY ` + groupBy + `) g`
	var n int64
	if err := tx.GetContext(ctx, &n, s.rebind(query), windowArgs(projectID, q)...); err != nil {
		return 0, err
	}
	return n, nil
}

func errorRate(errors, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(errors) / float64(total) * 100)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
