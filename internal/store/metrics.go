package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/model"
)

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// InsertMetric writes one metric row in its own transaction. A missing ID or
// timestamp is assigned here. The row is either fully committed or absent.
func (s *Store) InsertMetric(ctx context.Context, m *model.Metric) error {
	if m.ID == "" {
		m.ID = newID()
	}
	if m.Timestamp.IsZero() {
		m.Timestamp = now()
	} else {
		m.Timestamp = utc(m.Timestamp)
	}

	const q = `INSERT INTO metrics
		(id, project_id, url_path, method, response_status_code, response_time_ms, timestamp, user_agent, ip_hash)
		VALUES
		(:id, :project_id, :url_path, :method, :response_status_code, :response_time_ms, :timestamp, :user_agent, :ip_hash)`

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, q, m); err != nil {
			return s.classify("insert metric", err)
		}
		return nil
	})
}

// ListMetrics returns a page of a project's metrics in insertion order.
func (s *Store) ListMetrics(ctx context.Context, projectID string, offset, limit int) ([]model.Metric, error) {
	q, args := s.paginate(
		"SELECT * FROM metrics WHERE project_id = ? ORDER BY id",
		[]interface{}{projectID}, limit, offset)

	metrics := []model.Metric{}
	if err := s.db.SelectContext(ctx, &metrics, s.rebind(q), args...); err != nil {
		return nil, fmt.Errorf("list metrics: %w", err)
	}
	return metrics, nil
}

// DeleteMetricsBefore removes every metric with a timestamp strictly before
// threshold, across all projects, and returns the number of rows deleted.
func (s *Store) DeleteMetricsBefore(ctx context.Context, threshold time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.rebind("DELETE FROM metrics WHERE timestamp < ?"), utc(threshold))
	if err != nil {
		return 0, fmt.Errorf("delete metrics: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete metrics rows affected: %w", err)
	}
	return n, nil
}
