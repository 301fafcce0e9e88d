package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pulsemetrics/pulse/internal/model"
)

// ---------------------------------------------------------------------------
// Projects
// ---------------------------------------------------------------------------

const insertProject = `INSERT INTO projects
	(id, name, project_key, description, owner_id, is_active, created_at, updated_at)
	VALUES
	(:id, :name, :project_key, :description, :owner_id, :is_active, :created_at, :updated_at)`

// CreateProject inserts a project together with its first API key in one
// transaction. IDs and timestamps are assigned here.
func (s *Store) CreateProject(ctx context.Context, p *model.Project, first *model.APIKey) error {
	ts := now()
	p.ID = newID()
	p.CreatedAt = ts
	p.UpdatedAt = ts

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, insertProject, p); err != nil {
			return s.classify("insert project", err)
		}
		if first == nil {
			return nil
		}
		first.ProjectID = p.ID
		return s.insertAPIKey(ctx, tx, first)
	})
}

// GetProject returns a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	if err := s.db.GetContext(ctx, &p, s.rebind("SELECT * FROM projects WHERE id = ?"), id); err != nil {
		return nil, s.classify("get project", err)
	}
	return &p, nil
}

// GetProjectByKey returns a project by its project key.
func (s *Store) GetProjectByKey(ctx context.Context, projectKey string) (*model.Project, error) {
	var p model.Project
	if err := s.db.GetContext(ctx, &p, s.rebind("SELECT * FROM projects WHERE project_key = ?"), projectKey); err != nil {
		return nil, s.classify("get project by key", err)
	}
	return &p, nil
}

// ListProjectsByOwner returns a user's projects, newest first.
func (s *Store) ListProjectsByOwner(ctx context.Context, ownerID string) ([]model.Project, error) {
	var projects []model.Project
	q := s.rebind("SELECT * FROM projects WHERE owner_id = ? ORDER BY created_at DESC, id DESC")
	if err := s.db.SelectContext(ctx, &projects, q, ownerID); err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	return projects, nil
}

// UpdateProject writes name, description and is_active. project_key is
// never changed. UpdatedAt is refreshed.
func (s *Store) UpdateProject(ctx context.Context, p *model.Project) error {
	p.UpdatedAt = now()

	const q = `UPDATE projects SET
		name = :name, description = :description, is_active = :is_active, updated_at = :updated_at
		WHERE id = :id`

	result, err := s.db.NamedExecContext(ctx, q, p)
	if err != nil {
		return s.classify("update project", err)
	}
	return rowsAffected("update project", result)
}

// DeleteProject removes a project and, through cascades, its keys and metrics.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM projects WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return rowsAffected("delete project", result)
}

type projectStatsRow struct {
	TotalAPIKeys      int64   `db:"total_api_keys"`
	ActiveAPIKeys     int64   `db:"active_api_keys"`
	TotalMetrics      int64   `db:"total_metrics"`
	MetricsSince      int64   `db:"metrics_since"`
	AvgResponseTimeMs float64 `db:"avg_response_time_ms"`
	ErrorCount        int64   `db:"error_count"`
}

// ProjectStats returns key and traffic counts for a project. since bounds
// the recent-traffic counter.
func (s *Store) ProjectStats(ctx context.Context, projectID string, since time.Time) (*model.ProjectStats, error) {
	const q = `SELECT
		(SELECT COUNT(*) FROM api_keys WHERE project_id = ?) AS total_api_keys,
		(SELECT COUNT(*) FROM api_keys WHERE project_id = ? AND is_active = ?) AS active_api_keys,
		(SELECT COUNT(*) FROM metrics WHERE project_id = ?) AS total_metrics,
		(SELECT COUNT(*) FROM metrics WHERE project_id = ? AND timestamp >= ?) AS metrics_since,
		(SELECT COALESCE(AVG(response_time_ms), 0) FROM metrics WHERE project_id = ?) AS avg_response_time_ms,
		(SELECT COUNT(*) FROM metrics WHERE project_id = ? AND response_status_code >= 400) AS error_count`

	var row projectStatsRow
	err := s.inReadTx(ctx, func(tx *sqlx.Tx) error {
		return tx.GetContext(ctx, &row, s.rebind(q),
			projectID, projectID, true, projectID, projectID, utc(since), projectID, projectID)
	})
	if err != nil {
		return nil, fmt.Errorf("project stats: %w", err)
	}

	stats := &model.ProjectStats{
		TotalAPIKeys:      row.TotalAPIKeys,
		ActiveAPIKeys:     row.ActiveAPIKeys,
		TotalMetrics:      row.TotalMetrics,
		MetricsLast24h:    row.MetricsSince,
		AvgResponseTimeMs: round2(row.AvgResponseTimeMs),
	}
	if row.TotalMetrics > 0 {
		stats.ErrorRatePercent = round2(float64(row.ErrorCount) / float64(row.TotalMetrics) * 100)
	}
	return stats, nil
}
