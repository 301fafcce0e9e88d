package model

import "time"

// Project is the tenant boundary. Every API key and metric belongs to exactly
// one project, and ProjectKey never changes once minted.
type Project struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	ProjectKey  string    `json:"project_key" db:"project_key"`
	Description string    `json:"description" db:"description"`
	OwnerID     string    `json:"owner_id" db:"owner_id"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ProjectStats is the usage overview shown on a project's detail page.
type ProjectStats struct {
	TotalAPIKeys      int64   `json:"total_api_keys" db:"total_api_keys"`
	ActiveAPIKeys     int64   `json:"active_api_keys" db:"active_api_keys"`
	TotalMetrics      int64   `json:"total_metrics" db:"total_metrics"`
	MetricsLast24h    int64   `json:"metrics_last_24h" db:"metrics_last_24h"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms" db:"avg_response_time_ms"`
	ErrorRatePercent  float64 `json:"error_rate_percent" db:"error_rate_percent"`
}

// ProjectDetail bundles a project with its stats.
type ProjectDetail struct {
	Project
	Stats ProjectStats `json:"stats"`
}

// CreatedProject is returned once at project creation and carries the
// plaintext of the project's first API key.
type CreatedProject struct {
	Project
	APIKey IssuedAPIKey `json:"api_key"`
}
