package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	// MaxResponseTimeMs bounds a single observation to two minutes.
	MaxResponseTimeMs = 120_000
	// MaxURLPathLength keeps url_path indexable on every supported backend.
	MaxURLPathLength = 768
)

// Metric is one recorded observation of an HTTP request. The client IP is
// never stored; IPHash holds a keyed digest of it.
type Metric struct {
	ID                 string    `json:"id" db:"id"`
	ProjectID          string    `json:"project_id" db:"project_id"`
	URLPath            string    `json:"url_path" db:"url_path"`
	Method             string    `json:"method" db:"method"`
	ResponseStatusCode int       `json:"response_status_code" db:"response_status_code"`
	ResponseTimeMs     float64   `json:"response_time_ms" db:"response_time_ms"`
	Timestamp          time.Time `json:"timestamp" db:"timestamp"`
	UserAgent          *string   `json:"user_agent,omitempty" db:"user_agent"`
	IPHash             *string   `json:"ip_hash,omitempty" db:"ip_hash"`
}

// MetricInput is the payload accepted by the ingestion endpoint.
type MetricInput struct {
	URLPath            string     `json:"url_path"`
	Method             string     `json:"method"`
	ResponseStatusCode int        `json:"response_status_code"`
	ResponseTimeMs     float64    `json:"response_time_ms"`
	UserAgent          *string    `json:"user_agent,omitempty"`
	IP                 *string    `json:"ip,omitempty"`
	Timestamp          *time.Time `json:"timestamp,omitempty"`
}

var httpMethods = map[string]bool{
	"CONNECT": true,
	"DELETE":  true,
	"GET":     true,
	"HEAD":    true,
	"OPTIONS": true,
	"PATCH":   true,
	"POST":    true,
	"PUT":     true,
	"TRACE":   true,
}

// NormalizeMethod upper-cases m and checks it is a standard HTTP verb.
func NormalizeMethod(m string) (string, error) {
	up := strings.ToUpper(strings.TrimSpace(m))
	if !httpMethods[up] {
		return "", fmt.Errorf("method %q is not a standard HTTP method", m)
	}
	return up, nil
}

// NormalizeURLPath strips trailing slashes from p. The root path stays "/".
func NormalizeURLPath(p string) (string, error) {
	if !strings.HasPrefix(p, "/") {
		return "", errors.New("url_path must start with '/'")
	}
	n := strings.TrimRight(p, "/")
	if n == "" {
		n = "/"
	}
	if len(n) > MaxURLPathLength {
		return "", fmt.Errorf("url_path must be at most %d characters", MaxURLPathLength)
	}
	return n, nil
}

// ValidateStatusCode checks c is in the HTTP status range.
func ValidateStatusCode(c int) error {
	if c < 100 || c > 599 {
		return fmt.Errorf("response_status_code %d is not a valid HTTP status", c)
	}
	return nil
}

// ValidateResponseTime checks ms is within [0, MaxResponseTimeMs].
func ValidateResponseTime(ms float64) error {
	if math.IsNaN(ms) || ms < 0 || ms > MaxResponseTimeMs {
		return fmt.Errorf("response_time_ms must be between 0 and %d", MaxResponseTimeMs)
	}
	return nil
}

// IsError reports whether status counts as an error response.
func IsError(status int) bool {
	return status >= 400
}
