package model

import (
	"fmt"
	"time"
)

// Granularity selects the bucket width of a time series.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// ParseGranularity accepts "", "minute", "hour" or "day". Empty means minute.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case "", GranularityMinute:
		return GranularityMinute, nil
	case GranularityHour:
		return GranularityHour, nil
	case GranularityDay:
		return GranularityDay, nil
	}
	return "", fmt.Errorf("granularity must be one of minute, hour, day (got %q)", s)
}

// Truncate floors t to the start of its bucket in UTC.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(time.Minute)
	}
}

// MetricQuery is a validated aggregation window. Start is floored to the
// minute and End is the last instant of its minute.
type MetricQuery struct {
	Start       time.Time
	End         time.Time
	Granularity Granularity
	Page        int
	PageSize    int
}

// Offset returns the number of grouped rows to skip.
func (q MetricQuery) Offset() int {
	return (q.Page - 1) * q.PageSize
}

// Summary holds statistics over every metric in a window.
type Summary struct {
	RequestCount      int64   `json:"request_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	RequestsPerMinute float64 `json:"requests_per_minute"`
	ErrorCount        int64   `json:"error_count"`
	ErrorRate         float64 `json:"error_rate"`
	SlowestRequestMs  float64 `json:"slowest_request_ms"`
	FastestRequestMs  float64 `json:"fastest_request_ms"`
}

// TimeSeriesPoint is one non-empty bucket of a time series.
type TimeSeriesPoint struct {
	Timestamp         time.Time `json:"timestamp"`
	RequestCount      int64     `json:"request_count"`
	AvgResponseTimeMs float64   `json:"avg_response_time_ms"`
	ErrorCount        int64     `json:"error_count"`
}

// EndpointStats holds the summary statistics of one (method, url_path) pair.
type EndpointStats struct {
	Method            string  `json:"method"`
	URLPath           string  `json:"url_path"`
	RequestCount      int64   `json:"request_count"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	ErrorCount        int64   `json:"error_count"`
	ErrorRate         float64 `json:"error_rate"`
	SlowestRequestMs  float64 `json:"slowest_request_ms"`
	FastestRequestMs  float64 `json:"fastest_request_ms"`
}

// Page is one page of grouped aggregation rows plus the grouped total.
type Page[T any] struct {
	Items    []T   `json:"items"`
	Page     int   `json:"page"`
	PageSize int   `json:"page_size"`
	Total    int64 `json:"total"`
}
