package service

import (
	"strconv"
	"strings"
	"time"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
	minWindow        = time.Minute
)

// MetricQueryParams are the raw aggregation query parameters. Empty values
// take their defaults.
type MetricQueryParams struct {
	StartDate   string
	EndDate     string
	Granularity string
	Page        string
	PageSize    string
}

// ParseQuery validates p and returns the normalized query window. Dates must
// be RFC 3339 with an explicit offset; they default to the current UTC day.
func (s *MetricService) ParseQuery(p MetricQueryParams) (model.MetricQuery, error) {
	today := s.now().UTC()
	dayStart := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)

	start := dayStart
	end := dayStart.Add(24*time.Hour - time.Microsecond)

	var err error
	if p.StartDate != "" {
		if start, err = parseTimestamp("start_date", p.StartDate); err != nil {
			return model.MetricQuery{}, err
		}
	}
	if p.EndDate != "" {
		if end, err = parseTimestamp("end_date", p.EndDate); err != nil {
			return model.MetricQuery{}, err
		}
	}

	if end.Before(start) {
		return model.MetricQuery{}, apperr.Validation("end_date cannot be before start_date")
	}
	window := end.Sub(start)
	if window > s.maxWindow {
		return model.MetricQuery{}, apperr.Validationf("Date range must be %d days or less", int(s.maxWindow.Hours()/24))
	}
	if window < minWindow {
		return model.MetricQuery{}, apperr.Validation("Date range must be at least 1 minute")
	}

	g, err := model.ParseGranularity(strings.ToLower(p.Granularity))
	if err != nil {
		return model.MetricQuery{}, apperr.Validation(err.Error())
	}

	page, err := parseIntParam("page", p.Page, 1, 1, 0)
	if err != nil {
		return model.MetricQuery{}, err
	}
	pageSize, err := parseIntParam("page_size", p.PageSize, s.defaultPageSize, 1, s.maxPageSize)
	if err != nil {
		return model.MetricQuery{}, err
	}

	start = model.GranularityMinute.Truncate(start)
	end = model.GranularityMinute.Truncate(end).Add(time.Minute - time.Microsecond)

	return model.MetricQuery{
		Start:       start,
		End:         end,
		Granularity: g,
		Page:        page,
		PageSize:    pageSize,
	}, nil
}

// ParseListParams validates the skip and limit of a raw metric listing.
func ParseListParams(skip, limit string) (offset, n int, err error) {
	if offset, err = parseIntParam("skip", skip, 0, 0, 0); err != nil {
		return 0, 0, err
	}
	if n, err = parseIntParam("limit", limit, defaultListLimit, 1, maxListLimit); err != nil {
		return 0, 0, err
	}
	return offset, n, nil
}

func parseTimestamp(name, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, apperr.Validationf("%s must be an RFC 3339 timestamp with a timezone offset", name)
	}
	return t.UTC(), nil
}

// parseIntParam parses v, returning def when it is empty. hi <= 0 means
// unbounded.
func parseIntParam(name, v string, def, lo, hi int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validationf("%s must be an integer", name)
	}
	if n < lo || (hi > 0 && n > hi) {
		if hi > 0 {
			return 0, apperr.Validationf("%s must be between %d and %d", name, lo, hi)
		}
		return 0, apperr.Validationf("%s must be at least %d", name, lo)
	}
	return n, nil
}
