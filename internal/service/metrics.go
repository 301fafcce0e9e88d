package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/cache"
	"github.com/pulsemetrics/pulse/internal/config"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/store"
	"github.com/pulsemetrics/pulse/internal/telemetry"
)

const (
	aggSummary    = "summary"
	aggTimeSeries = "time_series"
	aggEndpoints  = "endpoints"

	backgroundTrackTimeout = 10 * time.Second
)

// AggregateCache stores aggregation results for a short time. Get reports a
// miss with found == false and a nil error.
type AggregateCache interface {
	Get(ctx context.Context, key string, dest interface{}) (found bool, err error)
	Set(ctx context.Context, key string, value interface{}) error
}

// MetricService records metrics and answers aggregation queries.
type MetricService struct {
	store   *store.Store
	creds   *Credentials
	cache   AggregateCache
	metrics *telemetry.Metrics
	logger  *slog.Logger
	retry   RetryPolicy
	now     func() time.Time

	maxWindow       time.Duration
	defaultPageSize int
	maxPageSize     int

	background sync.WaitGroup
}

// NewMetricService wires a MetricService. aggCache may be nil to disable
// caching.
func NewMetricService(st *store.Store, creds *Credentials, aggCache AggregateCache, cfg config.MetricsConfig, metrics *telemetry.Metrics, logger *slog.Logger) *MetricService {
	s := &MetricService{
		store:           st,
		creds:           creds,
		cache:           aggCache,
		metrics:         metrics,
		logger:          logger,
		retry:           DefaultRetryPolicy(),
		now:             time.Now,
		maxWindow:       time.Duration(cfg.MaxWindowDays) * 24 * time.Hour,
		defaultPageSize: cfg.DefaultPageSize,
		maxPageSize:     cfg.MaxPageSize,
	}
	s.retry.OnRetry = func(err error, wait time.Duration) {
		metrics.Retried()
		logger.Warn("retrying metric insert", "error", err, "backoff", wait)
	}
	return s
}

// SetRetryPolicy replaces the insert retry policy, keeping the retry hook.
func (s *MetricService) SetRetryPolicy(p RetryPolicy) {
	hook := s.retry.OnRetry
	s.retry = p
	if s.retry.OnRetry == nil {
		s.retry.OnRetry = hook
	}
}

// ---------------------------------------------------------------------------
// Ingestion
// ---------------------------------------------------------------------------

// Track validates one observation and stores it for projectID. The raw IP
// is replaced by its keyed hash. Transient storage failures are retried.
func (s *MetricService) Track(ctx context.Context, projectID string, in model.MetricInput) (*model.Metric, error) {
	m, err := s.buildMetric(projectID, in)
	if err != nil {
		s.metrics.Ingested(telemetry.ResultFailure)
		return nil, err
	}

	err = Retry(ctx, s.retry, func(ctx context.Context) error {
		m.ID = ""
		return storeError(s.store.InsertMetric(ctx, m), msgProjectNotFound)
	})
	if err != nil {
		s.metrics.Ingested(telemetry.ResultFailure)
		return nil, err
	}
	s.metrics.Ingested(telemetry.ResultSuccess)
	if model.IsError(m.ResponseStatusCode) {
		s.metrics.TrackedError()
	}
	return m, nil
}

// TrackAsync records a metric in the background. Errors are logged.
func (s *MetricService) TrackAsync(ctx context.Context, projectID string, in model.MetricInput) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTrackTimeout)
		defer cancel()
		if _, err := s.Track(bg, projectID, in); err != nil {
			s.logger.WarnContext(bg, "failed to record request metric", "project_id", projectID, "error", err)
		}
	}()
}

// Wait blocks until background inserts have finished.
func (s *MetricService) Wait() {
	s.background.Wait()
}

func (s *MetricService) buildMetric(projectID string, in model.MetricInput) (*model.Metric, error) {
	path, err := model.NormalizeURLPath(in.URLPath)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	method, err := model.NormalizeMethod(in.Method)
	if err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := model.ValidateStatusCode(in.ResponseStatusCode); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := model.ValidateResponseTime(in.ResponseTimeMs); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	m := &model.Metric{
		ProjectID:          projectID,
		URLPath:            path,
		Method:             method,
		ResponseStatusCode: in.ResponseStatusCode,
		ResponseTimeMs:     in.ResponseTimeMs,
		UserAgent:          in.UserAgent,
	}
	if in.Timestamp != nil {
		m.Timestamp = in.Timestamp.UTC()
	}
	if in.IP != nil && strings.TrimSpace(*in.IP) != "" {
		h := s.creds.HashIP(strings.TrimSpace(*in.IP))
		m.IPHash = &h
	}
	return m, nil
}

// List returns raw metrics of a project in insertion order.
func (s *MetricService) List(ctx context.Context, projectID string, offset, limit int) ([]model.Metric, error) {
	metrics, err := s.store.ListMetrics(ctx, projectID, offset, limit)
	if err != nil {
		return nil, storeError(err, msgProjectNotFound)
	}
	return metrics, nil
}

// ---------------------------------------------------------------------------
// Aggregation
// ---------------------------------------------------------------------------

func (s *MetricService) Summary(ctx context.Context, projectID string, q model.MetricQuery) (*model.Summary, error) {
	return cached(ctx, s, aggSummary, projectID, q, s.store.Summary)
}

func (s *MetricService) TimeSeries(ctx context.Context, projectID string, q model.MetricQuery) (*model.Page[model.TimeSeriesPoint], error) {
	return cached(ctx, s, aggTimeSeries, projectID, q, s.store.TimeSeries)
}

func (s *MetricService) EndpointStats(ctx context.Context, projectID string, q model.MetricQuery) (*model.Page[model.EndpointStats], error) {
	return cached(ctx, s, aggEndpoints, projectID, q, s.store.EndpointStats)
}

// cached serves an aggregation from the cache when possible and otherwise
// runs query and stores its result. Cache failures are counted and logged,
// never returned.
func cached[T any](ctx context.Context, s *MetricService, kind, projectID string, q model.MetricQuery,
	query func(context.Context, string, model.MetricQuery) (*T, error)) (*T, error) {
	key := aggregateKey(kind, projectID, q)
	if s.cache != nil {
		var hit T
		found, err := s.cache.Get(ctx, key, &hit)
		switch {
		case err != nil:
			s.metrics.Cache(telemetry.ResultError)
			s.logger.WarnContext(ctx, "aggregate cache read failed", "key", key, "error", err)
		case found:
			s.metrics.Cache(telemetry.ResultHit)
			return &hit, nil
		default:
			s.metrics.Cache(telemetry.ResultMiss)
		}
	}

	start := time.Now()
	result, err := query(ctx, projectID, q)
	s.metrics.ObserveAggregation(kind, start)
	if err != nil {
		return nil, storeError(err, msgProjectNotFound)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result); err != nil {
			s.metrics.Cache(telemetry.ResultError)
			s.logger.WarnContext(ctx, "aggregate cache write failed", "key", key, "error", err)
		}
	}
	return result, nil
}

func aggregateKey(kind, projectID string, q model.MetricQuery) string {
	parts := []string{
		projectID,
		kind,
		strconv.FormatInt(q.Start.Unix(), 10),
		strconv.FormatInt(q.End.Unix(), 10),
	}
	if kind != aggSummary {
		parts = append(parts, string(q.Granularity), strconv.Itoa(q.Page), strconv.Itoa(q.PageSize))
	}
	return cache.Key(parts...)
}
