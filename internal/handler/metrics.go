package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pulsemetrics/pulse/internal/apperr"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/server/middleware"
	"github.com/pulsemetrics/pulse/internal/service"
)

// MetricHandler serves ingestion and the aggregation read endpoints.
type MetricHandler struct {
	metrics  *service.MetricService
	projects *service.ProjectService
	logger   *slog.Logger
}

// NewMetricHandler creates a new MetricHandler.
func NewMetricHandler(metrics *service.MetricService, projects *service.ProjectService, logger *slog.Logger) *MetricHandler {
	return &MetricHandler{metrics: metrics, projects: projects, logger: logger}
}

// Track stores one observation for the project of the calling API key.
// POST /api/v1/track
func (h *MetricHandler) Track(w http.ResponseWriter, r *http.Request) {
	key := middleware.GetAPIKey(r.Context())
	if key == nil {
		writeAppError(w, r, h.logger, apperr.Unauthorized("API key required"))
		return
	}
	var in model.MetricInput
	if err := readJSON(w, r, &in); err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	m, err := h.metrics.Track(r.Context(), key.ProjectID, in)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *MetricHandler) projectID(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := ownerID(w, r, h.logger)
	if !ok {
		return "", false
	}
	p, err := h.projects.Get(r.Context(), owner, chi.URLParam(r, "projectKey"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return "", false
	}
	return p.ID, true
}

func (h *MetricHandler) query(w http.ResponseWriter, r *http.Request) (model.MetricQuery, bool) {
	q, err := h.metrics.ParseQuery(service.MetricQueryParams{
		StartDate:   queryString(r, "start_date"),
		EndDate:     queryString(r, "end_date"),
		Granularity: queryString(r, "granularity"),
		Page:        queryString(r, "page"),
		PageSize:    queryString(r, "page_size"),
	})
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return model.MetricQuery{}, false
	}
	return q, true
}

// ListMetrics returns raw metrics in insertion order.
// GET /api/v1/projects/{projectKey}/metrics?skip&limit
func (h *MetricHandler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	offset, limit, err := service.ParseListParams(queryString(r, "skip"), queryString(r, "limit"))
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	list, err := h.metrics.List(r.Context(), projectID, offset, limit)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse[model.Metric]{
		Resource: list,
		Meta:     &model.ResponseMeta{Count: len(list), Limit: limit, Offset: offset},
	})
}

// Summary returns window-wide statistics.
// GET /api/v1/projects/{projectKey}/metrics/summary
func (h *MetricHandler) Summary(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	s, err := h.metrics.Summary(r.Context(), projectID, q)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// TimeSeries returns one page of non-empty buckets.
// GET /api/v1/projects/{projectKey}/metrics/time-series
func (h *MetricHandler) TimeSeries(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.metrics.TimeSeries(r.Context(), projectID, q)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// Endpoints returns one page of per-endpoint statistics.
// GET /api/v1/projects/{projectKey}/metrics/endpoints
func (h *MetricHandler) Endpoints(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.projectID(w, r)
	if !ok {
		return
	}
	q, ok := h.query(w, r)
	if !ok {
		return
	}
	page, err := h.metrics.EndpointStats(r.Context(), projectID, q)
	if err != nil {
		writeAppError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}
