package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/service"
)

const dateHelp = "RFC 3339 timestamp with offset (e.g. 2025-03-01T00:00:00Z). Defaults to the current UTC day."

// registerTools registers all Pulse MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery -----

	srv.AddTool(
		mcp.NewTool("pulse_list_projects",
			mcp.WithDescription(
				"List the projects you own with their project keys. Use this first: "+
					"every other tool takes a project_key.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
		),
		s.handleListProjects,
	)

	// ----- Aggregations -----

	srv.AddTool(
		mcp.NewTool("pulse_metrics_summary",
			mcp.WithDescription(
				"Summary statistics of a project's API traffic over a time window: request "+
					"count, average latency, requests per minute, error count and rate, slowest "+
					"and fastest request.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			projectKeyArg(),
			mcp.WithString("start_date", mcp.Description("Window start. "+dateHelp)),
			mcp.WithString("end_date", mcp.Description("Window end. "+dateHelp)),
		),
		s.handleSummary,
	)

	srv.AddTool(
		mcp.NewTool("pulse_metrics_time_series",
			mcp.WithDescription(
				"Request count, average latency and error count per time bucket. Empty "+
					"buckets are omitted. Results are paginated.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			projectKeyArg(),
			mcp.WithString("start_date", mcp.Description("Window start. "+dateHelp)),
			mcp.WithString("end_date", mcp.Description("Window end. "+dateHelp)),
			mcp.WithString("granularity",
				mcp.Description("Bucket width"),
				mcp.Enum("minute", "hour", "day"),
			),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Buckets per page")),
		),
		s.handleTimeSeries,
	)

	srv.AddTool(
		mcp.NewTool("pulse_endpoint_stats",
			mcp.WithDescription(
				"Per-endpoint statistics (method and path) over a time window, sorted by "+
					"method then path. Results are paginated.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			projectKeyArg(),
			mcp.WithString("start_date", mcp.Description("Window start. "+dateHelp)),
			mcp.WithString("end_date", mcp.Description("Window end. "+dateHelp)),
			mcp.WithNumber("page", mcp.Description("Page number, starting at 1")),
			mcp.WithNumber("page_size", mcp.Description("Endpoints per page")),
		),
		s.handleEndpointStats,
	)

	// ----- Raw data -----

	srv.AddTool(
		mcp.NewTool("pulse_list_metrics",
			mcp.WithDescription(
				"Raw recorded requests of a project in insertion order. Client IPs are "+
					"only available as keyed hashes.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			projectKeyArg(),
			mcp.WithNumber("skip", mcp.Description("Rows to skip (default 0)")),
			mcp.WithNumber("limit", mcp.Description("Rows to return (default 100, max 1000)")),
		),
		s.handleListMetrics,
	)
}

func projectKeyArg() mcp.ToolOption {
	return mcp.WithString("project_key",
		mcp.Required(),
		mcp.Description("Project key as returned by pulse_list_projects"),
	)
}

// projectID resolves the project_key argument for the bound user.
func (s *MCPServer) projectID(ctx context.Context, request mcp.CallToolRequest) (string, error) {
	key, err := requireString(request, "project_key")
	if err != nil {
		return "", err
	}
	p, err := s.projects.Get(ctx, s.ownerID, key)
	if err != nil {
		return "", err
	}
	return p.ID, nil
}

func (s *MCPServer) windowQuery(request mcp.CallToolRequest) (model.MetricQuery, error) {
	return s.metrics.ParseQuery(service.MetricQueryParams{
		StartDate:   optionalString(request, "start_date"),
		EndDate:     optionalString(request, "end_date"),
		Granularity: optionalString(request, "granularity"),
		Page:        optionalIntString(request, "page"),
		PageSize:    optionalIntString(request, "page_size"),
	})
}

// handleListProjects returns the bound user's projects.
func (s *MCPServer) handleListProjects(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	projects, err := s.projects.List(ctx, s.ownerID)
	if err != nil {
		return s.serviceError(ctx, "pulse_list_projects", err)
	}

	type projectInfo struct {
		ProjectKey  string `json:"project_key"`
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		IsActive    bool   `json:"is_active"`
	}

	items := make([]projectInfo, len(projects))
	for i, p := range projects {
		items[i] = projectInfo{
			ProjectKey:  p.ProjectKey,
			Name:        p.Name,
			Description: p.Description,
			IsActive:    p.IsActive,
		}
	}
	return successJSON(items)
}

func (s *MCPServer) handleSummary(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	projectID, err := s.projectID(ctx, request)
	if err != nil {
		return s.serviceError(ctx, "pulse_metrics_summary", err)
	}
	q, err := s.windowQuery(request)
	if err != nil {
		return s.serviceError(ctx, "pulse_metrics_summary", err)
	}
	summary, err := s.metrics.Summary(ctx, projectID, q)
	if err != nil {
		return s.serviceError(ctx, "pulse_metrics_summary", err)
	}
	return successJSON(summary)
}

func (s *MCPServer) handleTimeSeries(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	projectID, err := s.projectID(ctx, request)
	if err != nil {
		return s.serviceError(ctx, "pulse_metrics_time_series", err)
	}
	q, err := s.windowQuery(request)
	if err != nil {
		return s.serviceError(ctx, "pulse_metrics_time_series", err)
	}
	page, err := s.metrics.TimeSeries(ctx, projectID, q)
	if err != nil {
		return s.serviceError(ctx, "pulse_metrics_time_series", err)
	}
	return successJSON(page)
}

func (s *MCPServer) handleEndpointStats(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	projectID, err := s.projectID(ctx, request)
	if err != nil {
		return s.serviceError(ctx, "pulse_endpoint_stats", err)
	}
	q, err := s.windowQuery(request)
	if err != nil {
		return s.serviceError(ctx, "pulse_endpoint_stats", err)
	}
	page, err := s.metrics.EndpointStats(ctx, projectID, q)
	if err != nil {
		return s.serviceError(ctx, "pulse_endpoint_stats", err)
	}
	return successJSON(page)
}

func (s *MCPServer) handleListMetrics(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	projectID, err := s.projectID(ctx, request)
	if err != nil {
		return s.serviceError(ctx, "pulse_list_metrics", err)
	}
	offset, limit, err := service.ParseListParams(optionalIntString(request, "skip"), optionalIntString(request, "limit"))
	if err != nil {
		return s.serviceError(ctx, "pulse_list_metrics", err)
	}
	list, err := s.metrics.List(ctx, projectID, offset, limit)
	if err != nil {
		return s.serviceError(ctx, "pulse_list_metrics", err)
	}
	return successJSON(list)
}
