package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pulsemetrics/pulse/internal/config"
	"github.com/pulsemetrics/pulse/internal/connector"
	"github.com/pulsemetrics/pulse/internal/connector/sqlite"
	"github.com/pulsemetrics/pulse/internal/model"
	"github.com/pulsemetrics/pulse/internal/service"
	"github.com/pulsemetrics/pulse/internal/store"
)

type testEnv struct {
	server   *MCPServer
	metrics  *service.MetricService
	projects *service.ProjectService
	project  *model.CreatedProject
	other    *model.CreatedProject
}

// newTestEnv builds an MCP server bound to one user who owns a project with
// three tracked requests. A second user owns a project the first must not
// see.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conn := sqlite.New()
	if err := conn.Connect(connector.ConnectionConfig{Driver: "sqlite", DSN: ":memory:"}); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st, err := store.New(conn)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	logger := slog.New(slog.DiscardHandler)
	passwords, err := service.NewPasswordHasher(config.Argon2Config{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewPasswordHasher: %v", err)
	}
	creds := service.NewCredentials("mcp-test-secret", cfg.APIKeys)
	auth := service.NewAuthService(st, creds, passwords, "mcp-test-secret", time.Hour, nil, logger)
	keys := service.NewAPIKeyService(st, creds, cfg.APIKeys)
	projects := service.NewProjectService(st, keys)
	metrics := service.NewMetricService(st, creds, nil, cfg.Metrics, nil, logger)
	t.Cleanup(func() {
		auth.Wait()
		metrics.Wait()
	})

	ctx := context.Background()
	owner, err := auth.Register(ctx, "owner@example.com", "long enough password", "Owner")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	stranger, err := auth.Register(ctx, "stranger@example.com", "long enough password", "Stranger")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	project, err := projects.Create(ctx, owner.ID, "Shop", "storefront")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	other, err := projects.Create(ctx, stranger.ID, "Secret", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Minute)
	for i, in := range []model.MetricInput{
		{URLPath: "/users", Method: "GET", ResponseStatusCode: 200, ResponseTimeMs: 50},
		{URLPath: "/users", Method: "GET", ResponseStatusCode: 500, ResponseTimeMs: 500},
		{URLPath: "/orders", Method: "POST", ResponseStatusCode: 201, ResponseTimeMs: 150},
	} {
		ts := base.Add(time.Duration(i) * time.Minute)
		in.Timestamp = &ts
		if _, err := metrics.Track(ctx, project.ID, in); err != nil {
			t.Fatalf("Track: %v", err)
		}
	}

	return &testEnv{
		server:   NewMCPServer(projects, metrics, owner.ID, "test", logger),
		metrics:  metrics,
		projects: projects,
		project:  project,
		other:    other,
	}
}

func window() map[string]interface{} {
	now := time.Now().UTC()
	return map[string]interface{}{
		"start_date": now.Add(-2 * time.Hour).Format(time.RFC3339),
		"end_date":   now.Format(time.RFC3339),
	}
}

func withArgs(base map[string]interface{}, kv ...interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range base {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("content type = %T, want TextContent", res.Content[0])
	}
	return tc.Text
}

func callOK(t *testing.T, handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), req mcp.CallToolRequest, v interface{}) {
	t.Helper()
	res, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("%s: %v", req.Params.Name, err)
	}
	text := resultText(t, res)
	if res.IsError {
		t.Fatalf("%s returned tool error: %s", req.Params.Name, text)
	}
	if err := json.Unmarshal([]byte(text), v); err != nil {
		t.Fatalf("decode %s result: %v", req.Params.Name, err)
	}
}

func TestListProjectsOnlyOwned(t *testing.T) {
	env := newTestEnv(t)

	var items []map[string]interface{}
	callOK(t, env.server.handleListProjects, newRequest("pulse_list_projects", nil), &items)
	if len(items) != 1 {
		t.Fatalf("got %d projects, want 1", len(items))
	}
	if items[0]["project_key"] != env.project.ProjectKey {
		t.Errorf("project_key = %v, want %s", items[0]["project_key"], env.project.ProjectKey)
	}
}

func TestSummaryTool(t *testing.T) {
	env := newTestEnv(t)

	var summary model.Summary
	args := withArgs(window(), "project_key", env.project.ProjectKey)
	callOK(t, env.server.handleSummary, newRequest("pulse_metrics_summary", args), &summary)

	if summary.RequestCount != 3 || summary.ErrorCount != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.ErrorRate != 33.33 {
		t.Errorf("error_rate = %v, want 33.33", summary.ErrorRate)
	}
}

func TestTimeSeriesTool(t *testing.T) {
	env := newTestEnv(t)

	var page model.Page[model.TimeSeriesPoint]
	args := withArgs(window(), "project_key", env.project.ProjectKey, "granularity", "minute", "page_size", float64(2))
	callOK(t, env.server.handleTimeSeries, newRequest("pulse_metrics_time_series", args), &page)

	if page.Total != 3 || len(page.Items) != 2 || page.PageSize != 2 {
		t.Errorf("page = %+v", page)
	}
}

func TestEndpointStatsTool(t *testing.T) {
	env := newTestEnv(t)

	var page model.Page[model.EndpointStats]
	args := withArgs(window(), "project_key", env.project.ProjectKey)
	callOK(t, env.server.handleEndpointStats, newRequest("pulse_endpoint_stats", args), &page)

	if len(page.Items) != 2 {
		t.Fatalf("got %d endpoints, want 2", len(page.Items))
	}
	if page.Items[0].Method != "GET" || page.Items[1].Method != "POST" {
		t.Errorf("endpoints not sorted by method: %+v", page.Items)
	}
}

func TestListMetricsTool(t *testing.T) {
	env := newTestEnv(t)

	var list []model.Metric
	args := map[string]interface{}{"project_key": env.project.ProjectKey, "limit": float64(2)}
	callOK(t, env.server.handleListMetrics, newRequest("pulse_list_metrics", args), &list)
	if len(list) != 2 {
		t.Errorf("got %d metrics, want 2", len(list))
	}
}

func TestToolErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]interface{}
		want    string
	}{
		{"missing project key", env.server.handleSummary, nil, "project_key"},
		{"foreign project", env.server.handleSummary, map[string]interface{}{"project_key": env.other.ProjectKey}, "Project not found"},
		{"bad granularity", env.server.handleTimeSeries, map[string]interface{}{"project_key": env.project.ProjectKey, "granularity": "week"}, "granularity"},
		{"bad date", env.server.handleEndpointStats, map[string]interface{}{"project_key": env.project.ProjectKey, "start_date": "yesterday"}, "start_date"},
		{"limit too large", env.server.handleListMetrics, map[string]interface{}{"project_key": env.project.ProjectKey, "limit": float64(5000)}, "limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.handler(context.Background(), newRequest("x", tt.args))
			if err != nil {
				t.Fatalf("handler returned protocol error: %v", err)
			}
			if !res.IsError {
				t.Fatal("expected tool error")
			}
			if text := resultText(t, res); !strings.Contains(text, tt.want) {
				t.Errorf("error text = %q, want it to mention %q", text, tt.want)
			}
		})
	}
}

func TestProjectResource(t *testing.T) {
	env := newTestEnv(t)

	req := mcp.ReadResourceRequest{}
	req.Params.URI = projectURIPrefix + env.project.ProjectKey
	contents, err := env.server.handleProjectResource(context.Background(), req)
	if err != nil {
		t.Fatalf("handleProjectResource: %v", err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("contents type = %T", contents[0])
	}
	var detail model.ProjectDetail
	if err := json.Unmarshal([]byte(text.Text), &detail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if detail.Stats.TotalMetrics != 3 {
		t.Errorf("total_metrics = %d, want 3", detail.Stats.TotalMetrics)
	}

	req.Params.URI = projectURIPrefix + env.other.ProjectKey
	if _, err := env.server.handleProjectResource(context.Background(), req); err == nil {
		t.Error("expected error reading another user's project")
	}
}

func TestToolsListed(t *testing.T) {
	env := newTestEnv(t)

	msg := env.server.Server().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	b, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, name := range []string{
		"pulse_list_projects",
		"pulse_metrics_summary",
		"pulse_metrics_time_series",
		"pulse_endpoint_stats",
		"pulse_list_metrics",
	} {
		if !strings.Contains(string(b), name) {
			t.Errorf("tools/list missing %s", name)
		}
	}
}
