package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pulsemetrics/pulse/internal/service"
)

// MCPServer wraps the mcp-go server with Pulse's analytics tools and
// resources. Every tool acts on behalf of one user and only sees the
// projects that user owns.
type MCPServer struct {
	projects *service.ProjectService
	metrics  *service.MetricService
	ownerID  string
	logger   *slog.Logger
	server   *server.MCPServer
}

const instructions = `Pulse records one metric per HTTP request that client services handle.
Start with pulse_list_projects to find a project_key. Time windows use RFC 3339
timestamps with an offset (start_date, end_date), default to the current UTC day
and may span at most the configured maximum number of days.`

// NewMCPServer creates an MCPServer pre-loaded with all Pulse tools and
// resources. The returned server is ready to serve over stdio or HTTP.
func NewMCPServer(projects *service.ProjectService, metrics *service.MetricService, ownerID, version string, logger *slog.Logger) *MCPServer {
	s := &MCPServer{
		projects: projects,
		metrics:  metrics,
		ownerID:  ownerID,
		logger:   logger,
	}

	mcpServer := server.NewMCPServer(
		"Pulse API Analytics",
		version,
		server.WithResourceCapabilities(true, false),
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	s.registerTools(mcpServer)
	s.registerResources(mcpServer)

	s.server = mcpServer
	return s
}

// Server returns the underlying mcp-go MCPServer instance. Useful for
// advanced configuration or testing.
func (s *MCPServer) Server() *server.MCPServer {
	return s.server
}

// ServeStdio starts the MCP server in stdio mode, the integration path for
// clients that launch the server as a subprocess.
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server in stdio mode")
	return server.ServeStdio(s.server)
}

// ServeHTTP starts the MCP server in Streamable HTTP mode, listening on
// the given address (e.g. ":3001"). This is suitable for remote MCP clients.
func (s *MCPServer) ServeHTTP(addr string) error {
	httpServer := server.NewStreamableHTTPServer(s.server)
	s.logger.Info("MCP HTTP server starting", "addr", addr)
	return httpServer.Start(addr)
}

// readOnlyAnnotation marks a tool as free of side effects.
func readOnlyAnnotation() mcp.ToolAnnotation {
	return mcp.ToolAnnotation{
		ReadOnlyHint:   boolPtr(true),
		IdempotentHint: boolPtr(true),
	}
}

func boolPtr(b bool) *bool {
	return &b
}
