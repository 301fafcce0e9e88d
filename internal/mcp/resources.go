package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/pulsemetrics/pulse/internal/apperr"
)

const projectURIPrefix = "pulse://projects/"

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// pulse://projects/{project_key}: a project with its usage stats
	// -------------------------------------------------------------------
	srv.AddResourceTemplate(
		mcp.NewResourceTemplate(
			projectURIPrefix+"{project_key}",
			"Project Overview",
			mcp.WithTemplateDescription(
				"A project with its API key counts, metric totals, average latency "+
					"and error rate.",
			),
			mcp.WithTemplateMIMEType("application/json"),
		),
		s.handleProjectResource,
	)
}

// handleProjectResource returns the detail view of one project.
func (s *MCPServer) handleProjectResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	uri := request.Params.URI
	key := strings.TrimPrefix(uri, projectURIPrefix)
	if key == "" || key == uri {
		return nil, fmt.Errorf("invalid project URI %q: expected %s{project_key}", uri, projectURIPrefix)
	}

	detail, err := s.projects.Detail(ctx, s.ownerID, key)
	if err != nil {
		return nil, fmt.Errorf("read project %q: %s", key, apperr.Message(err))
	}

	b, err := json.MarshalIndent(detail, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal project: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
