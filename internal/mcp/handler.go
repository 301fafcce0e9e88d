package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/pulsemetrics/pulse/internal/apperr"
)

// --------------------------------------------------------------------------
// Parameter extraction helpers
// --------------------------------------------------------------------------

// requireString extracts a required string argument from the tool request.
func requireString(request mcp.CallToolRequest, key string) (string, error) {
	val, err := request.RequireString(key)
	if err != nil || val == "" {
		return "", apperr.Validationf("missing required parameter %q", key)
	}
	return val, nil
}

// optionalString extracts an optional string argument from the tool request.
func optionalString(request mcp.CallToolRequest, key string) string {
	return request.GetString(key, "")
}

// optionalIntString returns an integer argument formatted for the query
// parsers, or "" when the argument is absent so the parser's default
// applies.
func optionalIntString(request mcp.CallToolRequest, key string) string {
	args := request.GetArguments()
	if args == nil {
		return ""
	}
	if _, ok := args[key]; !ok {
		return ""
	}
	return strconv.Itoa(request.GetInt(key, 0))
}

// --------------------------------------------------------------------------
// Response builders
// --------------------------------------------------------------------------

// successJSON marshals data to JSON and returns it as a tool result.
func successJSON(data interface{}) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// toolError returns a tool-level error result. Errors returned this way are
// visible to the LLM so it can self-correct; they do NOT terminate the MCP
// session.
func toolError(format string, args ...interface{}) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(fmt.Sprintf(format, args...)), nil
}

// serviceError turns a service error into a tool error. Internal causes are
// logged and replaced by the generic message.
func (s *MCPServer) serviceError(ctx context.Context, tool string, err error) (*mcp.CallToolResult, error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		s.logger.ErrorContext(ctx, "mcp tool failed", "tool", tool, "error", err)
	}
	return toolError("%s", apperr.Message(err))
}
