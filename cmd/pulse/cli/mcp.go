package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	pmcp "github.com/pulsemetrics/pulse/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		transport string
		addr      string
		user      string
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start the MCP server for AI agents",
		Long: `Start a Model Context Protocol (MCP) server that exposes one user's projects and
their analytics as read-only tools for AI agents. Supports stdio (default) and HTTP
transports.

In stdio mode, the MCP server communicates over stdin/stdout using JSON-RPC,
suitable for clients that launch the server as a subprocess.

In HTTP mode, the server listens on --addr using the streamable HTTP transport.`,
		Example: `  pulse mcp --user ops@example.com
  pulse mcp --user ops@example.com --transport http --addr :3001`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCP(cmd, transport, addr, user)
		},
	}

	cmd.Flags().StringVar(&transport, "transport", "stdio", "Transport mode: stdio or http")
	cmd.Flags().StringVar(&addr, "addr", ":3001", "HTTP listen address (only used with --transport http)")
	cmd.Flags().StringVar(&user, "user", "", "Email of the user whose projects are exposed (required)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runMCP(cmd *cobra.Command, transport, addr, user string) error {
	if transport != "stdio" && transport != "http" {
		return fmt.Errorf("unsupported transport %q; use 'stdio' or 'http'", transport)
	}

	// stdout carries the protocol in stdio mode, so logs always go to stderr.
	a, err := openApp(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	owner, err := a.userByEmail(context.Background(), user)
	if err != nil {
		return err
	}
	if !owner.IsActive {
		return fmt.Errorf("user %s is deactivated", owner.Email)
	}

	mcpSrv := pmcp.NewMCPServer(a.projects, a.metrics, owner.ID, versionString(), a.logger)

	switch transport {
	case "http":
		return mcpSrv.ServeHTTP(addr)
	default:
		return mcpSrv.ServeStdio()
	}
}
