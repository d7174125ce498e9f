// Package mcpserver exposes the scope and progress engine as Model Context
// Protocol tools over stdio.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/swamp-dev/conductor/internal/assembler"
	"github.com/swamp-dev/conductor/internal/store"
)

const serverName = "conductor"

// Options configures the server.
type Options struct {
	Version string
	// DefaultProject is used when a tool call omits the project argument.
	DefaultProject string
	Assembler      assembler.Options
}

// Tool is one registered MCP tool.
type Tool interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Tools returns every tool backed by b.
func Tools(b store.Backend, opts Options, logger *slog.Logger) []Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &env{store: b, defaultProject: opts.DefaultProject, assembler: opts.Assembler, logger: logger}
	return []Tool{
		&ScopeCheckTool{e},
		&AddTaskTool{e},
		&UpdateTaskTool{e},
		&NextActionTool{e},
		&ProjectContextTool{e},
		&ProjectReportTool{e},
		&RecommendationsTool{e},
		&AddLearningTool{e},
	}
}

// New creates an MCP server with all conductor tools registered.
func New(b store.Backend, opts Options, logger *slog.Logger) *server.MCPServer {
	version := opts.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		serverName,
		version,
		server.WithToolCapabilities(true),
	)
	for _, t := range Tools(b, opts, logger) {
		s.AddTool(t.Definition(), t.Handle)
	}
	return s
}

// Serve runs s on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
