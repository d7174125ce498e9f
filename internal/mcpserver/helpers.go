package mcpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/swamp-dev/conductor/internal/assembler"
	"github.com/swamp-dev/conductor/internal/store"
)

// env is shared by every tool.
type env struct {
	store          store.Backend
	defaultProject string
	assembler      assembler.Options
	logger         *slog.Logger
}

func projectParam() mcp.ToolOption {
	return mcp.WithString("project",
		mcp.Description("Project name. Defaults to the configured project."),
	)
}

// project resolves the project argument. A non-nil result is an error to
// return to the client as is.
func (e *env) project(req mcp.CallToolRequest) (*store.Project, *mcp.CallToolResult) {
	name := strings.TrimSpace(req.GetString("project", ""))
	if name == "" {
		name = e.defaultProject
	}
	if name == "" {
		return nil, mcp.NewToolResultError("'project' is required (no default project configured)")
	}
	p, err := e.store.GetProjectByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, mcp.NewToolResultError(fmt.Sprintf("project %q not found", name))
	}
	if err != nil {
		return nil, mcp.NewToolResultError(fmt.Sprintf("failed to load project: %v", err))
	}
	return p, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
