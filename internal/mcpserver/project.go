package mcpserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/swamp-dev/conductor/internal/assembler"
	"github.com/swamp-dev/conductor/internal/journal"
	"github.com/swamp-dev/conductor/internal/monitor"
)

// ProjectContextTool handles the project_context MCP tool.
type ProjectContextTool struct {
	*env
}

// Definition returns the MCP tool definition for project_context.
func (t *ProjectContextTool) Definition() mcp.Tool {
	return mcp.NewTool("project_context",
		mcp.WithDescription(
			"Return a size-bounded summary of the project: scope, progress, "+
				"recent work and recent decisions. Call this at the start of a session.",
		),
		projectParam(),
		mcp.WithNumber("max_size",
			mcp.Description("Character budget for the summary"),
		),
	)
}

// Handle processes the project_context tool call.
func (t *ProjectContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}
	opts := t.assembler
	if n := int(req.GetFloat("max_size", 0)); n > 0 {
		opts.MaxSize = n
	}
	text, err := assembler.New(t.store, opts).Prepare(p.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to assemble context: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// ProjectReportTool handles the project_report MCP tool.
type ProjectReportTool struct {
	*env
}

// Definition returns the MCP tool definition for project_report.
func (t *ProjectReportTool) Definition() mcp.Tool {
	return mcp.NewTool("project_report",
		mcp.WithDescription(
			"Productivity report as JSON: completion, health score, velocity, "+
				"stuck indicators, scope compliance and time spent per session.",
		),
		projectParam(),
	)
}

// Handle processes the project_report tool call.
func (t *ProjectReportTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}
	report, err := monitor.New(t.store, t.logger).ProductivityReport(p.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build report: %v", err)), nil
	}
	return jsonResult(report)
}

// RecommendationsTool handles the recommendations MCP tool.
type RecommendationsTool struct {
	*env
}

// Definition returns the MCP tool definition for recommendations.
func (t *RecommendationsTool) Definition() mcp.Tool {
	return mcp.NewTool("recommendations",
		mcp.WithDescription("Actionable recommendations for getting the project unstuck."),
		projectParam(),
	)
}

// Handle processes the recommendations tool call.
func (t *RecommendationsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}
	recs, err := monitor.New(t.store, t.logger).Recommendations(p.ID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to build recommendations: %v", err)), nil
	}

	var b strings.Builder
	for _, r := range recs {
		b.WriteString("- ")
		b.WriteString(r)
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(strings.TrimSuffix(b.String(), "\n")), nil
}

// AddLearningTool handles the add_learning MCP tool.
type AddLearningTool struct {
	*env
}

// Definition returns the MCP tool definition for add_learning.
func (t *AddLearningTool) Definition() mcp.Tool {
	return mcp.NewTool("add_learning",
		mcp.WithDescription(
			"Record a decision or pattern in the project's learnings journal. "+
				"Recent learnings appear in project_context.",
		),
		projectParam(),
		mcp.WithString("pattern",
			mcp.Required(),
			mcp.Description("Short statement of the decision or pattern"),
		),
		mcp.WithString("context",
			mcp.Description("Background or rationale"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session the learning belongs to"),
		),
	)
}

// Handle processes the add_learning tool call.
func (t *AddLearningTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pattern := strings.TrimSpace(req.GetString("pattern", ""))
	if pattern == "" {
		return mcp.NewToolResultError("'pattern' is required"), nil
	}
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}

	l, err := journal.New(t.store, p.ID).Add(pattern, req.GetString("context", ""), req.GetString("session_id", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to record learning: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Recorded learning #%d: %s", l.ID, l.Pattern)), nil
}
