package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/swamp-dev/conductor/internal/scope"
	"github.com/swamp-dev/conductor/internal/store"
)

// ScopeCheckTool handles the scope_check MCP tool.
type ScopeCheckTool struct {
	*env
}

// Definition returns the MCP tool definition for scope_check.
func (t *ScopeCheckTool) Definition() mcp.Tool {
	return mcp.NewTool("scope_check",
		mcp.WithDescription(
			"Check whether a proposed task fits the project's declared scope. "+
				"Call this before starting work that was not already planned.",
		),
		projectParam(),
		mcp.WithString("task",
			mcp.Required(),
			mcp.Description("Description of the proposed task"),
		),
	)
}

// Handle processes the scope_check tool call.
func (t *ScopeCheckTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task := strings.TrimSpace(req.GetString("task", ""))
	if task == "" {
		return mcp.NewToolResultError("'task' is required"), nil
	}
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}

	v := scope.Classify(task, p.Scope)
	if v.IsCreep {
		return mcp.NewToolResultText(fmt.Sprintf("SCOPE CREEP: %s\nScope: %s", v.Reason, p.Scope)), nil
	}
	return mcp.NewToolResultText("IN SCOPE: " + v.Reason), nil
}

// AddTaskTool handles the add_task MCP tool.
type AddTaskTool struct {
	*env
}

// Definition returns the MCP tool definition for add_task.
func (t *AddTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("add_task",
		mcp.WithDescription(
			"Add a task to the project backlog. Tasks classified as scope creep "+
				"are rejected unless force is set.",
		),
		projectParam(),
		mcp.WithString("description",
			mcp.Required(),
			mcp.Description("What the task is"),
		),
		mcp.WithBoolean("force",
			mcp.Description("Add the task even if it is scope creep"),
		),
	)
}

// Handle processes the add_task tool call.
func (t *AddTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	desc := strings.TrimSpace(req.GetString("description", ""))
	if desc == "" {
		return mcp.NewToolResultError("'description' is required"), nil
	}
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}

	res, err := scope.NewTracker(t.store, p.ID, t.logger).AddTask(desc, req.GetBool("force", false), nil)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to add task: %v", err)), nil
	}
	if !res.Added {
		return mcp.NewToolResultError(fmt.Sprintf("Task rejected as scope creep: %s. Pass force=true to add it anyway.", res.Verdict.Reason)), nil
	}
	msg := fmt.Sprintf("Added task #%d: %s", res.Task.ID, res.Task.Description)
	if res.Task.IsScopeCreep {
		msg += " (flagged as scope creep)"
	}
	return mcp.NewToolResultText(msg), nil
}

// UpdateTaskTool handles the update_task MCP tool.
type UpdateTaskTool struct {
	*env
}

// Definition returns the MCP tool definition for update_task.
func (t *UpdateTaskTool) Definition() mcp.Tool {
	return mcp.NewTool("update_task",
		mcp.WithDescription("Move a task to a new status."),
		projectParam(),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("ID of the task to update"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Enum(string(store.StatusPending), string(store.StatusInProgress), string(store.StatusCompleted), string(store.StatusBlocked)),
			mcp.Description("New status"),
		),
		mcp.WithString("reason",
			mcp.Description("Why the task is blocked (status blocked only)"),
		),
		mcp.WithString("session_id",
			mcp.Description("Session to credit when completing the task"),
		),
	)
}

// Handle processes the update_task tool call.
func (t *UpdateTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := int64(req.GetFloat("task_id", 0))
	if id <= 0 {
		return mcp.NewToolResultError("'task_id' is required"), nil
	}
	status, err := store.ParseStatus(req.GetString("status", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}

	task, err := t.store.GetTask(id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.ProjectID != p.ID) {
		return mcp.NewToolResultError(fmt.Sprintf("task #%d not found in project %q", id, p.Name)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to load task: %v", err)), nil
	}

	tracker := scope.NewTracker(t.store, p.ID, t.logger)
	switch status {
	case store.StatusCompleted:
		err = tracker.MarkComplete(id, req.GetString("session_id", ""))
	case store.StatusBlocked:
		err = tracker.MarkBlocked(id, req.GetString("reason", ""))
	case store.StatusInProgress:
		err = tracker.MarkInProgress(id)
	default:
		err = t.store.UpdateTaskStatus(id, status, "")
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to update task: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task #%d is now %s", id, status)), nil
}

// NextActionTool handles the next_action MCP tool.
type NextActionTool struct {
	*env
}

// Definition returns the MCP tool definition for next_action.
func (t *NextActionTool) Definition() mcp.Tool {
	return mcp.NewTool("next_action",
		mcp.WithDescription(
			"Suggest what to work on next: in-progress work first, then blocked "+
				"tasks, then the oldest pending task.",
		),
		projectParam(),
	)
}

// Handle processes the next_action tool call.
func (t *NextActionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	p, errResult := t.project(req)
	if errResult != nil {
		return errResult, nil
	}
	next, err := scope.NewTracker(t.store, p.ID, t.logger).SuggestNextAction()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to suggest next action: %v", err)), nil
	}
	return jsonResult(next)
}
