// Package store provides persistence for conductor projects, tasks, sessions and learnings.
package store

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a project, task, session or template does not exist.
var ErrNotFound = errors.New("not found")

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusBlocked    TaskStatus = "blocked"
)

// Valid reports whether s is one of the four task states.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusBlocked:
		return true
	}
	return false
}

// ParseStatus converts user input into a TaskStatus.
func ParseStatus(s string) (TaskStatus, error) {
	st := TaskStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid status %q (must be pending, in_progress, completed, or blocked)", s)
	}
	return st, nil
}

// Project is a unit of work with a declared scope.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Task is a single backlog item belonging to a project.
type Task struct {
	ID            int64      `json:"id"`
	ProjectID     string     `json:"project_id"`
	Description   string     `json:"description"`
	Status        TaskStatus `json:"status"`
	IsScopeCreep  bool       `json:"is_scope_creep"`
	BlockedReason string     `json:"blocked_reason,omitempty"`
	Metadata      Metadata   `json:"metadata,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// TaskFilter narrows ListTasks results. Zero value returns every task.
type TaskFilter struct {
	Status            TaskStatus
	ExcludeScopeCreep bool
}

// TaskStats holds task count aggregations.
type TaskStats struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
}

// Remaining returns the number of tasks that are not completed.
func (s *TaskStats) Remaining() int {
	return s.Pending + s.InProgress + s.Blocked
}

// Session is a working session on one machine.
type Session struct {
	ID             string     `json:"id"`
	ProjectID      string     `json:"project_id"`
	MachineID      string     `json:"machine_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	TasksCompleted int        `json:"tasks_completed"`
	Metadata       Metadata   `json:"metadata,omitempty"`
}

// Active reports whether the session has not been ended.
func (s *Session) Active() bool {
	return s.EndedAt == nil
}

// Learning is an append-only note about a decision or pattern.
type Learning struct {
	ID        int64     `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Pattern   string    `json:"pattern"`
	Context   string    `json:"context,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// LearningQuery specifies filters for querying learnings.
type LearningQuery struct {
	ProjectID string
	SessionID string
	Limit     int
}

// Template is a user-defined prompt template.
type Template struct {
	Name       string    `json:"name"`
	Content    string    `json:"content"`
	Variables  []string  `json:"variables,omitempty"`
	UsageCount int       `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Backend is the storage contract consumed by the scope, assembler and monitor packages.
// Implementations serialize individual calls; cross-call atomicity is the caller's concern.
type Backend interface {
	CreateProject(name, scope string) (*Project, error)
	GetProject(id string) (*Project, error)
	GetProjectByName(name string) (*Project, error)
	ListProjects() ([]*Project, error)
	UpdateProjectScope(id, scope string) error
	DeleteProject(id string) error

	AddTask(t *Task) (int64, error)
	GetTask(id int64) (*Task, error)
	ListTasks(projectID string, f TaskFilter) ([]*Task, error)
	UpdateTaskStatus(id int64, status TaskStatus, blockedReason string) error
	DeleteTask(id int64) error
	TaskStats(projectID string) (*TaskStats, error)

	StartSession(projectID, machineID string, meta Metadata) (*Session, error)
	EndSession(id string) error
	GetSession(id string) (*Session, error)
	ActiveSessions(projectID string) ([]*Session, error)
	ProjectSessions(projectID string) ([]*Session, error)
	IncrementSessionTasks(id string) error

	AddLearning(l *Learning) (int64, error)
	Learnings(q LearningQuery) ([]*Learning, error)

	SaveTemplate(t *Template) error
	GetTemplate(name string) (*Template, error)
	ListTemplates() ([]*Template, error)
	IncrementTemplateUsage(name string) error

	Close() error
}

// timeLayout is fixed-width so lexical order of stored timestamps equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in the stored ISO-8601 UTC form.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a stored timestamp. It also accepts RFC 3339 and the
// "YYYY-MM-DD HH:MM:SS" form written by SQL CURRENT_TIMESTAMP defaults.
func ParseTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q", s)
}

func parseOptionalTime(s *string) (*time.Time, error) {
	if s == nil || *s == "" {
		return nil, nil
	}
	t, err := ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Clock returns the current time. Backends accept one so tests can pin timestamps.
type Clock func() time.Time
