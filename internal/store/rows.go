package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// rowScanner is satisfied by both database/sql and pgx rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Option configures a backend.
type Option func(*options)

type options struct {
	now Clock
}

// WithClock overrides the time source used for every timestamp the backend writes.
func WithClock(now Clock) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

const (
	projectColumns  = "id, name, scope, created_at, updated_at"
	taskColumns     = "id, project_id, description, status, is_scope_creep, blocked_reason, metadata, created_at, completed_at"
	sessionColumns  = "id, project_id, machine_id, started_at, ended_at, tasks_completed, metadata"
	learningColumns = "id, project_id, session_id, pattern, context, created_at"
	templateColumns = "name, content, variables, usage_count, created_at"
)

func scanProject(sc rowScanner) (*Project, error) {
	p := &Project{}
	var created, updated string
	if err := sc.Scan(&p.ID, &p.Name, &p.Scope, &created, &updated); err != nil {
		return nil, err
	}
	var err error
	if p.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = ParseTime(updated); err != nil {
		return nil, err
	}
	return p, nil
}

func scanTask(sc rowScanner) (*Task, error) {
	t := &Task{}
	var status, created string
	var reason, meta, completed *string
	if err := sc.Scan(&t.ID, &t.ProjectID, &t.Description, &status, &t.IsScopeCreep,
		&reason, &meta, &created, &completed); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	if reason != nil {
		t.BlockedReason = *reason
	}
	if meta != nil {
		t.Metadata = decodeMetadata(*meta)
	}
	var err error
	if t.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	if t.CompletedAt, err = parseOptionalTime(completed); err != nil {
		return nil, err
	}
	return t, nil
}

func scanSession(sc rowScanner) (*Session, error) {
	s := &Session{}
	var started string
	var ended, meta *string
	if err := sc.Scan(&s.ID, &s.ProjectID, &s.MachineID, &started, &ended,
		&s.TasksCompleted, &meta); err != nil {
		return nil, err
	}
	if meta != nil {
		s.Metadata = decodeMetadata(*meta)
	}
	var err error
	if s.StartedAt, err = ParseTime(started); err != nil {
		return nil, err
	}
	if s.EndedAt, err = parseOptionalTime(ended); err != nil {
		return nil, err
	}
	return s, nil
}

func scanLearning(sc rowScanner) (*Learning, error) {
	l := &Learning{}
	var project, session, ctx *string
	var created string
	if err := sc.Scan(&l.ID, &project, &session, &l.Pattern, &ctx, &created); err != nil {
		return nil, err
	}
	if project != nil {
		l.ProjectID = *project
	}
	if session != nil {
		l.SessionID = *session
	}
	if ctx != nil {
		l.Context = *ctx
	}
	var err error
	if l.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	return l, nil
}

func scanTemplate(sc rowScanner) (*Template, error) {
	t := &Template{}
	var vars *string
	var created string
	if err := sc.Scan(&t.Name, &t.Content, &vars, &t.UsageCount, &created); err != nil {
		return nil, err
	}
	if vars != nil && *vars != "" {
		if err := json.Unmarshal([]byte(*vars), &t.Variables); err != nil {
			return nil, fmt.Errorf("decoding template variables: %w", err)
		}
	}
	var err error
	if t.CreatedAt, err = ParseTime(created); err != nil {
		return nil, err
	}
	return t, nil
}

// nullable maps "" to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func encodeVariables(vars []string) (any, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vars)
	if err != nil {
		return nil, fmt.Errorf("encoding template variables: %w", err)
	}
	return string(data), nil
}

// blockedReasonFor keeps a reason only while the task is blocked.
func blockedReasonFor(status TaskStatus, reason string) any {
	if status != StatusBlocked {
		return nil
	}
	return nullable(reason)
}
