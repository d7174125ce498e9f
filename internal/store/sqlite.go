package store

import (
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// SQLite is the embedded storage backend and the default for local use.
type SQLite struct {
	db   *sql.DB
	path string
	now  Clock
}

// OpenSQLite opens or creates a SQLite database at path and runs migrations.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: every caller sees the same ":memory:" database and writes serialize.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLite{db: db, path: path, now: o.now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&name)

	if errors.Is(err, sql.ErrNoRows) {
		if _, err := s.db.Exec(schemaSQL); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		_, err = s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion)
		return err
	}
	if err != nil {
		return fmt.Errorf("checking schema version: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version < currentSchemaVersion {
		return fmt.Errorf("schema version %d is older than %d, migration not implemented", version, currentSchemaVersion)
	}
	return nil
}

func (s *SQLite) touchProject(projectID string) error {
	_, err := s.db.Exec("UPDATE projects SET updated_at = ? WHERE id = ?", FormatTime(s.now()), projectID)
	if err != nil {
		return fmt.Errorf("touching project: %w", err)
	}
	return nil
}

// --- Projects ---

// CreateProject inserts a project. Names are unique.
func (s *SQLite) CreateProject(name, scope string) (*Project, error) {
	now := s.now().UTC()
	p := &Project{ID: uuid.NewString(), Name: name, Scope: scope, CreatedAt: now, UpdatedAt: now}
	_, err := s.db.Exec(
		"INSERT INTO projects ("+projectColumns+") VALUES (?, ?, ?, ?, ?)",
		p.ID, p.Name, p.Scope, FormatTime(now), FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("creating project %q: %w", name, err)
	}
	return p, nil
}

// GetProject returns a project by ID.
func (s *SQLite) GetProject(id string) (*Project, error) {
	p, err := scanProject(s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// GetProjectByName returns a project by its unique name.
func (s *SQLite) GetProjectByName(name string) (*Project, error) {
	p, err := scanProject(s.db.QueryRow("SELECT "+projectColumns+" FROM projects WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects, most recently updated first.
func (s *SQLite) ListProjects() ([]*Project, error) {
	rows, err := s.db.Query("SELECT " + projectColumns + " FROM projects ORDER BY updated_at DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectScope replaces a project's scope statement.
func (s *SQLite) UpdateProjectScope(id, scope string) error {
	res, err := s.db.Exec("UPDATE projects SET scope = ?, updated_at = ? WHERE id = ?",
		scope, FormatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("updating project scope: %w", err)
	}
	return requireAffected(res, "project "+id)
}

// DeleteProject removes a project together with its tasks, sessions and learnings.
func (s *SQLite) DeleteProject(id string) error {
	res, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting project: %w", err)
	}
	return requireAffected(res, "project "+id)
}

// --- Tasks ---

// AddTask inserts a task and returns its ID. Status defaults to pending and
// CreatedAt to the current time.
func (s *SQLite) AddTask(t *Task) (int64, error) {
	if _, err := s.GetProject(t.ProjectID); err != nil {
		return 0, err
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if !t.Status.Valid() {
		return 0, fmt.Errorf("invalid task status %q", t.Status)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return 0, err
	}
	var completed any
	if t.CompletedAt != nil {
		completed = FormatTime(*t.CompletedAt)
	} else if t.Status == StatusCompleted {
		now := s.now().UTC()
		t.CompletedAt = &now
		completed = FormatTime(now)
	}

	res, err := s.db.Exec(
		`INSERT INTO tasks (project_id, description, status, is_scope_creep, blocked_reason,
		 metadata, created_at, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ProjectID, t.Description, string(t.Status), t.IsScopeCreep,
		blockedReasonFor(t.Status, t.BlockedReason), nullable(meta),
		FormatTime(t.CreatedAt), completed,
	)
	if err != nil {
		return 0, fmt.Errorf("adding task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading task id: %w", err)
	}
	t.ID = id
	return id, s.touchProject(t.ProjectID)
}

// GetTask returns a task by ID.
func (s *SQLite) GetTask(id int64) (*Task, error) {
	t, err := scanTask(s.db.QueryRow("SELECT "+taskColumns+" FROM tasks WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

// ListTasks returns a project's tasks ordered by creation time ascending.
func (s *SQLite) ListTasks(projectID string, f TaskFilter) ([]*Task, error) {
	var conds = []string{"project_id = ?"}
	args := []any{projectID}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.ExcludeScopeCreep {
		conds = append(conds, "is_scope_creep = 0")
	}

	rows, err := s.db.Query(
		"SELECT "+taskColumns+" FROM tasks WHERE "+strings.Join(conds, " AND ")+
			" ORDER BY created_at ASC, id ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus moves a task to status. completed_at is set the first time a
// task completes; blocked_reason is kept only while the task is blocked.
func (s *SQLite) UpdateTaskStatus(id int64, status TaskStatus, blockedReason string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %q", status)
	}
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}
	now := FormatTime(s.now())
	_, err = s.db.Exec(
		`UPDATE tasks SET status = ?, blocked_reason = ?,
		 completed_at = CASE WHEN ? = 'completed' AND completed_at IS NULL THEN ? ELSE completed_at END
		 WHERE id = ?`,
		string(status), blockedReasonFor(status, blockedReason), string(status), now, id,
	)
	if err != nil {
		return fmt.Errorf("updating task status: %w", err)
	}
	return s.touchProject(t.ProjectID)
}

// DeleteTask removes a task.
func (s *SQLite) DeleteTask(id int64) error {
	t, err := s.GetTask(id)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	return s.touchProject(t.ProjectID)
}

// TaskStats returns task counts per status for a project.
func (s *SQLite) TaskStats(projectID string) (*TaskStats, error) {
	rows, err := s.db.Query("SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status", projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	defer rows.Close()

	stats := &TaskStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.add(TaskStatus(status), n)
	}
	return stats, rows.Err()
}

// --- Sessions ---

// StartSession opens a new session. An empty machineID defaults to the host name.
func (s *SQLite) StartSession(projectID, machineID string, meta Metadata) (*Session, error) {
	if _, err := s.GetProject(projectID); err != nil {
		return nil, err
	}
	encoded, err := encodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	sess := &Session{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		MachineID: defaultMachineID(machineID),
		StartedAt: s.now().UTC(),
		Metadata:  meta,
	}
	_, err = s.db.Exec(
		"INSERT INTO sessions (id, project_id, machine_id, started_at, metadata) VALUES (?, ?, ?, ?, ?)",
		sess.ID, sess.ProjectID, sess.MachineID, FormatTime(sess.StartedAt), nullable(encoded),
	)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return sess, nil
}

// EndSession marks a session ended. Ending an already ended session is a no-op.
func (s *SQLite) EndSession(id string) error {
	if _, err := s.GetSession(id); err != nil {
		return err
	}
	_, err := s.db.Exec("UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL",
		FormatTime(s.now()), id)
	if err != nil {
		return fmt.Errorf("ending session: %w", err)
	}
	return nil
}

// GetSession returns a session by ID.
func (s *SQLite) GetSession(id string) (*Session, error) {
	sess, err := scanSession(s.db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// ActiveSessions returns sessions that have not ended, newest first.
// An empty projectID returns active sessions across all projects.
func (s *SQLite) ActiveSessions(projectID string) ([]*Session, error) {
	query := "SELECT " + sessionColumns + " FROM sessions WHERE ended_at IS NULL"
	var args []any
	if projectID != "" {
		query += " AND project_id = ?"
		args = append(args, projectID)
	}
	return s.querySessions(query+" ORDER BY started_at DESC", args...)
}

// ProjectSessions returns all sessions of a project: active ones first, then
// ended ones newest first.
func (s *SQLite) ProjectSessions(projectID string) ([]*Session, error) {
	return s.querySessions(
		"SELECT "+sessionColumns+" FROM sessions WHERE project_id = ?"+
			" ORDER BY (ended_at IS NULL) DESC, started_at DESC", projectID)
}

func (s *SQLite) querySessions(query string, args ...any) ([]*Session, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// IncrementSessionTasks adds one to a session's completed-task counter.
func (s *SQLite) IncrementSessionTasks(id string) error {
	res, err := s.db.Exec("UPDATE sessions SET tasks_completed = tasks_completed + 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("incrementing session tasks: %w", err)
	}
	return requireAffected(res, "session "+id)
}

// --- Learnings ---

// AddLearning appends a learning and returns its ID.
func (s *SQLite) AddLearning(l *Learning) (int64, error) {
	if strings.TrimSpace(l.Pattern) == "" {
		return 0, fmt.Errorf("learning pattern is required")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now().UTC()
	}
	res, err := s.db.Exec(
		"INSERT INTO learnings (project_id, session_id, pattern, context, created_at) VALUES (?, ?, ?, ?, ?)",
		nullable(l.ProjectID), nullable(l.SessionID), l.Pattern, nullable(l.Context), FormatTime(l.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("adding learning: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading learning id: %w", err)
	}
	l.ID = id
	if l.ProjectID != "" {
		return id, s.touchProject(l.ProjectID)
	}
	return id, nil
}

// Learnings returns learnings matching q, newest first.
func (s *SQLite) Learnings(q LearningQuery) ([]*Learning, error) {
	query := "SELECT " + learningColumns + " FROM learnings"
	var conds []string
	var args []any
	if q.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, q.ProjectID)
	}
	if q.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, q.SessionID)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying learnings: %w", err)
	}
	defer rows.Close()

	var out []*Learning
	for rows.Next() {
		l, err := scanLearning(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// --- Templates ---

// SaveTemplate creates or replaces a template. Usage counts survive replacement.
func (s *SQLite) SaveTemplate(t *Template) error {
	vars, err := encodeVariables(t.Variables)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now().UTC()
	}
	_, err = s.db.Exec(
		`INSERT INTO templates (name, content, variables, usage_count, created_at) VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT(name) DO UPDATE SET content = excluded.content, variables = excluded.variables`,
		t.Name, t.Content, vars, FormatTime(t.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving template %q: %w", t.Name, err)
	}
	return nil
}

// GetTemplate returns a stored template by name.
func (s *SQLite) GetTemplate(name string) (*Template, error) {
	t, err := scanTemplate(s.db.QueryRow("SELECT "+templateColumns+" FROM templates WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	return t, nil
}

// ListTemplates returns stored templates, most used first.
func (s *SQLite) ListTemplates() ([]*Template, error) {
	rows, err := s.db.Query("SELECT " + templateColumns + " FROM templates ORDER BY usage_count DESC, name ASC")
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// IncrementTemplateUsage bumps a stored template's usage counter.
func (s *SQLite) IncrementTemplateUsage(name string) error {
	res, err := s.db.Exec("UPDATE templates SET usage_count = usage_count + 1 WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("incrementing template usage: %w", err)
	}
	return requireAffected(res, "template "+name)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

func (s *TaskStats) add(status TaskStatus, n int) {
	s.Total += n
	switch status {
	case StatusPending:
		s.Pending += n
	case StatusInProgress:
		s.InProgress += n
	case StatusCompleted:
		s.Completed += n
	case StatusBlocked:
		s.Blocked += n
	}
}

func defaultMachineID(id string) string {
	if id != "" {
		return id
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "unknown"
	}
	return host
}

var _ Backend = (*SQLite)(nil)
