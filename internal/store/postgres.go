package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// postgresSchemaDDL mirrors schema.sql. Timestamps stay TEXT so both backends
// order and parse them identically.
const postgresSchemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    scope TEXT NOT NULL,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
    id BIGSERIAL PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    description TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'pending'
        CHECK (status IN ('pending', 'in_progress', 'completed', 'blocked')),
    is_scope_creep BOOLEAN NOT NULL DEFAULT FALSE,
    blocked_reason TEXT,
    metadata JSONB,
    created_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id, status);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
    machine_id TEXT NOT NULL,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    metadata JSONB
);

CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id);

CREATE TABLE IF NOT EXISTS learnings (
    id BIGSERIAL PRIMARY KEY,
    project_id TEXT REFERENCES projects(id) ON DELETE CASCADE,
    session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
    pattern TEXT NOT NULL,
    context TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_learnings_project ON learnings(project_id);

CREATE TABLE IF NOT EXISTS templates (
    name TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    variables TEXT,
    usage_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL
);
`

// JSONB columns are read back as text so the shared scanners apply.
const (
	pgTaskColumns    = "id, project_id, description, status, is_scope_creep, blocked_reason, metadata::text, created_at, completed_at"
	pgSessionColumns = "id, project_id, machine_id, started_at, ended_at, tasks_completed, metadata::text"
)

// Postgres is the PostgreSQL storage backend for teams sharing one database.
// Each call opens its own connection, so the backend holds no live state
// between calls.
type Postgres struct {
	ConnString string
	now        Clock
}

// OpenPostgres creates a Postgres backend and initializes the schema.
func OpenPostgres(connString string, opts ...Option) (*Postgres, error) {
	o := buildOptions(opts)
	b := &Postgres{ConnString: connString, now: o.now}
	if err := b.ensureSchema(); err != nil {
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return b, nil
}

func (b *Postgres) connect(ctx context.Context) (*pgx.Conn, error) {
	conn, err := pgx.Connect(ctx, b.ConnString)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return conn, nil
}

// withConn runs fn on a fresh connection and closes it afterwards.
func (b *Postgres) withConn(fn func(ctx context.Context, conn *pgx.Conn) error) error {
	ctx := context.Background()
	conn, err := b.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close(ctx) }()
	return fn(ctx, conn)
}

func (b *Postgres) ensureSchema() error {
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, postgresSchemaDDL); err != nil {
			return fmt.Errorf("executing schema DDL: %w", err)
		}
		return nil
	})
}

// Close is a no-op; connections are closed after every call.
func (b *Postgres) Close() error {
	return nil
}

func pgTouchProject(ctx context.Context, conn *pgx.Conn, projectID, now string) error {
	if _, err := conn.Exec(ctx, "UPDATE projects SET updated_at = $1 WHERE id = $2", now, projectID); err != nil {
		return fmt.Errorf("touching project: %w", err)
	}
	return nil
}

func pgRequireAffected(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// --- Projects ---

// CreateProject inserts a project. Names are unique.
func (b *Postgres) CreateProject(name, scope string) (*Project, error) {
	now := b.now().UTC()
	p := &Project{ID: uuid.NewString(), Name: name, Scope: scope, CreatedAt: now, UpdatedAt: now}
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			"INSERT INTO projects ("+projectColumns+") VALUES ($1, $2, $3, $4, $5)",
			p.ID, p.Name, p.Scope, FormatTime(now), FormatTime(now))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating project %q: %w", name, err)
	}
	return p, nil
}

// GetProject returns a project by ID.
func (b *Postgres) GetProject(id string) (*Project, error) {
	return b.getProject("id", id)
}

// GetProjectByName returns a project by its unique name.
func (b *Postgres) GetProjectByName(name string) (*Project, error) {
	return b.getProject("name", name)
}

func (b *Postgres) getProject(column, value string) (*Project, error) {
	var p *Project
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		var err error
		p, err = scanProject(conn.QueryRow(ctx,
			"SELECT "+projectColumns+" FROM projects WHERE "+column+" = $1", value))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("project %q: %w", value, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// ListProjects returns all projects, most recently updated first.
func (b *Postgres) ListProjects() ([]*Project, error) {
	var projects []*Project
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, "SELECT "+projectColumns+" FROM projects ORDER BY updated_at DESC, name ASC")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanProject(rows)
			if err != nil {
				return err
			}
			projects = append(projects, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectScope replaces a project's scope statement.
func (b *Postgres) UpdateProjectScope(id, scope string) error {
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, "UPDATE projects SET scope = $1, updated_at = $2 WHERE id = $3",
			scope, FormatTime(b.now()), id)
		if err != nil {
			return fmt.Errorf("updating project scope: %w", err)
		}
		return pgRequireAffected(tag, "project "+id)
	})
}

// DeleteProject removes a project together with its tasks, sessions and learnings.
func (b *Postgres) DeleteProject(id string) error {
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, "DELETE FROM projects WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("deleting project: %w", err)
		}
		return pgRequireAffected(tag, "project "+id)
	})
}

// --- Tasks ---

// AddTask inserts a task and returns its ID.
func (b *Postgres) AddTask(t *Task) (int64, error) {
	if _, err := b.GetProject(t.ProjectID); err != nil {
		return 0, err
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if !t.Status.Valid() {
		return 0, fmt.Errorf("invalid task status %q", t.Status)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = b.now().UTC()
	}
	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return 0, err
	}
	var completed any
	if t.CompletedAt != nil {
		completed = FormatTime(*t.CompletedAt)
	} else if t.Status == StatusCompleted {
		now := b.now().UTC()
		t.CompletedAt = &now
		completed = FormatTime(now)
	}

	err = b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		err := conn.QueryRow(ctx,
			`INSERT INTO tasks (project_id, description, status, is_scope_creep, blocked_reason,
			 metadata, created_at, completed_at)
			 VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8) RETURNING id`,
			t.ProjectID, t.Description, string(t.Status), t.IsScopeCreep,
			blockedReasonFor(t.Status, t.BlockedReason), nullable(meta),
			FormatTime(t.CreatedAt), completed,
		).Scan(&t.ID)
		if err != nil {
			return fmt.Errorf("adding task: %w", err)
		}
		return pgTouchProject(ctx, conn, t.ProjectID, FormatTime(b.now()))
	})
	if err != nil {
		return 0, err
	}
	return t.ID, nil
}

// GetTask returns a task by ID.
func (b *Postgres) GetTask(id int64) (*Task, error) {
	var t *Task
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		var err error
		t, err = scanTask(conn.QueryRow(ctx, "SELECT "+pgTaskColumns+" FROM tasks WHERE id = $1", id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return t, nil
}

// ListTasks returns a project's tasks ordered by creation time ascending.
func (b *Postgres) ListTasks(projectID string, f TaskFilter) ([]*Task, error) {
	conds := []string{"project_id = $1"}
	args := []any{projectID}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.ExcludeScopeCreep {
		conds = append(conds, "NOT is_scope_creep")
	}

	var tasks []*Task
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			"SELECT "+pgTaskColumns+" FROM tasks WHERE "+strings.Join(conds, " AND ")+
				" ORDER BY created_at ASC, id ASC", args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				return err
			}
			tasks = append(tasks, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// UpdateTaskStatus moves a task to status, with the same completed_at and
// blocked_reason rules as the SQLite backend.
func (b *Postgres) UpdateTaskStatus(id int64, status TaskStatus, blockedReason string) error {
	if !status.Valid() {
		return fmt.Errorf("invalid task status %q", status)
	}
	t, err := b.GetTask(id)
	if err != nil {
		return err
	}
	now := FormatTime(b.now())
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`UPDATE tasks SET status = $1, blocked_reason = $2,
			 completed_at = CASE WHEN $1 = 'completed' AND completed_at IS NULL THEN $3 ELSE completed_at END
			 WHERE id = $4`,
			string(status), blockedReasonFor(status, blockedReason), now, id)
		if err != nil {
			return fmt.Errorf("updating task status: %w", err)
		}
		return pgTouchProject(ctx, conn, t.ProjectID, now)
	})
}

// DeleteTask removes a task.
func (b *Postgres) DeleteTask(id int64) error {
	t, err := b.GetTask(id)
	if err != nil {
		return err
	}
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id); err != nil {
			return fmt.Errorf("deleting task: %w", err)
		}
		return pgTouchProject(ctx, conn, t.ProjectID, FormatTime(b.now()))
	})
}

// TaskStats returns task counts per status for a project.
func (b *Postgres) TaskStats(projectID string) (*TaskStats, error) {
	stats := &TaskStats{}
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		rows, err := conn.Query(ctx,
			"SELECT status, COUNT(*) FROM tasks WHERE project_id = $1 GROUP BY status", projectID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var status string
			var n int64
			if err := rows.Scan(&status, &n); err != nil {
				return err
			}
			stats.add(TaskStatus(status), int(n))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	return stats, nil
}

// --- Sessions ---

// StartSession opens a new session. An empty machineID defaults to the host name.
func (b *Postgres) StartSession(projectID, machineID string, meta Metadata) (*Session, error) {
	if _, err := b.GetProject(projectID); err != nil {
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
		StartedAt: b.now().UTC(),
		Metadata:  meta,
	}
	err = b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			"INSERT INTO sessions (id, project_id, machine_id, started_at, metadata) VALUES ($1, $2, $3, $4, $5::jsonb)",
			sess.ID, sess.ProjectID, sess.MachineID, FormatTime(sess.StartedAt), nullable(encoded))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	return sess, nil
}

// EndSession marks a session ended. Ending an already ended session is a no-op.
func (b *Postgres) EndSession(id string) error {
	if _, err := b.GetSession(id); err != nil {
		return err
	}
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "UPDATE sessions SET ended_at = $1 WHERE id = $2 AND ended_at IS NULL",
			FormatTime(b.now()), id)
		if err != nil {
			return fmt.Errorf("ending session: %w", err)
		}
		return nil
	})
}

// GetSession returns a session by ID.
func (b *Postgres) GetSession(id string) (*Session, error) {
	var sess *Session
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		var err error
		sess, err = scanSession(conn.QueryRow(ctx, "SELECT "+pgSessionColumns+" FROM sessions WHERE id = $1", id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// ActiveSessions returns sessions that have not ended, newest first.
func (b *Postgres) ActiveSessions(projectID string) ([]*Session, error) {
	query := "SELECT " + pgSessionColumns + " FROM sessions WHERE ended_at IS NULL"
	var args []any
	if projectID != "" {
		query += " AND project_id = $1"
		args = append(args, projectID)
	}
	return b.querySessions(query+" ORDER BY started_at DESC", args...)
}

// ProjectSessions returns all sessions of a project, active ones first.
func (b *Postgres) ProjectSessions(projectID string) ([]*Session, error) {
	return b.querySessions(
		"SELECT "+pgSessionColumns+" FROM sessions WHERE project_id = $1"+
			" ORDER BY (ended_at IS NULL) DESC, started_at DESC", projectID)
}

func (b *Postgres) querySessions(query string, args ...any) ([]*Session, error) {
	var sessions []*Session
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			sess, err := scanSession(rows)
			if err != nil {
				return err
			}
			sessions = append(sessions, sess)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return sessions, nil
}

// IncrementSessionTasks adds one to a session's completed-task counter.
func (b *Postgres) IncrementSessionTasks(id string) error {
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, "UPDATE sessions SET tasks_completed = tasks_completed + 1 WHERE id = $1", id)
		if err != nil {
			return fmt.Errorf("incrementing session tasks: %w", err)
		}
		return pgRequireAffected(tag, "session "+id)
	})
}

// --- Learnings ---

// AddLearning appends a learning and returns its ID.
func (b *Postgres) AddLearning(l *Learning) (int64, error) {
	if strings.TrimSpace(l.Pattern) == "" {
		return 0, fmt.Errorf("learning pattern is required")
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = b.now().UTC()
	}
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		err := conn.QueryRow(ctx,
			`INSERT INTO learnings (project_id, session_id, pattern, context, created_at)
			 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
			nullable(l.ProjectID), nullable(l.SessionID), l.Pattern, nullable(l.Context), FormatTime(l.CreatedAt),
		).Scan(&l.ID)
		if err != nil {
			return fmt.Errorf("adding learning: %w", err)
		}
		if l.ProjectID != "" {
			return pgTouchProject(ctx, conn, l.ProjectID, FormatTime(b.now()))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return l.ID, nil
}

// Learnings returns learnings matching q, newest first.
func (b *Postgres) Learnings(q LearningQuery) ([]*Learning, error) {
	query := "SELECT " + learningColumns + " FROM learnings"
	var conds []string
	var args []any
	if q.ProjectID != "" {
		args = append(args, q.ProjectID)
		conds = append(conds, fmt.Sprintf("project_id = $%d", len(args)))
	}
	if q.SessionID != "" {
		args = append(args, q.SessionID)
		conds = append(conds, fmt.Sprintf("session_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var out []*Learning
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			l, err := scanLearning(rows)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("querying learnings: %w", err)
	}
	return out, nil
}

// --- Templates ---

// SaveTemplate creates or replaces a template. Usage counts survive replacement.
func (b *Postgres) SaveTemplate(t *Template) error {
	vars, err := encodeVariables(t.Variables)
	if err != nil {
		return err
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = b.now().UTC()
	}
	err = b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx,
			`INSERT INTO templates (name, content, variables, usage_count, created_at) VALUES ($1, $2, $3, 0, $4)
			 ON CONFLICT (name) DO UPDATE SET content = EXCLUDED.content, variables = EXCLUDED.variables`,
			t.Name, t.Content, vars, FormatTime(t.CreatedAt))
		return err
	})
	if err != nil {
		return fmt.Errorf("saving template %q: %w", t.Name, err)
	}
	return nil
}

// GetTemplate returns a stored template by name.
func (b *Postgres) GetTemplate(name string) (*Template, error) {
	var t *Template
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		var err error
		t, err = scanTemplate(conn.QueryRow(ctx, "SELECT "+templateColumns+" FROM templates WHERE name = $1", name))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting template: %w", err)
	}
	return t, nil
}

// ListTemplates returns stored templates, most used first.
func (b *Postgres) ListTemplates() ([]*Template, error) {
	var out []*Template
	err := b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		rows, err := conn.Query(ctx, "SELECT "+templateColumns+" FROM templates ORDER BY usage_count DESC, name ASC")
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			t, err := scanTemplate(rows)
			if err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	return out, nil
}

// IncrementTemplateUsage bumps a stored template's usage counter.
func (b *Postgres) IncrementTemplateUsage(name string) error {
	return b.withConn(func(ctx context.Context, conn *pgx.Conn) error {
		tag, err := conn.Exec(ctx, "UPDATE templates SET usage_count = usage_count + 1 WHERE name = $1", name)
		if err != nil {
			return fmt.Errorf("incrementing template usage: %w", err)
		}
		return pgRequireAffected(tag, "template "+name)
	})
}

var _ Backend = (*Postgres)(nil)
