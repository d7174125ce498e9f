package store

import (
	"errors"
	"testing"
	"time"
)

// runBackendSuite exercises the Backend contract. Each subtest uses its own
// project names so the suite can share a single database.
func runBackendSuite(t *testing.T, open func(t *testing.T) (Backend, *testClock)) {
	t.Helper()

	t.Run("project lifecycle", func(t *testing.T) {
		b, clock := open(t)
		p, err := b.CreateProject("suite-project", "Build a parser")
		if err != nil {
			t.Fatalf("creating project: %v", err)
		}
		if p.ID == "" {
			t.Fatal("expected project id")
		}

		got, err := b.GetProject(p.ID)
		if err != nil {
			t.Fatalf("getting project: %v", err)
		}
		if got.Name != "suite-project" || got.Scope != "Build a parser" {
			t.Errorf("unexpected project: %+v", got)
		}
		if !got.CreatedAt.Equal(clock.Now()) {
			t.Errorf("expected created_at %v, got %v", clock.Now(), got.CreatedAt)
		}

		byName, err := b.GetProjectByName("suite-project")
		if err != nil {
			t.Fatalf("getting by name: %v", err)
		}
		if byName.ID != p.ID {
			t.Errorf("expected id %s, got %s", p.ID, byName.ID)
		}

		clock.Advance(time.Hour)
		if err := b.UpdateProjectScope(p.ID, "Build a lexer"); err != nil {
			t.Fatalf("updating scope: %v", err)
		}
		got, _ = b.GetProject(p.ID)
		if got.Scope != "Build a lexer" {
			t.Errorf("expected updated scope, got %q", got.Scope)
		}
		if !got.UpdatedAt.After(got.CreatedAt) {
			t.Error("expected updated_at to advance")
		}

		if _, err := b.GetProject("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := b.GetProjectByName("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("task ordering and filters", func(t *testing.T) {
		b, clock := open(t)
		p, _ := b.CreateProject("suite-tasks", "scope")

		var ids []int64
		for _, d := range []string{"first", "second", "third"} {
			id, err := b.AddTask(&Task{ProjectID: p.ID, Description: d})
			if err != nil {
				t.Fatalf("adding task: %v", err)
			}
			ids = append(ids, id)
			clock.Advance(time.Minute)
		}
		if _, err := b.AddTask(&Task{ProjectID: p.ID, Description: "creep", IsScopeCreep: true}); err != nil {
			t.Fatalf("adding creep task: %v", err)
		}
		// Backdated task sorts first regardless of insertion order.
		if _, err := b.AddTask(&Task{ProjectID: p.ID, Description: "old", CreatedAt: clock.Now().Add(-24 * time.Hour)}); err != nil {
			t.Fatalf("adding backdated task: %v", err)
		}

		all, err := b.ListTasks(p.ID, TaskFilter{})
		if err != nil {
			t.Fatalf("listing: %v", err)
		}
		if len(all) != 5 {
			t.Fatalf("expected 5 tasks, got %d", len(all))
		}
		if all[0].Description != "old" || all[1].Description != "first" {
			t.Errorf("unexpected order: %q, %q", all[0].Description, all[1].Description)
		}
		if all[1].Status != StatusPending {
			t.Errorf("expected default status pending, got %q", all[1].Status)
		}

		inScope, _ := b.ListTasks(p.ID, TaskFilter{ExcludeScopeCreep: true})
		if len(inScope) != 4 {
			t.Errorf("expected 4 in-scope tasks, got %d", len(inScope))
		}

		if err := b.UpdateTaskStatus(ids[1], StatusInProgress, ""); err != nil {
			t.Fatalf("updating status: %v", err)
		}
		inProgress, _ := b.ListTasks(p.ID, TaskFilter{Status: StatusInProgress})
		if len(inProgress) != 1 || inProgress[0].ID != ids[1] {
			t.Errorf("expected task %d in progress, got %+v", ids[1], inProgress)
		}

		if _, err := b.AddTask(&Task{ProjectID: "missing", Description: "x"}); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown project, got %v", err)
		}
	})

	t.Run("status transitions", func(t *testing.T) {
		b, clock := open(t)
		p, _ := b.CreateProject("suite-status", "scope")
		id, _ := b.AddTask(&Task{ProjectID: p.ID, Description: "work", Metadata: Metadata{"area": "api", "points": 3.0}})

		if err := b.UpdateTaskStatus(id, StatusBlocked, "waiting on review"); err != nil {
			t.Fatalf("blocking: %v", err)
		}
		task, _ := b.GetTask(id)
		if task.BlockedReason != "waiting on review" {
			t.Errorf("expected blocked reason, got %q", task.BlockedReason)
		}
		if task.Metadata["area"] != "api" || task.Metadata["points"] != 3.0 {
			t.Errorf("unexpected metadata: %v", task.Metadata)
		}

		clock.Advance(time.Hour)
		completedAt := clock.Now()
		if err := b.UpdateTaskStatus(id, StatusCompleted, ""); err != nil {
			t.Fatalf("completing: %v", err)
		}
		task, _ = b.GetTask(id)
		if task.BlockedReason != "" {
			t.Errorf("expected blocked reason cleared, got %q", task.BlockedReason)
		}
		if task.CompletedAt == nil || !task.CompletedAt.Equal(completedAt) {
			t.Fatalf("expected completed_at %v, got %v", completedAt, task.CompletedAt)
		}

		// Reopening and completing again keeps the first completion time.
		clock.Advance(time.Hour)
		_ = b.UpdateTaskStatus(id, StatusPending, "")
		_ = b.UpdateTaskStatus(id, StatusCompleted, "")
		task, _ = b.GetTask(id)
		if task.CompletedAt == nil || !task.CompletedAt.Equal(completedAt) {
			t.Errorf("expected completed_at to stay %v, got %v", completedAt, task.CompletedAt)
		}

		proj, _ := b.GetProject(p.ID)
		if !proj.UpdatedAt.Equal(clock.Now()) {
			t.Errorf("expected project updated_at %v, got %v", clock.Now(), proj.UpdatedAt)
		}

		if err := b.UpdateTaskStatus(id, "done", ""); err == nil {
			t.Error("expected error for invalid status")
		}
		if err := b.UpdateTaskStatus(99999, StatusCompleted, ""); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("task stats", func(t *testing.T) {
		b, _ := open(t)
		p, _ := b.CreateProject("suite-stats", "scope")
		statuses := []TaskStatus{StatusPending, StatusPending, StatusInProgress, StatusCompleted, StatusBlocked}
		for _, st := range statuses {
			if _, err := b.AddTask(&Task{ProjectID: p.ID, Description: "t", Status: st}); err != nil {
				t.Fatalf("adding task: %v", err)
			}
		}
		stats, err := b.TaskStats(p.ID)
		if err != nil {
			t.Fatalf("stats: %v", err)
		}
		want := TaskStats{Total: 5, Pending: 2, InProgress: 1, Completed: 1, Blocked: 1}
		if *stats != want {
			t.Errorf("expected %+v, got %+v", want, *stats)
		}
		if stats.Remaining() != 4 {
			t.Errorf("expected 4 remaining, got %d", stats.Remaining())
		}
	})

	t.Run("delete task", func(t *testing.T) {
		b, _ := open(t)
		p, _ := b.CreateProject("suite-delete", "scope")
		id, _ := b.AddTask(&Task{ProjectID: p.ID, Description: "gone"})
		if err := b.DeleteTask(id); err != nil {
			t.Fatalf("deleting: %v", err)
		}
		if _, err := b.GetTask(id); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("sessions", func(t *testing.T) {
		b, clock := open(t)
		p, _ := b.CreateProject("suite-sessions", "scope")

		first, err := b.StartSession(p.ID, "laptop", Metadata{"editor": "vim"})
		if err != nil {
			t.Fatalf("starting session: %v", err)
		}
		clock.Advance(time.Hour)
		second, _ := b.StartSession(p.ID, "", nil)
		if second.MachineID == "" {
			t.Error("expected default machine id")
		}

		active, _ := b.ActiveSessions(p.ID)
		if len(active) != 2 || active[0].ID != second.ID {
			t.Fatalf("expected newest active session first, got %+v", active)
		}

		if err := b.IncrementSessionTasks(first.ID); err != nil {
			t.Fatalf("incrementing: %v", err)
		}
		_ = b.IncrementSessionTasks(first.ID)
		clock.Advance(time.Hour)
		if err := b.EndSession(first.ID); err != nil {
			t.Fatalf("ending: %v", err)
		}

		got, _ := b.GetSession(first.ID)
		if got.TasksCompleted != 2 {
			t.Errorf("expected 2 tasks completed, got %d", got.TasksCompleted)
		}
		if got.Active() {
			t.Error("expected session ended")
		}
		if got.EndedAt.Sub(got.StartedAt) != 2*time.Hour {
			t.Errorf("expected 2h session, got %v", got.EndedAt.Sub(got.StartedAt))
		}
		if got.Metadata["editor"] != "vim" {
			t.Errorf("expected session metadata, got %v", got.Metadata)
		}

		all, _ := b.ProjectSessions(p.ID)
		if len(all) != 2 || all[0].ID != second.ID {
			t.Errorf("expected active session listed first, got %+v", all)
		}
		active, _ = b.ActiveSessions(p.ID)
		if len(active) != 1 {
			t.Errorf("expected 1 active session, got %d", len(active))
		}

		if _, err := b.GetSession("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := b.IncrementSessionTasks("missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if _, err := b.StartSession(p.ID, "m", Metadata{"bad": []string{"x"}}); err == nil {
			t.Error("expected metadata validation error")
		}
	})

	t.Run("learnings", func(t *testing.T) {
		b, clock := open(t)
		p, _ := b.CreateProject("suite-learnings", "scope")
		sess, _ := b.StartSession(p.ID, "m", nil)

		for i, pattern := range []string{"use WAL", "prefer small tasks", "pin versions"} {
			l := &Learning{ProjectID: p.ID, Pattern: pattern}
			if i == 2 {
				l.SessionID = sess.ID
				l.Context = "after a broken build"
			}
			if _, err := b.AddLearning(l); err != nil {
				t.Fatalf("adding learning: %v", err)
			}
			clock.Advance(time.Minute)
		}

		got, err := b.Learnings(LearningQuery{ProjectID: p.ID, Limit: 2})
		if err != nil {
			t.Fatalf("querying: %v", err)
		}
		if len(got) != 2 || got[0].Pattern != "pin versions" {
			t.Fatalf("expected newest first, got %+v", got)
		}
		if got[0].Context != "after a broken build" {
			t.Errorf("expected context, got %q", got[0].Context)
		}

		bySession, _ := b.Learnings(LearningQuery{SessionID: sess.ID})
		if len(bySession) != 1 {
			t.Errorf("expected 1 session learning, got %d", len(bySession))
		}

		if _, err := b.AddLearning(&Learning{ProjectID: p.ID}); err == nil {
			t.Error("expected error for empty pattern")
		}
	})

	t.Run("templates", func(t *testing.T) {
		b, _ := open(t)
		tmpl := &Template{Name: "suite-release", Content: "Release {version}", Variables: []string{"version"}}
		if err := b.SaveTemplate(tmpl); err != nil {
			t.Fatalf("saving: %v", err)
		}
		if err := b.IncrementTemplateUsage("suite-release"); err != nil {
			t.Fatalf("incrementing: %v", err)
		}
		tmpl.Content = "Ship {version}"
		if err := b.SaveTemplate(tmpl); err != nil {
			t.Fatalf("replacing: %v", err)
		}

		got, err := b.GetTemplate("suite-release")
		if err != nil {
			t.Fatalf("getting: %v", err)
		}
		if got.Content != "Ship {version}" || got.UsageCount != 1 {
			t.Errorf("unexpected template: %+v", got)
		}
		if len(got.Variables) != 1 || got.Variables[0] != "version" {
			t.Errorf("unexpected variables: %v", got.Variables)
		}

		list, _ := b.ListTemplates()
		found := false
		for _, l := range list {
			if l.Name == "suite-release" {
				found = true
			}
		}
		if !found {
			t.Error("expected template in list")
		}

		if _, err := b.GetTemplate("suite-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
		if err := b.IncrementTemplateUsage("suite-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
