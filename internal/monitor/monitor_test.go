package monitor

import (
	"reflect"
	"testing"
	"time"

	"github.com/swamp-dev/conductor/internal/store"
)

var t0 = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store   *store.SQLite
	monitor *Monitor
	project *store.Project
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{now: t0}
	clock := func() time.Time { return env.now }
	s, err := store.OpenSQLite(":memory:", store.WithClock(clock))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	p, err := s.CreateProject("demo", "Build markdown parser")
	if err != nil {
		t.Fatalf("creating project: %v", err)
	}
	env.store = s
	env.project = p
	env.monitor = New(s, nil)
	env.monitor.SetClock(clock)
	return env
}

func (e *testEnv) add(t *testing.T, task store.Task) int64 {
	t.Helper()
	task.ProjectID = e.project.ID
	if task.Description == "" {
		task.Description = "task"
	}
	id, err := e.store.AddTask(&task)
	if err != nil {
		t.Fatalf("adding task: %v", err)
	}
	return id
}

func (e *testEnv) completedAt(t *testing.T, at time.Time) {
	t.Helper()
	e.add(t, store.Task{Status: store.StatusCompleted, CreatedAt: at.Add(-time.Hour), CompletedAt: &at})
}

func TestAnalyzeSession(t *testing.T) {
	env := newTestEnv(t)
	sess, err := env.store.StartSession(env.project.ID, "laptop", nil)
	if err != nil {
		t.Fatalf("starting session: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := env.store.IncrementSessionTasks(sess.ID); err != nil {
			t.Fatalf("incrementing: %v", err)
		}
	}

	env.now = t0.Add(90 * time.Minute)
	a, err := env.monitor.AnalyzeSession(sess.ID)
	if err != nil {
		t.Fatalf("analyzing: %v", err)
	}
	if !a.IsActive || a.DurationHours != 1.5 {
		t.Errorf("expected active 1.5h session, got %+v", a)
	}

	env.now = t0.Add(2 * time.Hour)
	if err := env.store.EndSession(sess.ID); err != nil {
		t.Fatalf("ending: %v", err)
	}
	env.now = t0.Add(10 * time.Hour)
	a, _ = env.monitor.AnalyzeSession(sess.ID)
	if a.IsActive {
		t.Error("expected ended session")
	}
	if a.DurationHours != 2.0 || a.TasksPerHour != 2.0 || a.TasksCompleted != 4 {
		t.Errorf("expected 2h and 2 tasks/hour, got %+v", a)
	}

	missing, err := env.monitor.AnalyzeSession("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing.Error != "Session not found" {
		t.Errorf("expected not-found result, got %+v", missing)
	}
}

func TestAnalyzeSessionZeroDuration(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.store.StartSession(env.project.ID, "m", nil)
	a, err := env.monitor.AnalyzeSession(sess.ID)
	if err != nil {
		t.Fatalf("analyzing: %v", err)
	}
	if a.DurationHours != 0 || a.TasksPerHour != 0 {
		t.Errorf("expected zero duration and rate, got %+v", a)
	}
}

func TestProjectSessions(t *testing.T) {
	env := newTestEnv(t)
	old, _ := env.store.StartSession(env.project.ID, "m1", nil)
	env.now = t0.Add(time.Hour)
	_ = env.store.EndSession(old.ID)
	active, _ := env.store.StartSession(env.project.ID, "m2", nil)
	env.now = t0.Add(3 * time.Hour)

	got, err := env.monitor.ProjectSessions(env.project.ID)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(got) != 2 || got[0].SessionID != active.ID || got[1].SessionID != old.ID {
		t.Fatalf("expected active session first, got %+v", got)
	}
	if got[0].DurationHours != 2 || got[1].DurationHours != 1 {
		t.Errorf("unexpected durations: %v, %v", got[0].DurationHours, got[1].DurationHours)
	}
}

func TestVelocity(t *testing.T) {
	env := newTestEnv(t)
	env.now = t0.Add(20 * 24 * time.Hour)
	for _, daysAgo := range []int{1, 2, 6, 10} {
		env.completedAt(t, env.now.Add(-time.Duration(daysAgo)*24*time.Hour))
	}
	env.add(t, store.Task{Status: store.StatusPending})
	env.add(t, store.Task{Status: store.StatusPending})
	env.add(t, store.Task{Status: store.StatusInProgress})
	env.add(t, store.Task{Status: store.StatusBlocked})

	v, err := env.monitor.Velocity(env.project.ID, 7)
	if err != nil {
		t.Fatalf("velocity: %v", err)
	}
	if v.TasksCompleted != 3 || v.TasksPerDay != 0.43 || v.RemainingTasks != 3 {
		t.Errorf("unexpected velocity: %+v", v)
	}
	if v.EstimatedDaysToCompletion == nil || *v.EstimatedDaysToCompletion != 7.0 {
		t.Errorf("expected 7 days to completion, got %v", v.EstimatedDaysToCompletion)
	}

	empty := newTestEnv(t)
	v, _ = empty.monitor.Velocity(empty.project.ID, 7)
	if v.TasksPerDay != 0 || v.EstimatedDaysToCompletion != nil {
		t.Errorf("expected zero velocity without estimate, got %+v", v)
	}
}

func TestDetectStuckPatterns(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, env *testEnv)
		want  []IndicatorType
	}{
		{
			name:  "empty project",
			setup: func(t *testing.T, env *testEnv) {},
			want:  nil,
		},
		{
			name: "many blocked tasks",
			setup: func(t *testing.T, env *testEnv) {
				for i := 0; i < 5; i++ {
					env.add(t, store.Task{Status: store.StatusBlocked})
				}
			},
			want: []IndicatorType{IndicatorManyBlockedTasks},
		},
		{
			name: "three blocked is not many",
			setup: func(t *testing.T, env *testEnv) {
				for i := 0; i < 3; i++ {
					env.add(t, store.Task{Status: store.StatusBlocked})
				}
			},
			want: nil,
		},
		{
			name: "long running task and no progress",
			setup: func(t *testing.T, env *testEnv) {
				env.add(t, store.Task{Status: store.StatusInProgress, Description: "refactor everything"})
				env.now = t0.Add(50 * time.Hour)
			},
			want: []IndicatorType{IndicatorLongRunningTask, IndicatorNoCompletedTasks},
		},
		{
			name: "one whole day without completions",
			setup: func(t *testing.T, env *testEnv) {
				env.add(t, store.Task{Status: store.StatusPending})
				env.now = t0.Add(47 * time.Hour)
			},
			want: nil,
		},
		{
			name: "two whole days without completions",
			setup: func(t *testing.T, env *testEnv) {
				env.add(t, store.Task{Status: store.StatusPending})
				env.now = t0.Add(48 * time.Hour)
			},
			want: []IndicatorType{IndicatorNoCompletedTasks},
		},
		{
			name: "young project without completions",
			setup: func(t *testing.T, env *testEnv) {
				env.add(t, store.Task{Status: store.StatusPending})
				env.now = t0.Add(20 * time.Hour)
			},
			want: nil,
		},
		{
			name: "scope creep",
			setup: func(t *testing.T, env *testEnv) {
				env.add(t, store.Task{Status: store.StatusCompleted})
				env.add(t, store.Task{Status: store.StatusPending})
				env.add(t, store.Task{Status: store.StatusPending, IsScopeCreep: true})
			},
			want: []IndicatorType{IndicatorScopeCreep},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(t, env)
			got, err := env.monitor.DetectStuckPatterns(env.project.ID)
			if err != nil {
				t.Fatalf("detecting: %v", err)
			}
			var types []IndicatorType
			for _, ind := range got {
				types = append(types, ind.Type)
			}
			if !reflect.DeepEqual(types, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, types)
			}
		})
	}
}

func TestIndicatorDetails(t *testing.T) {
	env := newTestEnv(t)
	id := env.add(t, store.Task{Status: store.StatusInProgress, Description: "refactor everything"})
	env.add(t, store.Task{Status: store.StatusPending, IsScopeCreep: true})
	env.add(t, store.Task{Status: store.StatusPending})
	env.now = t0.Add(50 * time.Hour)

	got, _ := env.monitor.DetectStuckPatterns(env.project.ID)
	if len(got) != 3 {
		t.Fatalf("expected 3 indicators, got %+v", got)
	}
	long := got[0]
	if long.TaskID != id || long.AgeHours != 50 || long.Severity != SeverityHigh {
		t.Errorf("unexpected long-running indicator: %+v", long)
	}
	if got[1].AgeDays != 2 || got[1].Severity != SeverityMedium {
		t.Errorf("unexpected no-progress indicator: %+v", got[1])
	}
	if got[2].Count != 1 || got[2].Percentage != 33.3 {
		t.Errorf("unexpected scope creep indicator: %+v", got[2])
	}
}

func TestHealth(t *testing.T) {
	t.Run("no tasks is healthy", func(t *testing.T) {
		env := newTestEnv(t)
		h, err := env.monitor.Health(env.project.ID)
		if err != nil {
			t.Fatalf("health: %v", err)
		}
		if h.Score != 100 || h.Status != StatusHealthy || len(h.Issues) != 0 {
			t.Errorf("expected perfect health, got %+v", h)
		}
	})

	t.Run("five blocked tasks", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 5; i++ {
			env.add(t, store.Task{Status: store.StatusBlocked})
		}
		h, _ := env.monitor.Health(env.project.ID)
		// 100 - 30 blocked - 15 high indicator - 10 velocity
		if h.Score != 45 || h.Status != StatusAtRisk {
			t.Errorf("expected 45/at_risk, got %+v", h)
		}
		want := []string{"5 blocked tasks", "1 stuck indicators", "Low velocity"}
		if !reflect.DeepEqual(h.Issues, want) {
			t.Errorf("expected issues %v, got %v", want, h.Issues)
		}
	})

	t.Run("long running task", func(t *testing.T) {
		env := newTestEnv(t)
		env.add(t, store.Task{Status: store.StatusInProgress})
		env.now = t0.Add(50 * time.Hour)
		h, _ := env.monitor.Health(env.project.ID)
		// 100 - 15 high - 5 medium - 10 velocity
		if h.Score != 70 || h.Status != StatusNeedsAttention {
			t.Errorf("expected 70/needs_attention, got %+v", h)
		}
	})

	t.Run("score clamps at zero", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 8; i++ {
			env.add(t, store.Task{Status: store.StatusInProgress, IsScopeCreep: true})
		}
		for i := 0; i < 4; i++ {
			env.add(t, store.Task{Status: store.StatusBlocked, IsScopeCreep: true})
		}
		env.now = t0.Add(72 * time.Hour)
		h, _ := env.monitor.Health(env.project.ID)
		if h.Score != 0 || h.Status != StatusCritical {
			t.Errorf("expected 0/critical, got %+v", h)
		}
	})

	t.Run("fast completion", func(t *testing.T) {
		env := newTestEnv(t)
		env.now = t0.Add(10 * 24 * time.Hour)
		for i := 0; i < 7; i++ {
			env.completedAt(t, env.now.Add(-time.Duration(i)*time.Hour))
		}
		h, _ := env.monitor.Health(env.project.ID)
		if h.Score != 100 {
			t.Errorf("expected 100, got %+v", h)
		}
	})
}

func TestRecommendations(t *testing.T) {
	t.Run("empty project suggests next action", func(t *testing.T) {
		env := newTestEnv(t)
		got, err := env.monitor.Recommendations(env.project.ID)
		if err != nil {
			t.Fatalf("recommendations: %v", err)
		}
		want := []string{"Next: None - All tasks completed! 🎉"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("progressing well", func(t *testing.T) {
		env := newTestEnv(t)
		env.now = t0.Add(10 * 24 * time.Hour)
		for i := 0; i < 7; i++ {
			env.completedAt(t, env.now.Add(-time.Duration(i)*time.Hour))
		}
		got, _ := env.monitor.Recommendations(env.project.ID)
		want := []string{"✓ Project is progressing well. Keep up the momentum!"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("moderate pace falls back to next action", func(t *testing.T) {
		env := newTestEnv(t)
		env.now = t0.Add(10 * 24 * time.Hour)
		for i := 0; i < 4; i++ {
			env.completedAt(t, env.now.Add(-time.Duration(i)*time.Hour))
		}
		env.add(t, store.Task{Status: store.StatusPending, Description: "Write the table parser for GitHub flavoured markdown extensions"})
		got, _ := env.monitor.Recommendations(env.project.ID)
		want := []string{"Next: Start - Write the table parser for GitHub flavoured markdo..."}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("expected %v, got %v", want, got)
		}
	})

	t.Run("troubled project", func(t *testing.T) {
		env := newTestEnv(t)
		for i := 0; i < 3; i++ {
			env.add(t, store.Task{Status: store.StatusInProgress, Description: "big task"})
		}
		for i := 0; i < 4; i++ {
			env.add(t, store.Task{Status: store.StatusBlocked})
		}
		env.add(t, store.Task{Status: store.StatusPending, IsScopeCreep: true})
		env.now = t0.Add(48 * time.Hour)

		got, _ := env.monitor.Recommendations(env.project.ID)
		want := []string{
			"⚠️  Project health is concerning. Address blocking issues immediately.",
			"Consider breaking down or reassessing: big task...",
			"Consider breaking down or reassessing: big task...",
			"Consider breaking down or reassessing: big task...",
			"Focus on unblocking tasks before starting new work",
			"Velocity is low. Break tasks into smaller, achievable chunks.",
			"Multiple tasks in progress. Focus on completing one before starting another.",
			"You have 4 blocked tasks. Work on unblocking them.",
			"Review 1 scope creep tasks - remove or adjust scope.",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("unexpected recommendations:\n got: %q\nwant: %q", got, want)
		}
	})
}

func TestProductivityReport(t *testing.T) {
	env := newTestEnv(t)
	sess, _ := env.store.StartSession(env.project.ID, "m", nil)
	env.add(t, store.Task{Status: store.StatusPending})
	env.add(t, store.Task{Status: store.StatusInProgress})
	env.add(t, store.Task{Status: store.StatusBlocked})
	env.now = t0.Add(3 * time.Hour)
	env.completedAt(t, env.now)
	_ = env.store.EndSession(sess.ID)

	r, err := env.monitor.ProductivityReport(env.project.ID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if r.Project.Name != "demo" {
		t.Errorf("expected project demo, got %+v", r.Project)
	}
	want := Completion{Percentage: 25, Completed: 1, Total: 4, Remaining: 2}
	if r.Completion != want {
		t.Errorf("expected %+v, got %+v", want, r.Completion)
	}
	if r.Time.TotalHours != 3 || r.Time.SessionCount != 1 || r.Time.AvgSessionHours != 3 {
		t.Errorf("unexpected time: %+v", r.Time)
	}
	if r.StatusBreakdown.Blocked != 1 || r.Health == nil || r.Velocity == nil {
		t.Errorf("unexpected report: %+v", r)
	}
	if r.Compliance == nil || r.Compliance.TotalTasks != 4 || r.Compliance.ComplianceScore != 100 {
		t.Errorf("unexpected compliance: %+v", r.Compliance)
	}
	tv := r.TaskVelocity
	if tv == nil || tv.CompletedCount != 1 || tv.AvgCompletionHours == nil || *tv.AvgCompletionHours != 1 {
		t.Errorf("unexpected task velocity: %+v", tv)
	}
	if tv != nil && (tv.EstimatedCompletion == nil || !tv.EstimatedCompletion.Equal(env.now.Add(3*time.Hour))) {
		t.Errorf("expected completion estimate 3h out, got %+v", tv.EstimatedCompletion)
	}

	missing, err := env.monitor.ProductivityReport("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing.Error != "Project not found" {
		t.Errorf("expected not-found report, got %+v", missing)
	}
}
