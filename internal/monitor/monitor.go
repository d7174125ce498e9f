// Package monitor derives productivity signals from a project's tasks and
// sessions: velocity, stuck detection, a health score and recommendations.
package monitor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/swamp-dev/conductor/internal/scope"
	"github.com/swamp-dev/conductor/internal/store"
)

// IndicatorType categorizes stuck indicators.
type IndicatorType string

const (
	IndicatorLongRunningTask  IndicatorType = "long_running_task"
	IndicatorManyBlockedTasks IndicatorType = "many_blocked_tasks"
	IndicatorNoCompletedTasks IndicatorType = "no_completed_tasks"
	IndicatorScopeCreep       IndicatorType = "scope_creep"
)

// Severity ranks how urgent an indicator is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// HealthStatus buckets a health score.
type HealthStatus string

const (
	StatusHealthy        HealthStatus = "healthy"
	StatusNeedsAttention HealthStatus = "needs_attention"
	StatusAtRisk         HealthStatus = "at_risk"
	StatusCritical       HealthStatus = "critical"
)

const (
	longRunningAfter     = 24 * time.Hour
	noProgressAfterDays  = 1
	manyBlockedThreshold = 3
	lowVelocity          = 0.5
	goodVelocity         = 1.0
	creepRatioThreshold  = 0.2
	busyInProgress       = 2
	defaultVelocityDays  = 7
	descriptionPreview   = 50
)

// Indicator is one signal that a project may be stuck.
type Indicator struct {
	Type        IndicatorType `json:"type"`
	Severity    Severity      `json:"severity"`
	TaskID      int64         `json:"task_id,omitempty"`
	Description string        `json:"description,omitempty"`
	AgeHours    float64       `json:"age_hours,omitempty"`
	AgeDays     int           `json:"age_days,omitempty"`
	Count       int           `json:"count,omitempty"`
	Percentage  float64       `json:"percentage,omitempty"`
	Suggestion  string        `json:"suggestion"`
}

// SessionAnalysis describes one session's duration and throughput.
type SessionAnalysis struct {
	SessionID      string     `json:"session_id"`
	ProjectID      string     `json:"project_id,omitempty"`
	MachineID      string     `json:"machine_id,omitempty"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	DurationHours  float64    `json:"duration_hours"`
	TasksCompleted int        `json:"tasks_completed"`
	TasksPerHour   float64    `json:"tasks_per_hour"`
	IsActive       bool       `json:"is_active"`
	Error          string     `json:"error,omitempty"`
}

// Velocity is the completion rate over a trailing window.
type Velocity struct {
	PeriodDays                int      `json:"period_days"`
	TasksCompleted            int      `json:"tasks_completed"`
	TasksPerDay               float64  `json:"tasks_per_day"`
	RemainingTasks            int      `json:"remaining_tasks"`
	EstimatedDaysToCompletion *float64 `json:"estimated_days_to_completion"`
}

// Health is a 0-100 score with the issues that lowered it.
type Health struct {
	Score  int          `json:"score"`
	Status HealthStatus `json:"status"`
	Issues []string     `json:"issues"`
}

// Monitor computes analytics for projects in a store.
type Monitor struct {
	store  store.Backend
	logger *slog.Logger
	now    func() time.Time
}

// New creates a monitor over b.
func New(b store.Backend, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Monitor{store: b, logger: logger, now: time.Now}
}

// SetClock replaces the time source.
func (m *Monitor) SetClock(now func() time.Time) {
	m.now = now
}

// AnalyzeSession measures a session's duration and tasks per hour. Active
// sessions are measured up to now. An unknown session yields a result with
// Error set.
func (m *Monitor) AnalyzeSession(sessionID string) (*SessionAnalysis, error) {
	sess, err := m.store.GetSession(sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return &SessionAnalysis{SessionID: sessionID, Error: "Session not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	end := m.now()
	if sess.EndedAt != nil {
		end = *sess.EndedAt
	}
	hours := end.Sub(sess.StartedAt).Hours()
	var perHour float64
	if hours > 0 {
		perHour = float64(sess.TasksCompleted) / hours
	}

	return &SessionAnalysis{
		SessionID:      sess.ID,
		ProjectID:      sess.ProjectID,
		MachineID:      sess.MachineID,
		StartedAt:      sess.StartedAt,
		EndedAt:        sess.EndedAt,
		DurationHours:  round(hours, 2),
		TasksCompleted: sess.TasksCompleted,
		TasksPerHour:   round(perHour, 2),
		IsActive:       sess.Active(),
	}, nil
}

// ProjectSessions analyzes every session of a project, active ones first.
func (m *Monitor) ProjectSessions(projectID string) ([]*SessionAnalysis, error) {
	sessions, err := m.store.ProjectSessions(projectID)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	out := make([]*SessionAnalysis, 0, len(sessions))
	for _, s := range sessions {
		a, err := m.AnalyzeSession(s.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// SuggestNextAction delegates to the project's scope tracker.
func (m *Monitor) SuggestNextAction(projectID string) (*scope.NextAction, error) {
	return scope.NewTracker(m.store, projectID, m.logger).SuggestNextAction()
}

// Velocity counts tasks completed in the trailing days-day window and
// projects days to completion for the pending and in-progress tasks.
func (m *Monitor) Velocity(projectID string, days int) (*Velocity, error) {
	if days <= 0 {
		days = defaultVelocityDays
	}
	completed, err := m.store.ListTasks(projectID, store.TaskFilter{Status: store.StatusCompleted})
	if err != nil {
		return nil, fmt.Errorf("listing completed tasks: %w", err)
	}
	stats, err := m.store.TaskStats(projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}

	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	recent := 0
	for _, t := range completed {
		if t.CompletedAt != nil && !t.CompletedAt.Before(cutoff) {
			recent++
		}
	}

	perDay := float64(recent) / float64(days)
	v := &Velocity{
		PeriodDays:     days,
		TasksCompleted: recent,
		TasksPerDay:    round(perDay, 2),
		RemainingTasks: stats.Pending + stats.InProgress,
	}
	if perDay > 0 {
		est := round(float64(v.RemainingTasks)/perDay, 1)
		v.EstimatedDaysToCompletion = &est
	}
	return v, nil
}

// DetectStuckPatterns evaluates every stuck rule and returns those that apply.
func (m *Monitor) DetectStuckPatterns(projectID string) ([]Indicator, error) {
	now := m.now()
	var indicators []Indicator

	inProgress, err := m.store.ListTasks(projectID, store.TaskFilter{Status: store.StatusInProgress})
	if err != nil {
		return nil, fmt.Errorf("listing in-progress tasks: %w", err)
	}
	for _, t := range inProgress {
		age := now.Sub(t.CreatedAt)
		if age > longRunningAfter {
			indicators = append(indicators, Indicator{
				Type:        IndicatorLongRunningTask,
				Severity:    SeverityHigh,
				TaskID:      t.ID,
				Description: t.Description,
				AgeHours:    round(age.Hours(), 1),
				Suggestion:  "Consider breaking this task into smaller pieces or marking as blocked",
			})
		}
	}

	stats, err := m.store.TaskStats(projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}

	if stats.Blocked > manyBlockedThreshold {
		indicators = append(indicators, Indicator{
			Type:       IndicatorManyBlockedTasks,
			Severity:   SeverityHigh,
			Count:      stats.Blocked,
			Suggestion: "Focus on unblocking tasks before adding new work",
		})
	}

	if stats.Completed == 0 && stats.Total > 0 {
		p, err := m.store.GetProject(projectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading project: %w", err)
		}
		if p != nil {
			// Whole days, so a project starts counting as stalled on day two.
			if days := int(now.Sub(p.CreatedAt).Hours() / 24); days > noProgressAfterDays {
				indicators = append(indicators, Indicator{
					Type:       IndicatorNoCompletedTasks,
					Severity:   SeverityMedium,
					AgeDays:    days,
					Suggestion: "Complete at least one task to build momentum",
				})
			}
		}
	}

	creep, total, err := m.creepCount(projectID)
	if err != nil {
		return nil, err
	}
	if creep > 0 {
		indicators = append(indicators, Indicator{
			Type:       IndicatorScopeCreep,
			Severity:   SeverityMedium,
			Count:      creep,
			Percentage: round(float64(creep)/float64(total)*100, 1),
			Suggestion: "Review scope and remove out-of-scope tasks",
		})
	}

	return indicators, nil
}

func (m *Monitor) creepCount(projectID string) (creep, total int, err error) {
	all, err := m.store.ListTasks(projectID, store.TaskFilter{})
	if err != nil {
		return 0, 0, fmt.Errorf("listing tasks: %w", err)
	}
	for _, t := range all {
		if t.IsScopeCreep {
			creep++
		}
	}
	return creep, len(all), nil
}

// Health scores a project from 100 down. Penalties: blocked ratio x 30, 15 per
// high and 5 per other stuck indicator, 10 for low velocity, and creep ratio x 20
// once creep exceeds 20% of tasks. A project with no tasks is healthy.
func (m *Monitor) Health(projectID string) (*Health, error) {
	stats, err := m.store.TaskStats(projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	stuck, err := m.DetectStuckPatterns(projectID)
	if err != nil {
		return nil, err
	}
	velocity, err := m.Velocity(projectID, defaultVelocityDays)
	if err != nil {
		return nil, err
	}
	creep, total, err := m.creepCount(projectID)
	if err != nil {
		return nil, err
	}
	return computeHealth(stats, stuck, velocity, creep, total), nil
}

func computeHealth(stats *store.TaskStats, stuck []Indicator, v *Velocity, creep, total int) *Health {
	h := &Health{Score: 100, Issues: []string{}}

	if stats.Blocked > 0 && stats.Total > 0 {
		h.Score -= int(float64(stats.Blocked) / float64(stats.Total) * 30)
		h.Issues = append(h.Issues, fmt.Sprintf("%d blocked tasks", stats.Blocked))
	}

	if len(stuck) > 0 {
		high := 0
		for _, ind := range stuck {
			if ind.Severity == SeverityHigh {
				high++
			}
		}
		h.Score -= high*15 + (len(stuck)-high)*5
		h.Issues = append(h.Issues, fmt.Sprintf("%d stuck indicators", len(stuck)))
	}

	if stats.Total > 0 && v.TasksPerDay < lowVelocity {
		h.Score -= 10
		h.Issues = append(h.Issues, "Low velocity")
	}

	if creep > 0 && total > 0 {
		ratio := float64(creep) / float64(total)
		if ratio > creepRatioThreshold {
			h.Score -= int(ratio * 20)
			h.Issues = append(h.Issues, fmt.Sprintf("%d scope creep tasks", creep))
		}
	}

	h.Score = max(0, min(100, h.Score))
	switch {
	case h.Score >= 80:
		h.Status = StatusHealthy
	case h.Score >= 60:
		h.Status = StatusNeedsAttention
	case h.Score >= 40:
		h.Status = StatusAtRisk
	default:
		h.Status = StatusCritical
	}
	return h
}

// Recommendations turns health, stuck indicators, velocity and task status
// into actionable advice. With nothing to flag it suggests the next action.
func (m *Monitor) Recommendations(projectID string) ([]string, error) {
	stats, err := m.store.TaskStats(projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	stuck, err := m.DetectStuckPatterns(projectID)
	if err != nil {
		return nil, err
	}
	velocity, err := m.Velocity(projectID, defaultVelocityDays)
	if err != nil {
		return nil, err
	}
	creep, total, err := m.creepCount(projectID)
	if err != nil {
		return nil, err
	}
	health := computeHealth(stats, stuck, velocity, creep, total)

	var recs []string
	if health.Score < 60 {
		recs = append(recs, "⚠️  Project health is concerning. Address blocking issues immediately.")
	}
	for _, ind := range stuck {
		switch ind.Type {
		case IndicatorLongRunningTask:
			recs = append(recs, "Consider breaking down or reassessing: "+preview(ind.Description)+"...")
		case IndicatorManyBlockedTasks:
			recs = append(recs, "Focus on unblocking tasks before starting new work")
		}
	}
	if stats.Total > 0 && velocity.TasksPerDay < lowVelocity {
		recs = append(recs, "Velocity is low. Break tasks into smaller, achievable chunks.")
	}
	if stats.InProgress > busyInProgress {
		recs = append(recs, "Multiple tasks in progress. Focus on completing one before starting another.")
	}
	if stats.Blocked > 0 {
		recs = append(recs, fmt.Sprintf("You have %d blocked tasks. Work on unblocking them.", stats.Blocked))
	}
	if creep > 0 {
		recs = append(recs, fmt.Sprintf("Review %d scope creep tasks - remove or adjust scope.", creep))
	}

	if len(recs) == 0 && health.Score >= 80 && velocity.TasksPerDay >= goodVelocity {
		recs = append(recs, "✓ Project is progressing well. Keep up the momentum!")
	}

	if len(recs) == 0 {
		next, err := m.SuggestNextAction(projectID)
		if err != nil {
			return nil, err
		}
		recs = append(recs, formatNextAction(next))
	}
	return recs, nil
}

func formatNextAction(next *scope.NextAction) string {
	action := string(next.Action)
	if action != "" {
		action = strings.ToUpper(action[:1]) + action[1:]
	}
	if next.Description == "" {
		return fmt.Sprintf("Next: %s - %s", action, next.Reason)
	}
	return fmt.Sprintf("Next: %s - %s...", action, preview(next.Description))
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > descriptionPreview {
		return string(r[:descriptionPreview])
	}
	return s
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
