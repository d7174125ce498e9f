package monitor

import (
	"errors"
	"fmt"
	"time"

	"github.com/swamp-dev/conductor/internal/scope"
	"github.com/swamp-dev/conductor/internal/store"
)

// ProjectInfo identifies the project a report covers.
type ProjectInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Scope     string    `json:"scope"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Completion summarizes how much of the backlog is done.
type Completion struct {
	Percentage int `json:"percentage"`
	Completed  int `json:"completed"`
	Total      int `json:"total"`
	Remaining  int `json:"remaining"`
}

// TimeSpent totals session time.
type TimeSpent struct {
	TotalHours      float64 `json:"total_hours"`
	SessionCount    int     `json:"session_count"`
	AvgSessionHours float64 `json:"avg_session_hours"`
}

// StatusBreakdown counts tasks per status.
type StatusBreakdown struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Blocked    int `json:"blocked"`
}

// Report is the composite productivity report for one project.
type Report struct {
	Project         *ProjectInfo            `json:"project,omitempty"`
	Completion      Completion              `json:"completion"`
	Health          *Health                 `json:"health,omitempty"`
	Velocity        *Velocity               `json:"velocity,omitempty"`
	TaskVelocity    *scope.VelocityMetrics  `json:"task_velocity,omitempty"`
	Compliance      *scope.ComplianceReport `json:"scope_compliance,omitempty"`
	StuckPatterns   []Indicator             `json:"stuck_patterns"`
	Sessions        []*SessionAnalysis      `json:"sessions,omitempty"`
	Time            TimeSpent               `json:"time"`
	StatusBreakdown StatusBreakdown         `json:"status_breakdown"`
	Error           string                  `json:"error,omitempty"`
}

// ProductivityReport aggregates completion, health, velocity, stuck
// indicators, scope compliance and session time. An unknown project yields a
// report with Error set.
func (m *Monitor) ProductivityReport(projectID string) (*Report, error) {
	p, err := m.store.GetProject(projectID)
	if errors.Is(err, store.ErrNotFound) {
		return &Report{Error: "Project not found"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}

	stats, err := m.store.TaskStats(projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	velocity, err := m.Velocity(projectID, defaultVelocityDays)
	if err != nil {
		return nil, err
	}
	health, err := m.Health(projectID)
	if err != nil {
		return nil, err
	}
	stuck, err := m.DetectStuckPatterns(projectID)
	if err != nil {
		return nil, err
	}
	sessions, err := m.ProjectSessions(projectID)
	if err != nil {
		return nil, err
	}

	tracker := scope.NewTracker(m.store, projectID, m.logger)
	tracker.SetClock(m.now)
	compliance, err := tracker.ComplianceReport()
	if err != nil {
		return nil, err
	}
	taskVelocity, err := tracker.VelocityMetrics()
	if err != nil {
		return nil, err
	}

	var total float64
	for _, s := range sessions {
		total += s.DurationHours
	}
	spent := TimeSpent{TotalHours: round(total, 2), SessionCount: len(sessions)}
	if len(sessions) > 0 {
		spent.AvgSessionHours = round(total/float64(len(sessions)), 2)
	}

	completion := Completion{
		Completed: stats.Completed,
		Total:     stats.Total,
		Remaining: stats.Pending + stats.InProgress,
	}
	if stats.Total > 0 {
		completion.Percentage = stats.Completed * 100 / stats.Total
	}
	if stuck == nil {
		stuck = []Indicator{}
	}

	return &Report{
		Project: &ProjectInfo{
			ID:        p.ID,
			Name:      p.Name,
			Scope:     p.Scope,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		},
		Completion:    completion,
		Health:        health,
		Velocity:      velocity,
		TaskVelocity:  taskVelocity,
		Compliance:    compliance,
		StuckPatterns: stuck,
		Sessions:      sessions,
		Time:          spent,
		StatusBreakdown: StatusBreakdown{
			Pending:    stats.Pending,
			InProgress: stats.InProgress,
			Completed:  stats.Completed,
			Blocked:    stats.Blocked,
		},
	}, nil
}
