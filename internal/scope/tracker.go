package scope

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/swamp-dev/conductor/internal/store"
)

// CreepThreshold is the keyword similarity below which a task is considered
// outside the project's scope.
const CreepThreshold = 0.3

// Verdict is the classifier's decision for one proposed task.
type Verdict struct {
	IsCreep    bool       `json:"is_creep"`
	Reason     string     `json:"reason"`
	Similarity float64    `json:"similarity"`
	Exclusion  *Exclusion `json:"exclusion,omitempty"`
}

// Classify decides whether task falls outside scope. An explicit exclusion
// wins before similarity is computed.
func Classify(task, scope string) Verdict {
	if e, ok := matchExclusion(task, scope); ok {
		return Verdict{IsCreep: true, Reason: "Explicitly excluded: " + e.String(), Exclusion: &e}
	}

	sim := Jaccard(ExtractKeywords(scope), ExtractKeywords(task))
	if sim < CreepThreshold {
		return Verdict{
			IsCreep:    true,
			Reason:     fmt.Sprintf("Low relevance to original scope (similarity: %.2f)", sim),
			Similarity: sim,
		}
	}
	return Verdict{
		Reason:     fmt.Sprintf("Within scope (similarity: %.2f)", sim),
		Similarity: sim,
	}
}

// Action is the kind of next step suggested to the user.
type Action string

const (
	ActionContinue Action = "continue"
	ActionUnblock  Action = "unblock"
	ActionStart    Action = "start"
	ActionNone     Action = "none"
)

// NextAction is a concrete suggestion for what to work on.
type NextAction struct {
	Action      Action `json:"action"`
	TaskID      int64  `json:"task_id,omitempty"`
	Description string `json:"description,omitempty"`
	Reason      string `json:"reason"`
}

// ComplianceReport summarizes how much of the backlog is scope creep.
type ComplianceReport struct {
	TotalTasks           int     `json:"total_tasks"`
	ScopeCreepTasks      int     `json:"scope_creep_tasks"`
	ScopeCreepPercentage float64 `json:"scope_creep_percentage"`
	CompletedScopeCreep  int     `json:"completed_scope_creep"`
	ComplianceScore      float64 `json:"compliance_score"`
}

// PathStep is one entry of the ordered completion path.
type PathStep struct {
	TaskID      int64            `json:"task_id"`
	Description string           `json:"description"`
	Status      store.TaskStatus `json:"status"`
	Priority    string           `json:"priority"`
	Reason      string           `json:"reason"`
}

// StateSummary bundles the tracker's view of a project.
type StateSummary struct {
	Project        *store.Project   `json:"project"`
	Stats          *store.TaskStats `json:"stats"`
	Progress       int              `json:"progress"`
	RemainingTasks int              `json:"remaining_tasks"`
	NextAction     *NextAction      `json:"next_action"`
	BlockerCount   int              `json:"blocker_count"`
	Blockers       []*store.Task    `json:"blockers"`
}

// VelocityMetrics describes how fast tasks get completed once created.
type VelocityMetrics struct {
	CompletedCount      int        `json:"completed_count"`
	AvgCompletionHours  *float64   `json:"avg_completion_time_hours"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
	RemainingTasks      int        `json:"remaining_tasks"`
}

// AddResult reports what AddTask did.
type AddResult struct {
	Task    *store.Task `json:"task,omitempty"`
	Verdict Verdict     `json:"verdict"`
	Added   bool        `json:"added"`
}

// Tracker manages the task lifecycle of one project.
type Tracker struct {
	store     store.Backend
	projectID string
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker creates a tracker for projectID.
func NewTracker(b store.Backend, projectID string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tracker{store: b, projectID: projectID, logger: logger, now: time.Now}
}

// SetClock replaces the time source.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// ProjectID returns the tracked project's ID.
func (t *Tracker) ProjectID() string {
	return t.projectID
}

// CheckScopeCreep classifies taskDescription against the project's scope.
// An unknown project yields (false, "Project not found") rather than an error.
func (t *Tracker) CheckScopeCreep(taskDescription string) (bool, string, error) {
	v, err := t.Check(taskDescription)
	if err != nil {
		return false, "", err
	}
	return v.IsCreep, v.Reason, nil
}

// Check is CheckScopeCreep returning the full verdict.
func (t *Tracker) Check(taskDescription string) (Verdict, error) {
	p, err := t.store.GetProject(t.projectID)
	if errors.Is(err, store.ErrNotFound) {
		return Verdict{Reason: "Project not found"}, nil
	}
	if err != nil {
		return Verdict{}, fmt.Errorf("loading project: %w", err)
	}
	return Classify(taskDescription, p.Scope), nil
}

// AddTask classifies a new task and stores it with its scope-creep flag.
// A creeping task is only stored when force is set.
func (t *Tracker) AddTask(description string, force bool, meta store.Metadata) (*AddResult, error) {
	v, err := t.Check(description)
	if err != nil {
		return nil, err
	}
	res := &AddResult{Verdict: v}
	if v.IsCreep && !force {
		t.logger.Debug("task rejected as scope creep", "reason", v.Reason)
		return res, nil
	}

	task := &store.Task{
		ProjectID:    t.projectID,
		Description:  description,
		IsScopeCreep: v.IsCreep,
		Metadata:     meta,
		CreatedAt:    t.now().UTC(),
	}
	if _, err := t.store.AddTask(task); err != nil {
		return nil, fmt.Errorf("adding task: %w", err)
	}
	t.logger.Info("task added", "task", task.ID, "scope_creep", task.IsScopeCreep)
	res.Task = task
	res.Added = true
	return res, nil
}

// MarkComplete completes a task and, when sessionID is set, credits the session.
func (t *Tracker) MarkComplete(taskID int64, sessionID string) error {
	if err := t.store.UpdateTaskStatus(taskID, store.StatusCompleted, ""); err != nil {
		return fmt.Errorf("completing task %d: %w", taskID, err)
	}
	if sessionID != "" {
		if err := t.store.IncrementSessionTasks(sessionID); err != nil {
			return fmt.Errorf("crediting session %s: %w", sessionID, err)
		}
	}
	t.logger.Info("task completed", "task", taskID, "session", sessionID)
	return nil
}

// MarkBlocked blocks a task with a reason.
func (t *Tracker) MarkBlocked(taskID int64, reason string) error {
	if err := t.store.UpdateTaskStatus(taskID, store.StatusBlocked, reason); err != nil {
		return fmt.Errorf("blocking task %d: %w", taskID, err)
	}
	t.logger.Info("task blocked", "task", taskID, "reason", reason)
	return nil
}

// MarkInProgress starts work on a task.
func (t *Tracker) MarkInProgress(taskID int64) error {
	if err := t.store.UpdateTaskStatus(taskID, store.StatusInProgress, ""); err != nil {
		return fmt.Errorf("starting task %d: %w", taskID, err)
	}
	t.logger.Info("task started", "task", taskID)
	return nil
}

func (t *Tracker) tasks(status store.TaskStatus) ([]*store.Task, error) {
	tasks, err := t.store.ListTasks(t.projectID, store.TaskFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("listing %s tasks: %w", status, err)
	}
	return tasks, nil
}

// SuggestNextAction picks what to do next: finish in-progress work, then try
// to unblock, then start the oldest pending task.
func (t *Tracker) SuggestNextAction() (*NextAction, error) {
	inProgress, err := t.tasks(store.StatusInProgress)
	if err != nil {
		return nil, err
	}
	if len(inProgress) > 0 {
		task := inProgress[0]
		return &NextAction{
			Action:      ActionContinue,
			TaskID:      task.ID,
			Description: task.Description,
			Reason:      "Complete in-progress task before starting new work",
		}, nil
	}

	blocked, err := t.tasks(store.StatusBlocked)
	if err != nil {
		return nil, err
	}
	if len(blocked) > 0 {
		task := blocked[0]
		reason := task.BlockedReason
		if reason == "" {
			reason = "Unknown"
		}
		return &NextAction{
			Action:      ActionUnblock,
			TaskID:      task.ID,
			Description: task.Description,
			Reason:      "Blocked: " + reason,
		}, nil
	}

	pending, err := t.tasks(store.StatusPending)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		task := pending[0]
		return &NextAction{
			Action:      ActionStart,
			TaskID:      task.ID,
			Description: task.Description,
			Reason:      "Next task in queue",
		}, nil
	}

	return &NextAction{Action: ActionNone, Reason: "All tasks completed! 🎉"}, nil
}

// ComplianceReport counts scope-creep tasks across the whole backlog.
func (t *Tracker) ComplianceReport() (*ComplianceReport, error) {
	all, err := t.tasks("")
	if err != nil {
		return nil, err
	}
	r := &ComplianceReport{TotalTasks: len(all), ComplianceScore: 100}
	for _, task := range all {
		if !task.IsScopeCreep {
			continue
		}
		r.ScopeCreepTasks++
		if task.Status == store.StatusCompleted {
			r.CompletedScopeCreep++
		}
	}
	if r.TotalTasks > 0 {
		total := float64(r.TotalTasks)
		r.ScopeCreepPercentage = float64(r.ScopeCreepTasks) / total * 100
		r.ComplianceScore = float64(r.TotalTasks-r.ScopeCreepTasks) / total * 100
	}
	return r, nil
}

// CompletionPath lists in-progress tasks followed by pending ones.
func (t *Tracker) CompletionPath() ([]PathStep, error) {
	inProgress, err := t.tasks(store.StatusInProgress)
	if err != nil {
		return nil, err
	}
	pending, err := t.tasks(store.StatusPending)
	if err != nil {
		return nil, err
	}

	path := make([]PathStep, 0, len(inProgress)+len(pending))
	for _, task := range inProgress {
		path = append(path, PathStep{task.ID, task.Description, task.Status, "high", "Already in progress"})
	}
	for _, task := range pending {
		path = append(path, PathStep{task.ID, task.Description, task.Status, "normal", "Pending"})
	}
	return path, nil
}

// Blockers returns the project's blocked tasks.
func (t *Tracker) Blockers() ([]*store.Task, error) {
	return t.tasks(store.StatusBlocked)
}

// ProgressPercentage returns completed/total as a whole percentage, 0 with no tasks.
func (t *Tracker) ProgressPercentage() (int, error) {
	stats, err := t.store.TaskStats(t.projectID)
	if err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return progressPercent(stats), nil
}

// RemainingTasks counts tasks that are not completed.
func (t *Tracker) RemainingTasks() (int, error) {
	stats, err := t.store.TaskStats(t.projectID)
	if err != nil {
		return 0, fmt.Errorf("counting tasks: %w", err)
	}
	return stats.Remaining(), nil
}

func progressPercent(stats *store.TaskStats) int {
	if stats.Total == 0 {
		return 0
	}
	return stats.Completed * 100 / stats.Total
}

// StateSummary gathers project, counts, progress, next action and blockers.
func (t *Tracker) StateSummary() (*StateSummary, error) {
	p, err := t.store.GetProject(t.projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	stats, err := t.store.TaskStats(t.projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	next, err := t.SuggestNextAction()
	if err != nil {
		return nil, err
	}
	blockers, err := t.Blockers()
	if err != nil {
		return nil, err
	}
	return &StateSummary{
		Project:        p,
		Stats:          stats,
		Progress:       progressPercent(stats),
		RemainingTasks: stats.Remaining(),
		NextAction:     next,
		BlockerCount:   len(blockers),
		Blockers:       blockers,
	}, nil
}

// VelocityMetrics averages created-to-completed time and projects a finish
// time for the remaining tasks.
func (t *Tracker) VelocityMetrics() (*VelocityMetrics, error) {
	completed, err := t.tasks(store.StatusCompleted)
	if err != nil {
		return nil, err
	}
	remaining, err := t.RemainingTasks()
	if err != nil {
		return nil, err
	}
	m := &VelocityMetrics{CompletedCount: len(completed), RemainingTasks: remaining}

	var total float64
	var n int
	for _, task := range completed {
		if task.CompletedAt == nil {
			continue
		}
		total += task.CompletedAt.Sub(task.CreatedAt).Hours()
		n++
	}
	if n == 0 {
		return m, nil
	}
	avg := total / float64(n)
	m.AvgCompletionHours = &avg
	if avg > 0 && remaining > 0 {
		eta := t.now().Add(time.Duration(avg * float64(remaining) * float64(time.Hour)))
		m.EstimatedCompletion = &eta
	}
	return m, nil
}
