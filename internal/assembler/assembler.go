// Package assembler renders a size-bounded text snapshot of a project for
// injection into a prompt.
package assembler

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/swamp-dev/conductor/internal/scope"
	"github.com/swamp-dev/conductor/internal/store"
)

// Default section sizes.
const (
	DefaultHistoryItems  = 10
	DefaultDecisionItems = 5
)

const (
	pendingPreview       = 5
	contextSnippetLen    = 100
	neutralRelevance     = 0.5
	summaryLearningLimit = 100
)

// Options controls what the assembler includes.
type Options struct {
	MaxSize       int
	HistoryItems  int
	DecisionItems int
}

// Sections selects the parts Format renders.
type Sections struct {
	Header    bool
	History   bool
	Decisions bool
	Patterns  bool
}

// AllSections enables every section.
func AllSections() Sections {
	return Sections{Header: true, History: true, Decisions: true, Patterns: true}
}

// Summary describes a project's context footprint.
type Summary struct {
	ProjectName        string           `json:"project_name"`
	Scope              string           `json:"scope"`
	TaskStats          *store.TaskStats `json:"task_stats"`
	LearningCount      int              `json:"learning_count"`
	ActiveSessions     int              `json:"active_sessions"`
	ContextSize        int              `json:"context_size"`
	ContextUtilization float64          `json:"context_utilization"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// Assembler builds project context strings from storage.
type Assembler struct {
	store  store.Backend
	opts   Options
	budget Budget
}

// New creates an assembler. Zero option fields take their defaults.
func New(b store.Backend, opts Options) *Assembler {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if opts.HistoryItems <= 0 {
		opts.HistoryItems = DefaultHistoryItems
	}
	if opts.DecisionItems <= 0 {
		opts.DecisionItems = DefaultDecisionItems
	}
	budget := DefaultBudget()
	budget.MaxChars = opts.MaxSize
	return &Assembler{store: b, opts: opts, budget: budget}
}

// MaxSize returns the character budget.
func (a *Assembler) MaxSize() int {
	return a.opts.MaxSize
}

// Prepare assembles header, history, decisions and patterns within the budget.
func (a *Assembler) Prepare(projectID string) (string, error) {
	return a.Format(projectID, AllSections())
}

// Format assembles the selected sections, in priority order, within the budget.
func (a *Assembler) Format(projectID string, s Sections) (string, error) {
	type section struct {
		enabled bool
		render  func(string) (string, error)
	}
	var parts []string
	for _, sec := range []section{
		{s.Header, a.Header},
		{s.History, a.History},
		{s.Decisions, a.Decisions},
		{s.Patterns, a.Patterns},
	} {
		if !sec.enabled {
			continue
		}
		part, err := sec.render(projectID)
		if err != nil {
			return "", err
		}
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return a.budget.Fit(parts), nil
}

// Header renders the project name, scope, progress and blocked warning.
// An unknown project renders as "".
func (a *Assembler) Header(projectID string) (string, error) {
	p, err := a.store.GetProject(projectID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading project: %w", err)
	}
	stats, err := a.store.TaskStats(projectID)
	if err != nil {
		return "", fmt.Errorf("counting tasks: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Project: %s", p.Name)
	fmt.Fprintf(&b, "\n**Scope:** %s", p.Scope)
	if stats.Total > 0 {
		pct := stats.Completed * 100 / stats.Total
		fmt.Fprintf(&b, "\n**Progress:** %d%% complete (%d/%d tasks)", pct, stats.Completed, stats.Total)
		if stats.Blocked > 0 {
			fmt.Fprintf(&b, "\n⚠️  %d blocked tasks", stats.Blocked)
		}
	}
	return b.String(), nil
}

// History renders recently completed, in-progress, upcoming and blocked tasks.
func (a *Assembler) History(projectID string) (string, error) {
	list := func(status store.TaskStatus) ([]*store.Task, error) {
		tasks, err := a.store.ListTasks(projectID, store.TaskFilter{Status: status})
		if err != nil {
			return nil, fmt.Errorf("listing %s tasks: %w", status, err)
		}
		return tasks, nil
	}

	var b strings.Builder

	completed, err := list(store.StatusCompleted)
	if err != nil {
		return "", err
	}
	if len(completed) > 0 {
		sort.SliceStable(completed, func(i, j int) bool {
			return completedAt(completed[i]).Before(completedAt(completed[j]))
		})
		if len(completed) > a.opts.HistoryItems {
			completed = completed[len(completed)-a.opts.HistoryItems:]
		}
		b.WriteString("\n\n## Recently Completed")
		for _, t := range completed {
			fmt.Fprintf(&b, "\n- ✓ %s", t.Description)
		}
	}

	inProgress, err := list(store.StatusInProgress)
	if err != nil {
		return "", err
	}
	if len(inProgress) > 0 {
		b.WriteString("\n\n## In Progress")
		for _, t := range inProgress {
			fmt.Fprintf(&b, "\n- ⟳ %s", t.Description)
		}
	}

	pending, err := list(store.StatusPending)
	if err != nil {
		return "", err
	}
	if len(pending) > 0 {
		b.WriteString("\n\n## Next Tasks")
		for _, t := range pending[:min(len(pending), pendingPreview)] {
			fmt.Fprintf(&b, "\n- ○ %s", t.Description)
		}
		if len(pending) > pendingPreview {
			fmt.Fprintf(&b, "\n- ... and %d more", len(pending)-pendingPreview)
		}
	}

	blocked, err := list(store.StatusBlocked)
	if err != nil {
		return "", err
	}
	if len(blocked) > 0 {
		b.WriteString("\n\n## Blocked Tasks")
		for _, t := range blocked {
			if t.BlockedReason != "" {
				fmt.Fprintf(&b, "\n- 🚫 %s (%s)", t.Description, t.BlockedReason)
			} else {
				fmt.Fprintf(&b, "\n- 🚫 %s", t.Description)
			}
		}
	}

	return b.String(), nil
}

func completedAt(t *store.Task) time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}

// Decisions renders the most recent learnings with shortened context.
func (a *Assembler) Decisions(projectID string) (string, error) {
	learnings, err := a.store.Learnings(store.LearningQuery{ProjectID: projectID, Limit: a.opts.DecisionItems})
	if err != nil {
		return "", fmt.Errorf("loading learnings: %w", err)
	}
	if len(learnings) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("\n\n## Recent Learnings & Decisions")
	for _, l := range learnings {
		fmt.Fprintf(&b, "\n- %s", l.Pattern)
		if l.Context != "" {
			fmt.Fprintf(&b, "\n  Context: %s", Snippet(l.Context, contextSnippetLen))
		}
	}
	return b.String(), nil
}

// Patterns is reserved for code conventions and currently renders nothing.
func (a *Assembler) Patterns(string) (string, error) {
	return "", nil
}

// Snippet shortens s to at most n characters, ending in "..." when cut.
func Snippet(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return truncateRunes(s, n-3) + "..."
}

// ScopeKeywords returns the keywords of the project's scope, sorted.
func (a *Assembler) ScopeKeywords(projectID string) ([]string, error) {
	p, err := a.store.GetProject(projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return scope.ExtractKeywords(p.Scope).Sorted(), nil
}

// RelevanceScore is the Jaccard similarity of task and scope keywords, or a
// neutral 0.5 when either side has no keywords.
func (a *Assembler) RelevanceScore(task, projectID string) (float64, error) {
	kw, err := a.ScopeKeywords(projectID)
	if err != nil {
		return 0, err
	}
	scopeKW := make(scope.Keywords, len(kw))
	for _, w := range kw {
		scopeKW[w] = struct{}{}
	}
	taskKW := scope.ExtractKeywords(task)
	if len(scopeKW) == 0 || len(taskKW) == 0 {
		return neutralRelevance, nil
	}
	return scope.Jaccard(scopeKW, taskKW), nil
}

// Exclusions lists the terms the project's scope explicitly rules out.
func (a *Assembler) Exclusions(projectID string) ([]string, error) {
	p, err := a.store.GetProject(projectID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	var out []string
	for _, e := range scope.Exclusions(p.Scope) {
		out = append(out, e.Term)
	}
	return out, nil
}

// Summary reports task counts, learnings, sessions and context utilization.
func (a *Assembler) Summary(projectID string) (*Summary, error) {
	p, err := a.store.GetProject(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	stats, err := a.store.TaskStats(projectID)
	if err != nil {
		return nil, fmt.Errorf("counting tasks: %w", err)
	}
	learnings, err := a.store.Learnings(store.LearningQuery{ProjectID: projectID, Limit: summaryLearningLimit})
	if err != nil {
		return nil, fmt.Errorf("loading learnings: %w", err)
	}
	active, err := a.store.ActiveSessions(projectID)
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}
	ctx, err := a.Prepare(projectID)
	if err != nil {
		return nil, err
	}
	size := utf8.RuneCountInString(ctx)

	return &Summary{
		ProjectName:        p.Name,
		Scope:              p.Scope,
		TaskStats:          stats,
		LearningCount:      len(learnings),
		ActiveSessions:     len(active),
		ContextSize:        size,
		ContextUtilization: a.budget.Check(size).Utilization,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}, nil
}
