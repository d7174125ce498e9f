// Package journal provides the learnings journal for conductor projects.
package journal

import (
	"fmt"
	"strings"

	"github.com/swamp-dev/conductor/internal/store"
)

// Journal is a thin wrapper over store for managing a project's learnings.
type Journal struct {
	store     store.Backend
	projectID string
}

// New creates a new journal for the given project.
func New(b store.Backend, projectID string) *Journal {
	return &Journal{store: b, projectID: projectID}
}

// Add records a learning. sessionID may be empty.
func (j *Journal) Add(pattern, context, sessionID string) (*store.Learning, error) {
	l := &store.Learning{
		ProjectID: j.projectID,
		SessionID: sessionID,
		Pattern:   strings.TrimSpace(pattern),
		Context:   strings.TrimSpace(context),
	}
	if _, err := j.store.AddLearning(l); err != nil {
		return nil, err
	}
	return l, nil
}

// Entries returns the project's learnings, newest first. A limit <= 0 returns all.
func (j *Journal) Entries(limit int) ([]*store.Learning, error) {
	return j.store.Learnings(store.LearningQuery{ProjectID: j.projectID, Limit: limit})
}

// SessionEntries returns learnings recorded during one session.
func (j *Journal) SessionEntries(sessionID string) ([]*store.Learning, error) {
	return j.store.Learnings(store.LearningQuery{ProjectID: j.projectID, SessionID: sessionID})
}

// ExportMarkdown generates a human-readable markdown journal, oldest entry first.
func (j *Journal) ExportMarkdown() (string, error) {
	p, err := j.store.GetProject(j.projectID)
	if err != nil {
		return "", fmt.Errorf("loading project: %w", err)
	}
	entries, err := j.Entries(0)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s Learnings Journal\n\n", p.Name))
	if len(entries) == 0 {
		sb.WriteString("No learnings recorded yet.\n")
		return sb.String(), nil
	}
	for i := len(entries) - 1; i >= 0; i-- {
		sb.WriteString(RenderEntry(entries[i]))
		sb.WriteString("\n---\n\n")
	}
	return sb.String(), nil
}

// RenderEntry formats a single learning as markdown.
func RenderEntry(l *store.Learning) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## %s\n", l.Pattern))
	sb.WriteString(fmt.Sprintf("**%s", l.CreatedAt.Format("2006-01-02 15:04")))
	if l.SessionID != "" {
		sb.WriteString(fmt.Sprintf(" | Session %s", shortID(l.SessionID)))
	}
	sb.WriteString("**\n")
	if l.Context != "" {
		sb.WriteString("\n")
		sb.WriteString(l.Context)
		sb.WriteString("\n")
	}

	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
