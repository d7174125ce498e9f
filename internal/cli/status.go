package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/scope"
	"github.com/swamp-dev/conductor/internal/store"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show project status",
	Long: `Status displays the progress of one project, or of every project when
no project is selected.

It shows:
- Overall completion percentage
- The scope statement
- Every task with its state and blocked reason

With --json each project is written as a summary that also carries the
suggested next action and the blocked tasks.

Examples:
  conductor status
  conductor status -p rag
  conductor status --json`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output in JSON format")
}

func runStatus(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	var projects []*store.Project
	if currentProjectName() != "" {
		p, err := requireProject(b)
		if err != nil {
			return err
		}
		projects = []*store.Project{p}
	} else {
		projects, err = b.ListProjects()
		if err != nil {
			return fmt.Errorf("listing projects: %w", err)
		}
	}

	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, `No projects found. Create one with: conductor init <name> --scope "..."`)
		return nil
	}

	for _, p := range projects {
		if statusJSON {
			summary, err := scope.NewTracker(b, p.ID, logger).StateSummary()
			if err != nil {
				return err
			}
			if err := writeJSON(out, summary); err != nil {
				return err
			}
			continue
		}

		stats, err := b.TaskStats(p.ID)
		if err != nil {
			return fmt.Errorf("counting tasks: %w", err)
		}

		tasks, err := b.ListTasks(p.ID, store.TaskFilter{})
		if err != nil {
			return fmt.Errorf("listing tasks: %w", err)
		}
		printStatusText(out, p, stats, tasks, time.Now())
	}
	return nil
}

func printStatusText(out io.Writer, p *store.Project, stats *store.TaskStats, tasks []*store.Task, now time.Time) {
	progress := 0
	if stats.Total > 0 {
		progress = stats.Completed * 100 / stats.Total
	}

	fmt.Fprintln(out)
	bold.Fprint(out, p.Name)
	faint.Fprintf(out, " (%s)\n", formatAge(p.CreatedAt, now))
	fmt.Fprintf(out, "  Scope: %s\n", p.Scope)
	fmt.Fprintf(out, "  Progress: %s %d%% (%d/%d tasks)\n",
		renderProgressBar(float64(progress), 20), progress, stats.Completed, stats.Total)

	if len(tasks) == 0 {
		return
	}
	fmt.Fprintln(out)
	for _, t := range tasks {
		c := statusColor(t.Status)
		line := fmt.Sprintf("  %s %s", statusIcon(t.Status), truncate(t.Description, 70))
		if t.IsScopeCreep {
			line += " [scope creep]"
		}
		c.Fprintln(out, line)

		switch {
		case t.Status == store.StatusInProgress:
			faint.Fprintln(out, "     (in progress)")
		case t.Status == store.StatusBlocked && t.BlockedReason != "":
			red.Fprintf(out, "     Blocked: %s\n", t.BlockedReason)
		}
	}
}

func renderProgressBar(percent float64, width int) string {
	filled := int(percent / 100.0 * float64(width))
	if filled > width {
		filled = width
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
	return "[" + bar + "]"
}

func statusIcon(status store.TaskStatus) string {
	switch status {
	case store.StatusCompleted:
		return "✓"
	case store.StatusInProgress:
		return "▶"
	case store.StatusBlocked:
		return "✗"
	default:
		return "○"
	}
}

func statusColor(status store.TaskStatus) *color.Color {
	switch status {
	case store.StatusCompleted:
		return green
	case store.StatusInProgress:
		return cyan
	case store.StatusBlocked:
		return red
	default:
		return color.New(color.Reset)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
