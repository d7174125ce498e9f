package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/monitor"
)

var reportJSON bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show a productivity report for the current project",
	Long: `Report combines completion, health, velocity, stuck indicators, scope
compliance and session time with recommendations on what to do next.

Examples:
  conductor report -p rag
  conductor report --json`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportJSON, "json", false, "output in JSON format")
}

func runReport(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	m := monitor.New(b, logger)
	r, err := m.ProductivityReport(p.ID)
	if err != nil {
		return err
	}
	if r.Error != "" {
		return errors.New(r.Error)
	}
	recs, err := m.Recommendations(p.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if reportJSON {
		return writeJSON(out, struct {
			*monitor.Report
			Recommendations []string `json:"recommendations"`
		}{r, recs})
	}
	printReport(out, r, recs)
	return nil
}

func printReport(out io.Writer, r *monitor.Report, recs []string) {
	bold.Fprintf(out, "Productivity report: %s\n", r.Project.Name)
	fmt.Fprintf(out, "  Progress: %s %d%% (%d/%d tasks, %d remaining)\n",
		renderProgressBar(float64(r.Completion.Percentage), 20),
		r.Completion.Percentage, r.Completion.Completed, r.Completion.Total, r.Completion.Remaining)

	fmt.Fprint(out, "  Health: ")
	healthColor(r.Health.Status).Fprintf(out, "%d/100 (%s)\n", r.Health.Score, r.Health.Status)
	for _, issue := range r.Health.Issues {
		faint.Fprintf(out, "    - %s\n", issue)
	}

	v := r.Velocity
	fmt.Fprintf(out, "  Velocity: %.2f tasks/day over %d days\n", v.TasksPerDay, v.PeriodDays)
	if v.EstimatedDaysToCompletion != nil {
		fmt.Fprintf(out, "  Estimated completion: %.1f days\n", *v.EstimatedDaysToCompletion)
	}
	if tv := r.TaskVelocity; tv != nil && tv.AvgCompletionHours != nil {
		fmt.Fprintf(out, "  Avg completion: %.1f hours\n", *tv.AvgCompletionHours)
	}
	if c := r.Compliance; c != nil {
		fmt.Fprintf(out, "  Scope compliance: %.0f%% (%d scope creep of %d tasks)\n",
			c.ComplianceScore, c.ScopeCreepTasks, c.TotalTasks)
	}
	fmt.Fprintf(out, "  Time: %.1f hours over %d sessions\n", r.Time.TotalHours, r.Time.SessionCount)

	if len(r.StuckPatterns) > 0 {
		fmt.Fprintln(out)
		bold.Fprintln(out, "Stuck indicators:")
		for _, ind := range r.StuckPatterns {
			c := yellow
			if ind.Severity == monitor.SeverityHigh {
				c = red
			}
			c.Fprintf(out, "  [%s] %s\n", ind.Severity, ind.Type)
			faint.Fprintf(out, "    %s\n", ind.Suggestion)
		}
	}

	fmt.Fprintln(out)
	bold.Fprintln(out, "Recommendations:")
	for _, rec := range recs {
		fmt.Fprintf(out, "  - %s\n", rec)
	}
}

func healthColor(s monitor.HealthStatus) *color.Color {
	switch s {
	case monitor.StatusHealthy:
		return green
	case monitor.StatusNeedsAttention:
		return yellow
	default:
		return red
	}
}
