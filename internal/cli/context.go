package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/assembler"
)

var (
	contextMaxSize     int
	contextNoHistory   bool
	contextNoDecisions bool
	contextSummary     bool
	contextJSON        bool
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the assembled project context",
	Long: `Context prints the project summary that is injected into prompts:
header, task history and recent decisions, trimmed to the character
budget in priority order.

Examples:
  conductor context
  conductor context --max-size 2000 --no-decisions
  conductor context --summary --json`,
	RunE: runContext,
}

func init() {
	contextCmd.Flags().IntVar(&contextMaxSize, "max-size", 0, "character budget (default from config)")
	contextCmd.Flags().BoolVar(&contextNoHistory, "no-history", false, "omit the task history section")
	contextCmd.Flags().BoolVar(&contextNoDecisions, "no-decisions", false, "omit the recent decisions section")
	contextCmd.Flags().BoolVar(&contextSummary, "summary", false, "show context size and utilization instead")
	contextCmd.Flags().BoolVar(&contextJSON, "json", false, "output the summary in JSON format")
}

func runContext(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	opts := cfg.AssemblerOptions()
	if contextMaxSize > 0 {
		opts.MaxSize = contextMaxSize
	}
	a := assembler.New(b, opts)
	out := cmd.OutOrStdout()

	if contextSummary || contextJSON {
		s, err := a.Summary(p.ID)
		if err != nil {
			return err
		}
		if contextJSON {
			return writeJSON(out, s)
		}
		bold.Fprintf(out, "Context: %s\n", s.ProjectName)
		fmt.Fprintf(out, "  Size: %d/%d chars (%.1f%%)\n", s.ContextSize, a.MaxSize(), s.ContextUtilization*100)
		fmt.Fprintf(out, "  Tasks: %d (%d remaining)\n", s.TaskStats.Total, s.TaskStats.Remaining())
		fmt.Fprintf(out, "  Learnings: %d\n", s.LearningCount)
		fmt.Fprintf(out, "  Active sessions: %d\n", s.ActiveSessions)
		return nil
	}

	sections := assembler.AllSections()
	sections.History = !contextNoHistory
	sections.Decisions = !contextNoDecisions
	text, err := a.Format(p.ID, sections)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, text)
	return nil
}
