package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/assembler"
	"github.com/swamp-dev/conductor/internal/scope"
)

var scopeCheckJSON bool

var scopeCheckCmd = &cobra.Command{
	Use:   "scope-check <task-description>",
	Short: "Check if a task is within project scope",
	Long: `Scope-check classifies a proposed task against the project's scope
without adding it. It exits non-zero when the task is outside the scope.

Examples:
  conductor scope-check "Add OAuth login" -p rag
  conductor scope-check "Index PDF documents" --json`,
	Args: cobra.ExactArgs(1),
	RunE: runScopeCheck,
}

func init() {
	scopeCheckCmd.Flags().BoolVar(&scopeCheckJSON, "json", false, "output in JSON format")
}

// errOutOfScope is returned by scope-check for scope creep.
var errOutOfScope = errors.New("task is outside project scope")

func runScopeCheck(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	v := scope.Classify(args[0], p.Scope)

	a := assembler.New(b, cfg.AssemblerOptions())
	relevance, err := a.RelevanceScore(args[0], p.ID)
	if err != nil {
		return err
	}
	exclusions, err := a.Exclusions(p.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if scopeCheckJSON {
		if err := writeJSON(out, struct {
			scope.Verdict
			Relevance  float64  `json:"relevance"`
			Exclusions []string `json:"exclusions"`
		}{v, relevance, exclusions}); err != nil {
			return err
		}
	} else {
		if v.IsCreep {
			color.New(color.FgYellow, color.Bold).Fprintln(out, "⚠️  Outside scope")
			fmt.Fprintf(out, "  Reason: %s\n", v.Reason)
		} else {
			color.New(color.FgGreen, color.Bold).Fprintln(out, "✓ Within scope")
			fmt.Fprintf(out, "  %s\n", v.Reason)
		}
		fmt.Fprintf(out, "  Relevance: %.2f\n", relevance)
		if len(exclusions) > 0 {
			faint.Fprintf(out, "  Scope excludes: %s\n", strings.Join(exclusions, ", "))
		}
	}

	if v.IsCreep {
		return errOutOfScope
	}
	return nil
}
