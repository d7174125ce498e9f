package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/assembler"
	"github.com/swamp-dev/conductor/internal/store"
	"github.com/swamp-dev/conductor/internal/templates"
)

var (
	promptVars   []string
	promptOutput string
)

var promptCmd = &cobra.Command{
	Use:   "prompt <template>",
	Short: "Generate an expanded prompt from a template",
	Long: `Prompt fills a template's {placeholders} with --var values. When a
project is selected its assembled context fills {context}.

Examples:
  conductor prompt debug --var error="nil map write" --var file=main.go
  conductor prompt implement -p rag --var feature="PDF chunking"
  conductor prompt review --output review.md`,
	Args: cobra.ExactArgs(1),
	RunE: runPrompt,
}

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List available templates",
	RunE:  runTemplates,
}

var templatesShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a template",
	Args:  cobra.ExactArgs(1),
	RunE:  runTemplatesShow,
}

var templatesAddCmd = &cobra.Command{
	Use:   "add <name> <file>",
	Short: "Create a custom template from a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runTemplatesAdd,
}

var templatesExportCmd = &cobra.Command{
	Use:   "export <name> <file>",
	Short: "Write a template to a file",
	Args:  cobra.ExactArgs(2),
	RunE:  runTemplatesExport,
}

var templatesJSON bool

func init() {
	promptCmd.Flags().StringArrayVar(&promptVars, "var", nil, "variable in format key=value (repeatable)")
	promptCmd.Flags().StringVarP(&promptOutput, "output", "o", "", "write the prompt to a file")

	templatesCmd.Flags().BoolVar(&templatesJSON, "json", false, "output in JSON format")
	templatesCmd.AddCommand(templatesShowCmd)
	templatesCmd.AddCommand(templatesAddCmd)
	templatesCmd.AddCommand(templatesExportCmd)
}

func runPrompt(cmd *cobra.Command, args []string) error {
	vars, err := parseVars(promptVars)
	if err != nil {
		return err
	}

	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	var context string
	if name := currentProjectName(); name != "" {
		p, err := b.GetProjectByName(name)
		switch {
		case err == nil:
			context, err = assembler.New(b, cfg.AssemblerOptions()).Prepare(p.ID)
			if err != nil {
				return err
			}
		case errors.Is(err, store.ErrNotFound):
			logger.Warn("project not found, expanding without context", "project", name)
		default:
			return fmt.Errorf("loading project: %w", err)
		}
	}

	expanded, err := templates.New(b).Expand(args[0], vars, context)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if promptOutput != "" {
		if err := os.WriteFile(promptOutput, []byte(expanded), 0o644); err != nil {
			return fmt.Errorf("writing prompt: %w", err)
		}
		green.Fprintf(out, "✓ Prompt written to %s (%d chars)\n", promptOutput, len([]rune(expanded)))
		return nil
	}
	fmt.Fprintln(out, expanded)
	return nil
}

func runTemplates(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	list, err := templates.New(b).List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if templatesJSON {
		return writeJSON(out, list)
	}

	bold.Fprintf(out, "%-14s %-8s %-40s %5s\n", "NAME", "TYPE", "VARIABLES", "USAGE")
	for _, t := range list {
		cyan.Fprintf(out, "%-14s", t.Name)
		fmt.Fprintf(out, " %-8s %-40s %5d\n", t.Kind, truncate(strings.Join(t.Variables, ", "), 40), t.UsageCount)
	}
	return nil
}

func runTemplatesShow(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	content, err := templates.New(b).Get(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), content)
	return nil
}

func runTemplatesAdd(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	if err := templates.New(b).LoadFromFile(args[0], args[1]); err != nil {
		return err
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ Template '%s' created\n", args[0])
	return nil
}

func runTemplatesExport(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	if err := templates.New(b).SaveToFile(args[0], args[1]); err != nil {
		return err
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ Template '%s' written to %s\n", args[0], args[1])
	return nil
}
