package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/registry"
	"github.com/swamp-dev/conductor/internal/store"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Suggest MCP servers, skills and subagents for the current work",
	Long: `Tools ranks the registry's MCP servers, skills and subagents against a
context. The context defaults to the descriptions of the project's
in-progress tasks; with no project and no --context every entry is listed.

Examples:
  conductor tools -p rag
  conductor tools --context "write postgres migrations"
  conductor tools --category data --json`,
	RunE: runTools,
}

var toolsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add an entry to the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsAdd,
}

var toolsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove entries from the registry",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsRemove,
}

var toolsExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the registry to a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsExport,
}

var toolsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Load registry entries from a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runToolsImport,
}

var (
	toolsContext  string
	toolsCategory string
	toolsJSON     bool

	toolsKind         string
	toolsWhen         string
	toolsDescription  string
	toolsPath         string
	toolsConfigPath   string
	toolsTrigger      string
	toolsInstructions string

	toolsMerge bool
)

func init() {
	toolsCmd.Flags().StringVar(&toolsContext, "context", "", "text to rank tools against")
	toolsCmd.Flags().StringVar(&toolsCategory, "category", "", "limit MCP servers and skills to one category")
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "output in JSON format")

	toolsAddCmd.Flags().StringVar(&toolsKind, "kind", string(registry.KindMCPServer), "entry kind: mcp_server, skill, or subagent")
	toolsAddCmd.Flags().StringVar(&toolsCategory, "category", "", "category for MCP servers and skills")
	toolsAddCmd.Flags().StringVar(&toolsWhen, "when", "", "comma-separated keywords that make the entry relevant")
	toolsAddCmd.Flags().StringVar(&toolsDescription, "description", "", "short description")
	toolsAddCmd.Flags().StringVar(&toolsPath, "path", "", "skill path")
	toolsAddCmd.Flags().StringVar(&toolsConfigPath, "config-path", "", "MCP server config path")
	toolsAddCmd.Flags().StringVar(&toolsTrigger, "trigger", "", "comma-separated subagent triggers")
	toolsAddCmd.Flags().StringVar(&toolsInstructions, "instructions", "", "subagent instructions")

	toolsRemoveCmd.Flags().StringVar(&toolsKind, "kind", string(registry.KindMCPServer), "entry kind: mcp_server, skill, or subagent")
	toolsRemoveCmd.Flags().StringVar(&toolsCategory, "category", "", "only remove from this category")

	toolsImportCmd.Flags().BoolVar(&toolsMerge, "merge", false, "merge into the existing registry instead of replacing it")

	toolsCmd.AddCommand(toolsAddCmd)
	toolsCmd.AddCommand(toolsRemoveCmd)
	toolsCmd.AddCommand(toolsExportCmd)
	toolsCmd.AddCommand(toolsImportCmd)
}

func loadRegistry() (*registry.Registry, error) {
	r, err := registry.Load(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}
	logger.Debug("registry loaded", "path", r.Path())
	return r, nil
}

// workContext joins the descriptions of the project's in-progress tasks.
func workContext() (string, error) {
	if currentProjectName() == "" {
		return "", nil
	}
	b, err := openStore()
	if err != nil {
		return "", err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return "", err
	}
	tasks, err := b.ListTasks(p.ID, store.TaskFilter{Status: store.StatusInProgress})
	if err != nil {
		return "", fmt.Errorf("listing tasks: %w", err)
	}
	parts := make([]string, 0, len(tasks))
	for _, t := range tasks {
		parts = append(parts, t.Description)
	}
	return strings.Join(parts, " "), nil
}

func runTools(cmd *cobra.Command, args []string) error {
	r, err := loadRegistry()
	if err != nil {
		return err
	}

	context := toolsContext
	if context == "" {
		if context, err = workContext(); err != nil {
			return err
		}
	}

	tools := r.AllTools(context, toolsCategory)
	out := cmd.OutOrStdout()
	if toolsJSON {
		return writeJSON(out, tools)
	}

	if strings.TrimSpace(context) != "" {
		faint.Fprintf(out, "Context: %s\n\n", truncate(context, 70))
	}
	printTools(out, "MCP servers", tools.MCPServers, 0)
	printTools(out, "Skills", tools.Skills, 10)
	printTools(out, "Subagents", tools.Subagents, 5)
	return nil
}

func printTools(out io.Writer, title string, tools []registry.Tool, limit int) {
	bold.Fprintf(out, "%s:\n", title)
	if len(tools) == 0 {
		faint.Fprintln(out, "  (none)")
		fmt.Fprintln(out)
		return
	}
	if limit > 0 && len(tools) > limit {
		tools = tools[:limit]
	}
	for _, t := range tools {
		cyan.Fprintf(out, "  %s", t.Name)
		if t.Category != "" {
			faint.Fprintf(out, " [%s]", t.Category)
		}
		if t.Relevance > 0 {
			fmt.Fprintf(out, " %.0f%%", t.Relevance*100)
		}
		fmt.Fprintln(out)
		if t.Description != "" {
			fmt.Fprintf(out, "    %s\n", t.Description)
		}
		if len(t.MatchedTriggers) > 0 {
			faint.Fprintf(out, "    matched: %s\n", strings.Join(t.MatchedTriggers, ", "))
		}
	}
	fmt.Fprintln(out)
}

func runToolsAdd(cmd *cobra.Command, args []string) error {
	kind, err := registry.ParseKind(toolsKind)
	if err != nil {
		return err
	}
	r, err := loadRegistry()
	if err != nil {
		return err
	}

	name := args[0]
	switch kind {
	case registry.KindMCPServer:
		err = r.AddMCPServer(toolsCategory, registry.Server{
			Name:        name,
			When:        toolsWhen,
			Description: toolsDescription,
			ConfigPath:  toolsConfigPath,
		})
	case registry.KindSkill:
		err = r.AddSkill(toolsCategory, registry.Skill{
			Name:        name,
			Path:        toolsPath,
			When:        toolsWhen,
			Description: toolsDescription,
		})
	case registry.KindSubagent:
		err = r.AddSubagent(registry.Subagent{
			Name:         name,
			Trigger:      toolsTrigger,
			Instructions: toolsInstructions,
			Description:  toolsDescription,
		})
	}
	if err != nil {
		return err
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ Added %s '%s'\n", kind, name)
	return nil
}

func runToolsRemove(cmd *cobra.Command, args []string) error {
	kind, err := registry.ParseKind(toolsKind)
	if err != nil {
		return err
	}
	r, err := loadRegistry()
	if err != nil {
		return err
	}

	n, err := r.Remove(kind, args[0], toolsCategory)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s '%s' not found", kind, args[0])
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ Removed %d %s entries named '%s'\n", n, kind, args[0])
	return nil
}

func runToolsExport(cmd *cobra.Command, args []string) error {
	r, err := loadRegistry()
	if err != nil {
		return err
	}
	if err := r.Export(args[0]); err != nil {
		return err
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ Registry exported to %s\n", args[0])
	return nil
}

func runToolsImport(cmd *cobra.Command, args []string) error {
	r, err := loadRegistry()
	if err != nil {
		return err
	}
	if err := r.Import(args[0], toolsMerge); err != nil {
		return err
	}
	verb := "replaced"
	if toolsMerge {
		verb = "merged"
	}
	green.Fprintf(cmd.OutOrStdout(), "✓ Registry %s from %s\n", verb, args[0])
	return nil
}
