package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/config"
)

var (
	initScope    string
	initForce    bool
	initNoConfig bool
)

var initCmd = &cobra.Command{
	Use:   "init <project-name>",
	Short: "Initialize a new project",
	Long: `Initialize creates a project with a declared scope.

The scope statement is what new tasks are checked against. Phrases like
"no UI", "without auth" or "not including billing" mark explicit
exclusions.

Unless --no-config is given, a conductor.yaml naming the project as the
default is written to the current directory.

Examples:
  conductor init rag --scope "Build document pipeline using vectors. No UI."
  conductor init rag --scope "..." --no-config`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initScope, "scope", "", "project scope description (required)")
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing conductor.yaml")
	initCmd.Flags().BoolVar(&initNoConfig, "no-config", false, "do not write conductor.yaml")
	_ = initCmd.MarkFlagRequired("scope")
}

func runInit(cmd *cobra.Command, args []string) error {
	name := args[0]

	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	logger.Info("initializing conductor project", "name", name)

	p, err := b.CreateProject(name, initScope)
	if err != nil {
		return fmt.Errorf("creating project: %w", err)
	}

	out := cmd.OutOrStdout()
	green.Fprintf(out, "✓ Project '%s' initialized\n", p.Name)
	fmt.Fprintf(out, "  ID: %s\n", p.ID)
	fmt.Fprintf(out, "  Scope: %s\n", p.Scope)

	if !initNoConfig {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		created, err := createConfigFile(cwd, name)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(out, "  Config: %s\n", config.FileName)
		}
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Add tasks with 'conductor add-task \"...\"'")
	fmt.Fprintln(out, "  2. Start a session with 'conductor session start'")
	return nil
}

// createConfigFile writes conductor.yaml into dir with name as the default
// project. It reports whether a file was written.
func createConfigFile(dir, name string) (bool, error) {
	path := filepath.Join(dir, config.FileName)

	if !initForce {
		if _, err := os.Stat(path); err == nil {
			logger.Info("conductor.yaml already exists, skipping")
			return false, nil
		}
	}

	c := *cfg
	c.Project.Name = name

	if err := c.Save(path); err != nil {
		return false, fmt.Errorf("creating config file: %w", err)
	}

	logger.Info("created conductor.yaml")
	return true, nil
}
