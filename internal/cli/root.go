// Package cli provides the command-line interface for conductor.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/config"
)

var (
	cfgFile     string
	verbose     bool
	projectName string
	logger      *slog.Logger
	cfg         *config.Config
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "conductor",
	Short: "Keep AI coding sessions on scope and on track",
	Long: `Conductor tracks a project's declared scope, its task backlog and its
working sessions.

It flags tasks that drift outside the original scope, assembles a
size-bounded project context for prompts, and reports velocity, health
and recommendations for getting unstuck.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}

		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		return initConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./conductor.yaml or ~/.conductor/conductor.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&projectName, "project", "p", "", "project name (default from config or CONDUCTOR_PROJECT)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(addTaskCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(blockCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(nextCmd)
	rootCmd.AddCommand(scopeCheckCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(promptCmd)
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(learnCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() error {
	path := cfgFile
	if path == "" {
		found, err := config.FindConfigFile()
		if err == nil {
			path = found
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg = loaded

	if path != "" {
		logger.Debug("using config file", "path", path)
	}
	return nil
}
