package cli

import (
	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve conductor tools over MCP on stdio",
	Long: `Mcp starts a Model Context Protocol server on stdin/stdout so coding
agents can check scope, manage tasks and read project context directly.
Logs go to stderr.

Example MCP client entry:
  {"command": "conductor", "args": ["mcp", "-p", "rag"]}`,
	Args: cobra.NoArgs,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	s := mcpserver.New(b, mcpserver.Options{
		Version:        Version,
		DefaultProject: currentProjectName(),
		Assembler:      cfg.AssemblerOptions(),
	}, logger)

	logger.Info("mcp server listening on stdio", "project", currentProjectName())
	return mcpserver.Serve(s)
}
