package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/statesync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync conductor state across machines",
	Long: `Sync moves the database, registry and config between machines, either
through a git branch or through a shared folder. Without flags it shows
whether local state changed since the last sync.

Examples:
  conductor sync
  conductor sync --push
  conductor sync --pull
  conductor sync --auto`,
	RunE: runSync,
}

var (
	syncPush bool
	syncPull bool
	syncAuto bool
	syncJSON bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncPush, "push", false, "publish local state")
	syncCmd.Flags().BoolVar(&syncPull, "pull", false, "fetch remote state")
	syncCmd.Flags().BoolVar(&syncAuto, "auto", false, "push only when local state changed")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "output status in JSON format")
	syncCmd.MarkFlagsMutuallyExclusive("push", "pull", "auto")
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s := statesync.New(ctx, cfg.SyncOptions(), logger)
	out := cmd.OutOrStdout()

	var (
		res *statesync.Result
		err error
	)
	switch {
	case syncPull:
		res, err = s.Pull(ctx)
	case syncPush:
		if res, err = s.Push(ctx); err == nil {
			err = s.MarkSynced()
		}
	case syncAuto:
		res, err = s.AutoSync(ctx)
		if err == nil && res == nil {
			fmt.Fprintln(out, "Already in sync.")
			return nil
		}
	default:
		status, err := s.Status()
		if err != nil {
			return err
		}
		if syncJSON {
			return writeJSON(out, status)
		}
		bold.Fprintf(out, "Sync method: %s\n", status.Method)
		if status.HasLocalChanges {
			yellow.Fprintln(out, "  Local changes not yet synced")
		} else {
			green.Fprintln(out, "  Up to date")
		}
		if status.LastSync != nil {
			fmt.Fprintf(out, "  Last sync: %s\n", status.LastSync.Local().Format("2006-01-02 15:04"))
		} else {
			fmt.Fprintln(out, "  Last sync: never")
		}
		fmt.Fprintf(out, "  Syncs: %d\n", status.SyncCount)
		return nil
	}
	if err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}

	green.Fprintf(out, "✓ %s\n", res.Message)
	return nil
}
