package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/journal"
	"github.com/swamp-dev/conductor/internal/monitor"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start or end a working session",
	Long: `Sessions track time spent on a project from one machine. Completed
tasks are credited to the project's most recent active session.`,
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session for the current project",
	Args:  cobra.NoArgs,
	RunE:  runSessionStart,
}

var sessionEndCmd = &cobra.Command{
	Use:   "end",
	Short: "End the current project's active session",
	Args:  cobra.NoArgs,
	RunE:  runSessionEnd,
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the current project's sessions",
	Args:  cobra.NoArgs,
	RunE:  runSessionList,
}

var sessionListJSON bool

func init() {
	sessionListCmd.Flags().BoolVar(&sessionListJSON, "json", false, "output in JSON format")

	sessionCmd.AddCommand(sessionStartCmd)
	sessionCmd.AddCommand(sessionEndCmd)
	sessionCmd.AddCommand(sessionListCmd)
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	sess, err := b.StartSession(p.ID, cfg.MachineID, nil)
	if err != nil {
		return err
	}
	logger.Debug("session started", "session", sess.ID, "project", p.Name, "machine", sess.MachineID)
	green.Fprintf(cmd.OutOrStdout(), "✓ Session %s started for %s\n", shortID(sess.ID), p.Name)
	return nil
}

func runSessionEnd(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	active, err := b.ActiveSessions(p.ID)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return fmt.Errorf("no active session for project '%s'", p.Name)
	}
	sess := active[0]
	if err := b.EndSession(sess.ID); err != nil {
		return err
	}

	a, err := monitor.New(b, logger).AnalyzeSession(sess.ID)
	if err != nil {
		return err
	}
	learnings, err := journal.New(b, p.ID).SessionEntries(sess.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	green.Fprintf(out, "✓ Session %s ended\n", shortID(sess.ID))
	fmt.Fprintf(out, "  Duration: %.1f hours\n", a.DurationHours)
	fmt.Fprintf(out, "  Tasks completed: %d\n", a.TasksCompleted)
	if len(learnings) > 0 {
		fmt.Fprintf(out, "  Learnings recorded: %d\n", len(learnings))
	}
	return nil
}

func runSessionList(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	sessions, err := monitor.New(b, logger).ProjectSessions(p.ID)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionListJSON {
		return writeJSON(out, sessions)
	}
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No sessions recorded.")
		return nil
	}
	for _, s := range sessions {
		state := "ended"
		if s.IsActive {
			state = "active"
		}
		c := faint
		if s.IsActive {
			c = cyan
		}
		c.Fprintf(out, "%s  %-6s", shortID(s.SessionID), state)
		fmt.Fprintf(out, "  %s  %.1fh  %d tasks\n", s.StartedAt.Local().Format("2006-01-02 15:04"), s.DurationHours, s.TasksCompleted)
	}
	return nil
}
