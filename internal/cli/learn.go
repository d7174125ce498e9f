package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/journal"
)

var learnCmd = &cobra.Command{
	Use:   "learn [pattern]",
	Short: "Record or view project learnings",
	Long: `Learn records a pattern worth remembering, such as a fix, a pitfall or a
decision. Without an argument it lists recent learnings.

Examples:
  conductor learn "pgvector needs the extension created per database" --context "migrations"
  conductor learn --last 5
  conductor learn --export LEARNINGS.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLearn,
}

var (
	learnContext  string
	learnSession  string
	learnLast     int
	learnMarkdown bool
	learnExport   string
)

func init() {
	learnCmd.Flags().StringVar(&learnContext, "context", "", "where or why the learning applies")
	learnCmd.Flags().StringVar(&learnSession, "session", "", "session ID to attach the learning to")
	learnCmd.Flags().IntVar(&learnLast, "last", 10, "show last N entries")
	learnCmd.Flags().BoolVar(&learnMarkdown, "markdown", false, "render the whole journal as markdown")
	learnCmd.Flags().StringVar(&learnExport, "export", "", "export the journal as markdown to a file")
}

func runLearn(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	j := journal.New(b, p.ID)
	out := cmd.OutOrStdout()

	if len(args) == 1 {
		sessionID := learnSession
		if sessionID == "" {
			active, err := b.ActiveSessions(p.ID)
			if err != nil {
				return err
			}
			if len(active) > 0 {
				sessionID = active[0].ID
			}
		}
		l, err := j.Add(args[0], learnContext, sessionID)
		if err != nil {
			return fmt.Errorf("recording learning: %w", err)
		}
		green.Fprintf(out, "✓ Learning #%d recorded\n", l.ID)
		return nil
	}

	if learnExport != "" || learnMarkdown {
		md, err := j.ExportMarkdown()
		if err != nil {
			return fmt.Errorf("exporting journal: %w", err)
		}
		if learnExport != "" {
			if err := os.WriteFile(learnExport, []byte(md), 0o644); err != nil {
				return fmt.Errorf("writing journal: %w", err)
			}
			green.Fprintf(out, "✓ Journal exported to %s\n", learnExport)
			return nil
		}
		fmt.Fprint(out, md)
		return nil
	}

	entries, err := j.Entries(learnLast)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No learnings recorded yet.")
		return nil
	}
	for _, l := range entries {
		cyan.Fprintf(out, "#%d ", l.ID)
		fmt.Fprintln(out, l.Pattern)
		meta := l.CreatedAt.Local().Format("2006-01-02 15:04")
		if l.SessionID != "" {
			meta += " | session " + shortID(l.SessionID)
		}
		faint.Fprintf(out, "   %s\n", meta)
		if l.Context != "" {
			fmt.Fprintf(out, "   %s\n", l.Context)
		}
	}
	return nil
}
