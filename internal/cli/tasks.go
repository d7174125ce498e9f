package cli

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/scope"
	"github.com/swamp-dev/conductor/internal/store"
)

var (
	addTaskForce bool
	addTaskMeta  []string

	completeSession string
	blockReason     string
	nextJSON        bool
	nextPath        bool
)

var addTaskCmd = &cobra.Command{
	Use:   "add-task <description>",
	Short: "Add a task to a project",
	Long: `Add a task to the project backlog.

The task is checked against the project scope first. When it looks like
scope creep you are asked to confirm; --force skips the question and adds
the task flagged as scope creep.

Examples:
  conductor add-task "Implement chunking for PDF documents"
  conductor add-task "Add a login page" --force
  conductor add-task "Tune retrieval" --meta estimate=3 --meta area=search`,
	Args: cobra.ExactArgs(1),
	RunE: runAddTask,
}

var startCmd = &cobra.Command{
	Use:   "start <task-id>",
	Short: "Mark a task as in progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStart,
}

var completeCmd = &cobra.Command{
	Use:   "complete <task-id>",
	Short: "Mark a task as completed",
	Long: `Complete marks a task as completed.

The project's most recent active session is credited with the task
unless --session names another one.`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

var blockCmd = &cobra.Command{
	Use:   "block <task-id>",
	Short: "Mark a task as blocked",
	Args:  cobra.ExactArgs(1),
	RunE:  runBlock,
}

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Suggest what to work on next",
	RunE:  runNext,
}

func init() {
	addTaskCmd.Flags().BoolVar(&addTaskForce, "force", false, "add even if scope creep is detected")
	addTaskCmd.Flags().StringArrayVar(&addTaskMeta, "meta", nil, "metadata in format key=value (repeatable)")

	completeCmd.Flags().StringVar(&completeSession, "session", "", "session ID to credit")

	blockCmd.Flags().StringVar(&blockReason, "reason", "", "why the task is blocked")

	nextCmd.Flags().BoolVar(&nextJSON, "json", false, "output in JSON format")
	nextCmd.Flags().BoolVar(&nextPath, "path", false, "list every open task in working order")
}

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task ID %q", arg)
	}
	return id, nil
}

// projectTask loads a task and checks it belongs to p.
func projectTask(b store.Backend, p *store.Project, id int64) (*store.Task, error) {
	t, err := b.GetTask(id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && t.ProjectID != p.ID) {
		return nil, fmt.Errorf("task %d not found in project '%s'", id, p.Name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading task: %w", err)
	}
	return t, nil
}

func runAddTask(cmd *cobra.Command, args []string) error {
	meta, err := store.ParseMetadata(addTaskMeta)
	if err != nil {
		return err
	}

	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tracker := scope.NewTracker(b, p.ID, logger)
	verdict, err := tracker.Check(args[0])
	if err != nil {
		return err
	}

	force := addTaskForce
	if verdict.IsCreep && !force {
		yellow.Fprintln(out, "⚠️  Warning: Task appears to be out of scope")
		fmt.Fprintf(out, "  Reason: %s\n", verdict.Reason)
		if !confirm(cmd, "Add anyway?") {
			return errors.New("task not added")
		}
		force = true
	}

	res, err := tracker.AddTask(args[0], force, meta)
	if err != nil {
		return err
	}
	if res.Task.IsScopeCreep {
		yellow.Fprintln(out, "✓ Task added (marked as scope creep)")
	} else {
		green.Fprintln(out, "✓ Task added (within scope)")
	}
	fmt.Fprintf(out, "  ID: %d\n", res.Task.ID)
	return nil
}

func runStart(cmd *cobra.Command, args []string) error {
	return transition(cmd, args[0], func(b store.Backend, t *scope.Tracker, id int64) (string, error) {
		return fmt.Sprintf("▶ Task %d started", id), t.MarkInProgress(id)
	})
}

func runComplete(cmd *cobra.Command, args []string) error {
	return transition(cmd, args[0], func(b store.Backend, t *scope.Tracker, id int64) (string, error) {
		sessionID := completeSession
		if sessionID == "" {
			active, err := b.ActiveSessions(t.ProjectID())
			if err != nil {
				return "", err
			}
			if len(active) > 0 {
				sessionID = active[0].ID
			}
		}
		msg := fmt.Sprintf("✓ Task %d marked as completed", id)
		if sessionID != "" {
			msg += fmt.Sprintf(" (session %s)", shortID(sessionID))
		}
		return msg, t.MarkComplete(id, sessionID)
	})
}

func runBlock(cmd *cobra.Command, args []string) error {
	return transition(cmd, args[0], func(b store.Backend, t *scope.Tracker, id int64) (string, error) {
		return fmt.Sprintf("🚫 Task %d blocked", id), t.MarkBlocked(id, blockReason)
	})
}

// transition runs one lifecycle change on a task of the current project.
func transition(cmd *cobra.Command, arg string, apply func(store.Backend, *scope.Tracker, int64) (string, error)) error {
	id, err := parseTaskID(arg)
	if err != nil {
		return err
	}

	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}
	if _, err := projectTask(b, p, id); err != nil {
		return err
	}

	msg, err := apply(b, scope.NewTracker(b, p.ID, logger), id)
	if err != nil {
		return err
	}
	green.Fprintln(cmd.OutOrStdout(), msg)
	return nil
}

func runNext(cmd *cobra.Command, args []string) error {
	b, err := openStore()
	if err != nil {
		return err
	}
	defer b.Close()

	p, err := requireProject(b)
	if err != nil {
		return err
	}

	tracker := scope.NewTracker(b, p.ID, logger)
	out := cmd.OutOrStdout()
	if nextPath {
		return printCompletionPath(out, tracker)
	}

	next, err := tracker.SuggestNextAction()
	if err != nil {
		return err
	}

	if nextJSON {
		return writeJSON(out, next)
	}

	if next.Action == scope.ActionNone {
		green.Fprintf(out, "✓ %s\n", next.Reason)
		return nil
	}
	bold.Fprintf(out, "%s #%d: ", actionLabel(next.Action), next.TaskID)
	fmt.Fprintln(out, next.Description)
	faint.Fprintf(out, "  %s\n", next.Reason)
	return nil
}

func printCompletionPath(out io.Writer, tracker *scope.Tracker) error {
	path, err := tracker.CompletionPath()
	if err != nil {
		return err
	}
	if nextJSON {
		return writeJSON(out, path)
	}
	if len(path) == 0 {
		green.Fprintln(out, "✓ No open tasks")
		return nil
	}
	for _, step := range path {
		c := faint
		if step.Status == store.StatusInProgress {
			c = cyan
		}
		c.Fprintf(out, "[%s] ", step.Priority)
		fmt.Fprintf(out, "#%d %s\n", step.TaskID, step.Description)
	}
	return nil
}

func actionLabel(a scope.Action) string {
	switch a {
	case scope.ActionContinue:
		return "Continue"
	case scope.ActionUnblock:
		return "Unblock"
	case scope.ActionStart:
		return "Start"
	default:
		return "None"
	}
}
