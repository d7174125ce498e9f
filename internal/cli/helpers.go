package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/swamp-dev/conductor/internal/store"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
	faint  = color.New(color.Faint)
)

// openStore opens the configured storage backend.
func openStore() (store.Backend, error) {
	b, err := store.Open(cfg.StoreConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return b, nil
}

// currentProjectName returns --project, falling back to the configured default.
func currentProjectName() string {
	if projectName != "" {
		return projectName
	}
	return cfg.Project.Name
}

// requireProject resolves the current project by name.
func requireProject(b store.Backend) (*store.Project, error) {
	name := currentProjectName()
	if name == "" {
		return nil, errors.New("no project specified. Use -p or set CONDUCTOR_PROJECT")
	}
	p, err := b.GetProjectByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("project '%s' not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("loading project: %w", err)
	}
	return p, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// confirm asks a yes/no question on the command's input; anything but y/yes is no.
func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N]: ", question)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

// parseVars turns key=value pairs into a map.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid variable format '%s'. Use key=value", pair)
		}
		vars[key] = value
	}
	return vars, nil
}

// formatAge renders how long ago t was, relative to now.
func formatAge(t, now time.Time) string {
	age := now.Sub(t)
	switch {
	case age >= 24*time.Hour:
		return fmt.Sprintf("%d days old", int(age.Hours()/24))
	case age > time.Hour:
		return fmt.Sprintf("%d hours old", int(age.Hours()))
	default:
		return fmt.Sprintf("%d minutes old", int(age.Minutes()))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
