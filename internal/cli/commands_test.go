package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/swamp-dev/conductor/internal/config"
)

const testScope = "Build document pipeline using vectors. No authentication."

func TestMain(m *testing.M) {
	color.NoColor = true
	os.Exit(m.Run())
}

// resetFlags restores every flag to its default so commands can run repeatedly.
func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupCLI isolates the CLI in a temp directory with its own home and database.
func setupCLI(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("CONDUCTOR_HOME", filepath.Join(dir, ".conductor"))
	t.Setenv("CONDUCTOR_DB_PATH", filepath.Join(dir, "conductor.db"))
	t.Setenv("CONDUCTOR_PROJECT", "")
	if err := os.MkdirAll(filepath.Join(dir, ".conductor"), 0o755); err != nil {
		t.Fatalf("creating home: %v", err)
	}
	t.Chdir(dir)
	return dir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustExecute(t *testing.T, args ...string) string {
	t.Helper()
	out, err := execute(t, "", args...)
	if err != nil {
		t.Fatalf("conductor %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return out
}

func initProject(t *testing.T) {
	t.Helper()
	out := mustExecute(t, "init", "rag", "--scope", testScope)
	if !strings.Contains(out, "✓ Project 'rag' initialized") {
		t.Fatalf("unexpected init output: %s", out)
	}
}

func TestInitWritesConfig(t *testing.T) {
	dir := setupCLI(t)
	initProject(t)

	cfg, err := config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Project.Name != "rag" {
		t.Errorf("expected default project rag, got %q", cfg.Project.Name)
	}

	if _, err := execute(t, "", "init", "rag", "--scope", testScope, "--no-config"); err == nil {
		t.Error("expected error for duplicate project")
	}
}

func TestInitRequiresScope(t *testing.T) {
	setupCLI(t)
	if _, err := execute(t, "", "init", "rag"); err == nil {
		t.Error("expected error without --scope")
	}
}

func TestCommandsWithoutProject(t *testing.T) {
	setupCLI(t)
	for _, args := range [][]string{
		{"next"},
		{"add-task", "Build the document pipeline using vectors"},
		{"context"},
		{"report"},
	} {
		_, err := execute(t, "", args...)
		if err == nil || !strings.Contains(err.Error(), "no project specified") {
			t.Errorf("%v: expected missing project error, got %v", args, err)
		}
	}

	_, err := execute(t, "", "next", "-p", "missing")
	if err == nil || !strings.Contains(err.Error(), "project 'missing' not found") {
		t.Errorf("expected not found error, got %v", err)
	}
}

func TestTaskLifecycle(t *testing.T) {
	setupCLI(t)
	initProject(t)

	out := mustExecute(t, "add-task", "Build the document pipeline using vectors")
	if !strings.Contains(out, "✓ Task added (within scope)") || !strings.Contains(out, "ID: 1") {
		t.Errorf("unexpected add-task output: %s", out)
	}

	out, err := execute(t, "n\n", "add-task", "Add user authentication system")
	if err == nil || err.Error() != "task not added" {
		t.Errorf("expected declined task, got %v", err)
	}
	if !strings.Contains(out, "out of scope") {
		t.Errorf("expected scope warning, got: %s", out)
	}

	out, err = execute(t, "y\n", "add-task", "Add user authentication system")
	if err != nil {
		t.Fatalf("confirmed add-task: %v", err)
	}
	if !strings.Contains(out, "marked as scope creep") {
		t.Errorf("expected creep flag, got: %s", out)
	}

	out = mustExecute(t, "next")
	if !strings.Contains(out, "Start #1:") {
		t.Errorf("expected to start task 1, got: %s", out)
	}

	out = mustExecute(t, "next", "--path")
	for _, want := range []string{"[normal] #1 Build the document pipeline using vectors", "[normal] #2 Add user authentication system"} {
		if !strings.Contains(out, want) {
			t.Errorf("path output missing %q:\n%s", want, out)
		}
	}

	mustExecute(t, "session", "start")
	out = mustExecute(t, "start", "1")
	if !strings.Contains(out, "▶ Task 1 started") {
		t.Errorf("unexpected start output: %s", out)
	}
	out = mustExecute(t, "complete", "1")
	if !strings.Contains(out, "✓ Task 1 marked as completed (session ") {
		t.Errorf("expected session credit, got: %s", out)
	}
	out = mustExecute(t, "block", "2", "--reason", "needs a decision")
	if !strings.Contains(out, "🚫 Task 2 blocked") {
		t.Errorf("unexpected block output: %s", out)
	}

	out = mustExecute(t, "status")
	for _, want := range []string{"rag", "50% (1/2 tasks)", "✓ Build the document pipeline", "[scope creep]", "Blocked: needs a decision"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}

	out = mustExecute(t, "status", "--json")
	var summary struct {
		Project struct {
			Name string `json:"name"`
		} `json:"project"`
		Progress     int `json:"progress"`
		BlockerCount int `json:"blocker_count"`
		NextAction   struct {
			Action string `json:"action"`
		} `json:"next_action"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decoding status: %v\n%s", err, out)
	}
	if summary.Project.Name != "rag" || summary.Progress != 50 || summary.BlockerCount != 1 {
		t.Errorf("unexpected status summary: %+v", summary)
	}
	if summary.NextAction.Action == "" {
		t.Error("expected a next action")
	}

	out = mustExecute(t, "session", "end")
	if !strings.Contains(out, "Tasks completed: 1") {
		t.Errorf("unexpected session end output: %s", out)
	}
	if _, err := execute(t, "", "session", "end"); err == nil {
		t.Error("expected error ending without an active session")
	}
}

func TestTransitionErrors(t *testing.T) {
	setupCLI(t)
	initProject(t)

	for _, args := range [][]string{
		{"start", "abc"},
		{"start", "0"},
		{"complete", "42"},
	} {
		if _, err := execute(t, "", args...); err == nil {
			t.Errorf("%v: expected error", args)
		}
	}
}

func TestScopeCheck(t *testing.T) {
	setupCLI(t)
	initProject(t)

	out, err := execute(t, "", "scope-check", "Add user authentication system")
	if !errors.Is(err, errOutOfScope) {
		t.Errorf("expected errOutOfScope, got %v", err)
	}
	if !strings.Contains(out, "Outside scope") || !strings.Contains(out, "Explicitly excluded") {
		t.Errorf("unexpected output: %s", out)
	}

	if !strings.Contains(out, "Relevance: ") || !strings.Contains(out, "Scope excludes: authentication") {
		t.Errorf("expected relevance and exclusions, got: %s", out)
	}

	out = mustExecute(t, "scope-check", "Build the document pipeline using vectors", "--json")
	var v struct {
		IsCreep    bool     `json:"is_creep"`
		Relevance  float64  `json:"relevance"`
		Exclusions []string `json:"exclusions"`
	}
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decoding verdict: %v\n%s", err, out)
	}
	if v.IsCreep {
		t.Error("expected task within scope")
	}
	if v.Relevance <= 0 {
		t.Errorf("expected positive relevance, got %f", v.Relevance)
	}
	if len(v.Exclusions) != 1 || v.Exclusions[0] != "authentication" {
		t.Errorf("expected [authentication], got %v", v.Exclusions)
	}
}

func TestContextAndPrompt(t *testing.T) {
	dir := setupCLI(t)
	initProject(t)
	mustExecute(t, "add-task", "Build the document pipeline using vectors")

	out := mustExecute(t, "context")
	if !strings.HasPrefix(out, "# Project: rag") {
		t.Errorf("unexpected context: %s", out)
	}

	out = mustExecute(t, "context", "--summary")
	if !strings.Contains(out, "Tasks: 1 (1 remaining)") {
		t.Errorf("unexpected summary: %s", out)
	}

	out = mustExecute(t, "prompt", "debug", "--var", "issue=nil map write")
	if !strings.Contains(out, "Specific issue: nil map write") || !strings.Contains(out, "# Project: rag") {
		t.Errorf("unexpected prompt: %s", out)
	}

	path := filepath.Join(dir, "prompt.md")
	mustExecute(t, "prompt", "debug", "--output", path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading prompt: %v", err)
	}
	if !strings.Contains(string(data), "{issue}") {
		t.Error("expected unfilled placeholder to be kept")
	}

	if _, err := execute(t, "", "prompt", "debug", "--var", "broken"); err == nil {
		t.Error("expected error for malformed --var")
	}
}

func TestTemplatesCommands(t *testing.T) {
	dir := setupCLI(t)

	out := mustExecute(t, "templates")
	if !strings.Contains(out, "debug") || !strings.Contains(out, "builtin") {
		t.Errorf("expected builtin templates, got: %s", out)
	}

	src := filepath.Join(dir, "standup.txt")
	if err := os.WriteFile(src, []byte("Yesterday: {done}\nToday: {plan}"), 0o644); err != nil {
		t.Fatal(err)
	}
	mustExecute(t, "templates", "add", "standup", src)

	out = mustExecute(t, "templates", "show", "standup")
	if !strings.Contains(out, "Today: {plan}") {
		t.Errorf("unexpected template: %s", out)
	}

	dst := filepath.Join(dir, "exported.txt")
	mustExecute(t, "templates", "export", "standup", dst)
	if _, err := os.Stat(dst); err != nil {
		t.Errorf("expected exported template: %v", err)
	}
}

func TestLearnCommands(t *testing.T) {
	dir := setupCLI(t)
	initProject(t)

	out := mustExecute(t, "learn", "Create the vector extension per database", "--context", "migrations")
	if !strings.Contains(out, "✓ Learning #1 recorded") {
		t.Errorf("unexpected output: %s", out)
	}

	out = mustExecute(t, "learn")
	if !strings.Contains(out, "#1 Create the vector extension per database") || !strings.Contains(out, "migrations") {
		t.Errorf("unexpected listing: %s", out)
	}

	path := filepath.Join(dir, "LEARNINGS.md")
	mustExecute(t, "learn", "--export", path)
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if !strings.HasPrefix(string(data), "# rag Learnings Journal") {
		t.Errorf("unexpected export: %s", data)
	}
}

func TestReportJSON(t *testing.T) {
	setupCLI(t)
	initProject(t)
	mustExecute(t, "add-task", "Build the document pipeline using vectors")
	mustExecute(t, "complete", "1")

	out := mustExecute(t, "report", "--json")
	var r struct {
		Completion struct {
			Percentage int `json:"percentage"`
		} `json:"completion"`
		Compliance struct {
			TotalTasks int `json:"total_tasks"`
		} `json:"scope_compliance"`
		Recommendations []string `json:"recommendations"`
	}
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("decoding report: %v\n%s", err, out)
	}
	if r.Completion.Percentage != 100 {
		t.Errorf("expected 100%%, got %d", r.Completion.Percentage)
	}
	if r.Compliance.TotalTasks != 1 {
		t.Errorf("expected 1 task in compliance, got %d", r.Compliance.TotalTasks)
	}
	if len(r.Recommendations) == 0 {
		t.Error("expected recommendations")
	}

	out = mustExecute(t, "report")
	if !strings.Contains(out, "Productivity report: rag") || !strings.Contains(out, "Recommendations:") {
		t.Errorf("unexpected report: %s", out)
	}
	if !strings.Contains(out, "Scope compliance: 100% (0 scope creep of 1 tasks)") {
		t.Errorf("expected compliance line, got: %s", out)
	}
}

func TestToolsCommands(t *testing.T) {
	dir := setupCLI(t)

	out := mustExecute(t, "tools", "--context", "store vector embeddings in SQL and fix a bug")
	for _, want := range []string{"memory", "postgres", "debugger"} {
		if !strings.Contains(out, want) {
			t.Errorf("tools output missing %q:\n%s", want, out)
		}
	}

	mustExecute(t, "tools", "add", "qdrant", "--category", "databases", "--when", "vectors, similarity search")
	out = mustExecute(t, "tools", "--context", "similarity search")
	if !strings.Contains(out, "qdrant") {
		t.Errorf("expected added server, got: %s", out)
	}

	path := filepath.Join(dir, "registry-export.yaml")
	mustExecute(t, "tools", "export", path)

	mustExecute(t, "tools", "remove", "qdrant")
	if _, err := execute(t, "", "tools", "remove", "qdrant"); err == nil {
		t.Error("expected error removing a missing entry")
	}

	mustExecute(t, "tools", "import", path, "--merge")
	out = mustExecute(t, "tools", "--context", "similarity search")
	if !strings.Contains(out, "qdrant") {
		t.Errorf("expected imported server, got: %s", out)
	}

	if _, err := execute(t, "", "tools", "add", "x", "--kind", "plugin"); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestVersion(t *testing.T) {
	setupCLI(t)
	out := mustExecute(t, "version")
	if !strings.HasPrefix(out, "conductor dev") {
		t.Errorf("unexpected version output: %s", out)
	}
}
