package registry

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func loadTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := Load(filepath.Join(t.TempDir(), "conductor", "registry.yaml"))
	if err != nil {
		t.Fatalf("loading registry: %v", err)
	}
	return r
}

func names(tools []Tool) []string {
	var out []string
	for _, t := range tools {
		out = append(out, t.Name)
	}
	return out
}

func TestLoadCreatesDefaults(t *testing.T) {
	r := loadTestRegistry(t)
	if _, err := os.Stat(r.Path()); err != nil {
		t.Fatalf("expected registry file to be written: %v", err)
	}

	reloaded, err := Load(r.Path())
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	if !reflect.DeepEqual(reloaded.Catalog(), DefaultCatalog()) {
		t.Error("expected reloaded catalog to match defaults")
	}
}

func TestLoadEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := Load(path)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	if len(r.Catalog().Subagents) != 5 {
		t.Errorf("expected default subagents, got %d", len(r.Catalog().Subagents))
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	if err := os.WriteFile(path, []byte("mcp_servers: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestRelevantMCPServers(t *testing.T) {
	r := loadTestRegistry(t)
	got := r.RelevantMCPServers("Fix the crash in SQL query caching", "")

	if want := []string{"memory", "postgres", "redis"}; !reflect.DeepEqual(names(got), want) {
		t.Fatalf("expected %v, got %v", want, names(got))
	}
	if got[0].Relevance != 1.0 || got[0].Category != AlwaysActive {
		t.Errorf("unexpected always-active entry: %+v", got[0])
	}
	if got[1].Relevance != 1.0/3.0 || got[1].Category != "databases" {
		t.Errorf("unexpected postgres entry: %+v", got[1])
	}

	filtered := r.RelevantMCPServers("Fix the crash in SQL query caching", "web")
	if want := []string{"memory"}; !reflect.DeepEqual(names(filtered), want) {
		t.Errorf("expected %v with category filter, got %v", want, names(filtered))
	}
}

func TestRelevantSkills(t *testing.T) {
	r := loadTestRegistry(t)
	got := r.RelevantSkills("convert the report to pdf", "")
	if len(got) != 1 || got[0].Name != "pdf" || got[0].Relevance != 1.0 {
		t.Fatalf("expected pdf with relevance 1.0, got %+v", got)
	}
	if got[0].Path != "/mnt/skills/public/pdf/SKILL.md" {
		t.Errorf("unexpected path %q", got[0].Path)
	}
	if got := r.RelevantSkills("convert the report to pdf", "development"); len(got) != 0 {
		t.Errorf("expected no skills in development, got %v", names(got))
	}
}

func TestRelevantSubagents(t *testing.T) {
	r := loadTestRegistry(t)
	got := r.RelevantSubagents("Fix the crash in SQL query caching")
	if len(got) != 1 || got[0].Name != "debugger" {
		t.Fatalf("expected debugger, got %v", names(got))
	}
	if got[0].Relevance != 1.0/6.0 || !reflect.DeepEqual(got[0].MatchedTriggers, []string{"crash"}) {
		t.Errorf("unexpected debugger match: %+v", got[0])
	}

	got = r.RelevantSubagents("write a unit test and integration test, then commit")
	if want := []string{"test_generator", "github_specialist"}; !reflect.DeepEqual(names(got), want) {
		t.Errorf("expected %v ranked by relevance, got %v", want, names(got))
	}
}

func TestAllToolsWithoutContext(t *testing.T) {
	r := loadTestRegistry(t)
	all := r.AllTools("", "")
	if len(all.MCPServers) != 9 || len(all.Skills) != 4 || len(all.Subagents) != 5 {
		t.Errorf("unexpected counts: %d servers, %d skills, %d subagents",
			len(all.MCPServers), len(all.Skills), len(all.Subagents))
	}
	if all.MCPServers[0].Name != "memory" {
		t.Errorf("expected always-active servers first, got %s", all.MCPServers[0].Name)
	}

	web := r.AllTools("  ", "web")
	if want := []string{"puppeteer", "fetch"}; !reflect.DeepEqual(names(web.MCPServers), want) {
		t.Errorf("expected %v, got %v", want, names(web.MCPServers))
	}
}

func TestAddAndRemove(t *testing.T) {
	r := loadTestRegistry(t)

	if err := r.AddMCPServer("observability", Server{Name: "grafana", When: "dashboards, metrics"}); err != nil {
		t.Fatalf("AddMCPServer: %v", err)
	}
	if err := r.AddSkill("documents", Skill{Name: "pptx", When: "slides"}); err != nil {
		t.Fatalf("AddSkill: %v", err)
	}
	if err := r.AddSubagent(Subagent{Name: "reviewer", Trigger: "review"}); err != nil {
		t.Fatalf("AddSubagent: %v", err)
	}
	if err := r.AddSubagent(Subagent{}); err == nil {
		t.Error("expected error for unnamed subagent")
	}

	reloaded, err := Load(r.Path())
	if err != nil {
		t.Fatalf("reloading: %v", err)
	}
	got := reloaded.RelevantMCPServers("build grafana dashboards", "")
	if want := []string{"memory", "grafana"}; !reflect.DeepEqual(names(got), want) {
		t.Errorf("expected %v, got %v", want, names(got))
	}

	n, err := reloaded.Remove(KindSubagent, "reviewer", "")
	if err != nil || n != 1 {
		t.Fatalf("expected one subagent removed, got %d, %v", n, err)
	}
	n, _ = reloaded.Remove(KindSkill, "pptx", "development")
	if n != 0 {
		t.Errorf("expected category filter to skip documents, removed %d", n)
	}
	n, _ = reloaded.Remove(KindMCPServer, "grafana", "")
	if n != 1 {
		t.Errorf("expected grafana removed, got %d", n)
	}
	if _, err := reloaded.Remove(Kind("bogus"), "x", ""); err == nil {
		t.Error("expected error for invalid kind")
	}
}

func TestParseKind(t *testing.T) {
	for _, s := range []string{"mcp_server", "skill", "subagent"} {
		if _, err := ParseKind(s); err != nil {
			t.Errorf("ParseKind(%q): %v", s, err)
		}
	}
	if _, err := ParseKind("plugin"); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func TestExportImport(t *testing.T) {
	src := loadTestRegistry(t)
	if err := src.AddSubagent(Subagent{Name: "planner", Trigger: "plan"}); err != nil {
		t.Fatal(err)
	}
	exported := filepath.Join(t.TempDir(), "out", "export.yaml")
	if err := src.Export(exported); err != nil {
		t.Fatalf("Export: %v", err)
	}

	merged := loadTestRegistry(t)
	if err := merged.Import(exported, true); err != nil {
		t.Fatalf("Import merge: %v", err)
	}
	if len(merged.Catalog().Subagents) != 11 {
		t.Errorf("expected subagents appended on merge, got %d", len(merged.Catalog().Subagents))
	}

	replaced := loadTestRegistry(t)
	if err := replaced.Import(exported, false); err != nil {
		t.Fatalf("Import replace: %v", err)
	}
	if len(replaced.Catalog().Subagents) != 6 {
		t.Errorf("expected imported catalog to replace, got %d subagents", len(replaced.Catalog().Subagents))
	}

	if err := replaced.Import(filepath.Join(t.TempDir(), "missing.yaml"), false); err == nil {
		t.Error("expected error for missing import file")
	}
}
