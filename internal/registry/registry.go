// Package registry manages the YAML catalog of MCP servers, skills and
// subagents, and ranks them by relevance to a piece of work.
package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// AlwaysActive is the MCP server category included regardless of context.
const AlwaysActive = "always_active"

// Kind identifies a registry entry type.
type Kind string

const (
	KindMCPServer Kind = "mcp_server"
	KindSkill     Kind = "skill"
	KindSubagent  Kind = "subagent"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindMCPServer, KindSkill, KindSubagent:
		return k, nil
	}
	return "", fmt.Errorf("invalid tool type %q (must be mcp_server, skill, or subagent)", s)
}

// Server is an MCP server entry.
type Server struct {
	Name        string `yaml:"name"`
	When        string `yaml:"when,omitempty"`
	Description string `yaml:"description,omitempty"`
	ConfigPath  string `yaml:"config_path,omitempty"`
}

// Skill is a skill entry.
type Skill struct {
	Name        string `yaml:"name"`
	Path        string `yaml:"path,omitempty"`
	When        string `yaml:"when,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Subagent is a subagent entry.
type Subagent struct {
	Name         string `yaml:"name"`
	Trigger      string `yaml:"trigger,omitempty"`
	Instructions string `yaml:"instructions,omitempty"`
	Description  string `yaml:"description,omitempty"`
}

// Catalog is the on-disk registry document.
type Catalog struct {
	MCPServers map[string][]Server `yaml:"mcp_servers"`
	Skills     map[string][]Skill  `yaml:"skills"`
	Subagents  []Subagent          `yaml:"subagents"`
}

// Tool is a registry entry annotated with its category and relevance.
type Tool struct {
	Kind            Kind     `json:"kind"`
	Name            string   `json:"name"`
	Category        string   `json:"category,omitempty"`
	When            string   `json:"when,omitempty"`
	Description     string   `json:"description,omitempty"`
	Path            string   `json:"path,omitempty"`
	ConfigPath      string   `json:"config_path,omitempty"`
	Instructions    string   `json:"instructions,omitempty"`
	Relevance       float64  `json:"relevance"`
	MatchedTriggers []string `json:"matched_triggers,omitempty"`
}

// Tools groups lookup results by kind.
type Tools struct {
	MCPServers []Tool `json:"mcp_servers"`
	Skills     []Tool `json:"skills"`
	Subagents  []Tool `json:"subagents"`
}

// Registry is a catalog bound to its file.
type Registry struct {
	path    string
	catalog *Catalog
}

// DefaultPath returns ~/.conductor/registry.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".conductor", "registry.yaml")
	}
	return filepath.Join(home, ".conductor", "registry.yaml")
}

// Load reads the registry at path, writing the default catalog there when the
// file does not exist. An empty path means DefaultPath.
func Load(path string) (*Registry, error) {
	if path == "" {
		path = DefaultPath()
	}
	r := &Registry{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		r.catalog = DefaultCatalog()
		return r, r.save()
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing registry: %w", err)
	}
	if c.MCPServers == nil && c.Skills == nil && c.Subagents == nil {
		c = DefaultCatalog()
	}
	r.catalog = c.normalize()
	return r, nil
}

// Path returns the file backing the registry.
func (r *Registry) Path() string { return r.path }

// Catalog returns the loaded catalog.
func (r *Registry) Catalog() *Catalog { return r.catalog }

func (c *Catalog) normalize() *Catalog {
	if c.MCPServers == nil {
		c.MCPServers = map[string][]Server{}
	}
	if c.Skills == nil {
		c.Skills = map[string][]Skill{}
	}
	return c
}

func (r *Registry) save() error {
	return writeCatalog(r.path, r.catalog)
}

func writeCatalog(path string, c *Catalog) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}
	return nil
}

// categories returns category names in a stable order with always_active first.
func categories[T any](m map[string][]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == AlwaysActive) != (names[j] == AlwaysActive) {
			return names[i] == AlwaysActive
		}
		return names[i] < names[j]
	})
	return names
}

// splitKeywords splits a comma-separated keyword list, dropping blanks.
func splitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}

func byRelevance(tools []Tool) []Tool {
	sort.SliceStable(tools, func(i, j int) bool { return tools[i].Relevance > tools[j].Relevance })
	return tools
}

func serverTool(s Server, category string, relevance float64) Tool {
	return Tool{
		Kind: KindMCPServer, Name: s.Name, Category: category, When: s.When,
		Description: s.Description, ConfigPath: s.ConfigPath, Relevance: relevance,
	}
}

func skillTool(s Skill, category string, relevance float64) Tool {
	return Tool{
		Kind: KindSkill, Name: s.Name, Category: category, When: s.When,
		Description: s.Description, Path: s.Path, Relevance: relevance,
	}
}

func subagentTool(a Subagent, relevance float64, matched []string) Tool {
	return Tool{
		Kind: KindSubagent, Name: a.Name, When: a.Trigger, Description: a.Description,
		Instructions: a.Instructions, Relevance: relevance, MatchedTriggers: matched,
	}
}

// RelevantMCPServers returns always-active servers plus servers whose `when`
// keywords occur in context, scored by the fraction of keywords matched.
func (r *Registry) RelevantMCPServers(context, category string) []Tool {
	var out []Tool
	for _, s := range r.catalog.MCPServers[AlwaysActive] {
		out = append(out, serverTool(s, AlwaysActive, 1.0))
	}

	ctx := strings.ToLower(context)
	for _, cat := range categories(r.catalog.MCPServers) {
		if cat == AlwaysActive || (category != "" && category != cat) {
			continue
		}
		for _, s := range r.catalog.MCPServers[cat] {
			keywords := splitKeywords(strings.ToLower(s.When))
			if len(keywords) == 0 {
				continue
			}
			hits := 0
			for _, k := range keywords {
				if strings.Contains(ctx, k) {
					hits++
				}
			}
			if hits > 0 {
				out = append(out, serverTool(s, cat, min(float64(hits)/float64(len(keywords)), 1.0)))
			}
		}
	}
	return byRelevance(out)
}

// RelevantSkills scores 0.5 when any word of a skill's `when` occurs in
// context and another 0.5 when its name does.
func (r *Registry) RelevantSkills(context, category string) []Tool {
	var out []Tool
	ctx := strings.ToLower(context)
	for _, cat := range categories(r.catalog.Skills) {
		if category != "" && category != cat {
			continue
		}
		for _, s := range r.catalog.Skills[cat] {
			var relevance float64
			for _, w := range strings.Fields(strings.ToLower(s.When)) {
				if strings.Contains(ctx, w) {
					relevance += 0.5
					break
				}
			}
			if name := strings.ToLower(s.Name); name != "" && strings.Contains(ctx, name) {
				relevance += 0.5
			}
			if relevance > 0 {
				out = append(out, skillTool(s, cat, relevance))
			}
		}
	}
	return byRelevance(out)
}

// RelevantSubagents returns subagents whose comma-separated triggers occur in
// context, scored by the fraction of triggers matched.
func (r *Registry) RelevantSubagents(context string) []Tool {
	var out []Tool
	ctx := strings.ToLower(context)
	for _, a := range r.catalog.Subagents {
		triggers := splitKeywords(a.Trigger)
		if len(triggers) == 0 {
			continue
		}
		var matched []string
		for _, t := range triggers {
			if strings.Contains(ctx, strings.ToLower(t)) {
				matched = append(matched, t)
			}
		}
		if len(matched) > 0 {
			out = append(out, subagentTool(a, min(float64(len(matched))/float64(len(triggers)), 1.0), matched))
		}
	}
	return byRelevance(out)
}

// AllTools returns relevance-ranked tools for context, or every entry
// unranked when context is empty.
func (r *Registry) AllTools(context, category string) Tools {
	if strings.TrimSpace(context) != "" {
		return Tools{
			MCPServers: r.RelevantMCPServers(context, category),
			Skills:     r.RelevantSkills(context, category),
			Subagents:  r.RelevantSubagents(context),
		}
	}

	var t Tools
	for _, cat := range categories(r.catalog.MCPServers) {
		if category != "" && category != cat {
			continue
		}
		for _, s := range r.catalog.MCPServers[cat] {
			t.MCPServers = append(t.MCPServers, serverTool(s, cat, 0))
		}
	}
	for _, cat := range categories(r.catalog.Skills) {
		if category != "" && category != cat {
			continue
		}
		for _, s := range r.catalog.Skills[cat] {
			t.Skills = append(t.Skills, skillTool(s, cat, 0))
		}
	}
	for _, a := range r.catalog.Subagents {
		t.Subagents = append(t.Subagents, subagentTool(a, 0, nil))
	}
	return t
}

// AddMCPServer appends a server to category and saves the registry.
func (r *Registry) AddMCPServer(category string, s Server) error {
	if s.Name == "" || category == "" {
		return fmt.Errorf("mcp server name and category are required")
	}
	r.catalog.MCPServers[category] = append(r.catalog.MCPServers[category], s)
	return r.save()
}

// AddSkill appends a skill to category and saves the registry.
func (r *Registry) AddSkill(category string, s Skill) error {
	if s.Name == "" || category == "" {
		return fmt.Errorf("skill name and category are required")
	}
	r.catalog.Skills[category] = append(r.catalog.Skills[category], s)
	return r.save()
}

// AddSubagent appends a subagent and saves the registry.
func (r *Registry) AddSubagent(a Subagent) error {
	if a.Name == "" {
		return fmt.Errorf("subagent name is required")
	}
	r.catalog.Subagents = append(r.catalog.Subagents, a)
	return r.save()
}

// Remove deletes every entry of kind named name, limited to category when
// given, and saves the registry. It returns the number of entries removed.
func (r *Registry) Remove(kind Kind, name, category string) (int, error) {
	removed := 0
	switch kind {
	case KindSubagent:
		kept := r.catalog.Subagents[:0]
		for _, a := range r.catalog.Subagents {
			if a.Name == name {
				removed++
				continue
			}
			kept = append(kept, a)
		}
		r.catalog.Subagents = kept
	case KindMCPServer:
		for cat, servers := range r.catalog.MCPServers {
			if category != "" && cat != category {
				continue
			}
			kept := servers[:0]
			for _, s := range servers {
				if s.Name == name {
					removed++
					continue
				}
				kept = append(kept, s)
			}
			r.catalog.MCPServers[cat] = kept
		}
	case KindSkill:
		for cat, skills := range r.catalog.Skills {
			if category != "" && cat != category {
				continue
			}
			kept := skills[:0]
			for _, s := range skills {
				if s.Name == name {
					removed++
					continue
				}
				kept = append(kept, s)
			}
			r.catalog.Skills[cat] = kept
		}
	default:
		return 0, fmt.Errorf("invalid tool type %q", kind)
	}
	return removed, r.save()
}

// Export writes the catalog to path.
func (r *Registry) Export(path string) error {
	return writeCatalog(path, r.catalog)
}

// Import reads a catalog from path. With merge, imported categories replace
// same-named ones and imported subagents are appended; otherwise the imported
// catalog replaces the current one.
func (r *Registry) Import(path string, merge bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading registry file: %w", err)
	}
	imported := &Catalog{}
	if err := yaml.Unmarshal(data, imported); err != nil {
		return fmt.Errorf("parsing registry file: %w", err)
	}
	imported.normalize()

	if !merge {
		r.catalog = imported
		return r.save()
	}
	for cat, servers := range imported.MCPServers {
		r.catalog.MCPServers[cat] = servers
	}
	for cat, skills := range imported.Skills {
		r.catalog.Skills[cat] = skills
	}
	r.catalog.Subagents = append(r.catalog.Subagents, imported.Subagents...)
	return r.save()
}
