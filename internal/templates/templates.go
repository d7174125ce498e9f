// Package templates expands prompt templates. Builtin templates ship embedded
// in the binary; custom templates live in the store.
package templates

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/swamp-dev/conductor/internal/store"
)

//go:embed builtin/*.tmpl
var builtinTemplates embed.FS

// ErrNotFound is returned for a template name that is neither builtin nor stored.
var ErrNotFound = errors.New("template not found")

var placeholderPattern = regexp.MustCompile(`\{(\w+)\}`)

// Kind distinguishes builtin from custom templates.
type Kind string

const (
	KindBuiltin Kind = "builtin"
	KindCustom  Kind = "custom"
)

// Info describes one available template.
type Info struct {
	Name       string   `json:"name"`
	Kind       Kind     `json:"type"`
	Variables  []string `json:"variables"`
	UsageCount int      `json:"usage_count"`
}

// Builtin returns the content of a builtin template.
func Builtin(name string) (string, bool) {
	content, err := builtinTemplates.ReadFile("builtin/" + name + ".tmpl")
	if err != nil {
		return "", false
	}
	return strings.TrimRight(string(content), "\n"), true
}

// BuiltinNames returns the builtin template names in lexical order.
func BuiltinNames() []string {
	entries, err := builtinTemplates.ReadDir("builtin")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".tmpl"))
	}
	sort.Strings(names)
	return names
}

// IsBuiltin reports whether name is a builtin template.
func IsBuiltin(name string) bool {
	_, ok := Builtin(name)
	return ok
}

// Variables returns the sorted, unique {placeholder} names in content.
func Variables(content string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			out = append(out, m[1])
		}
	}
	sort.Strings(out)
	return out
}

// Engine resolves and expands templates.
type Engine struct {
	store store.Backend
}

// New creates an engine backed by b for custom templates.
func New(b store.Backend) *Engine {
	return &Engine{store: b}
}

// List returns builtin templates followed by custom ones.
func (e *Engine) List() ([]Info, error) {
	var out []Info
	for _, name := range BuiltinNames() {
		content, _ := Builtin(name)
		out = append(out, Info{Name: name, Kind: KindBuiltin, Variables: Variables(content)})
	}
	custom, err := e.store.ListTemplates()
	if err != nil {
		return nil, err
	}
	for _, t := range custom {
		vars := t.Variables
		if vars == nil {
			vars = Variables(t.Content)
		}
		out = append(out, Info{Name: t.Name, Kind: KindCustom, Variables: vars, UsageCount: t.UsageCount})
	}
	return out, nil
}

// Get returns the content of the named template.
func (e *Engine) Get(name string) (string, error) {
	if content, ok := Builtin(name); ok {
		return content, nil
	}
	t, err := e.store.GetTemplate(name)
	if errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("template %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return t.Content, nil
}

// Expand substitutes vars into the named template. When context is non-empty
// and vars has no "context" entry, it fills {context}. Placeholders without a
// value are left intact. Expanding a custom template increments its usage count.
func (e *Engine) Expand(name string, vars map[string]string, context string) (string, error) {
	content, err := e.Get(name)
	if err != nil {
		return "", err
	}
	if !IsBuiltin(name) {
		if err := e.store.IncrementTemplateUsage(name); err != nil {
			return "", err
		}
	}

	values := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		values[k] = v
	}
	if _, ok := values["context"]; !ok && context != "" {
		values["context"] = context
	}
	return Substitute(content, values), nil
}

// Substitute replaces each {name} in content whose name has a value.
func Substitute(content string, values map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(content, func(m string) string {
		if v, ok := values[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// Create stores a custom template. Builtin names cannot be reused. When
// variables is nil they are detected from content.
func (e *Engine) Create(name, content string, variables []string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("template name is required")
	}
	if IsBuiltin(name) {
		return fmt.Errorf("cannot override builtin template %q", name)
	}
	if variables == nil {
		variables = Variables(content)
	}
	return e.store.SaveTemplate(&store.Template{Name: name, Content: content, Variables: variables})
}

// SaveToFile writes a template's content to path, creating parent directories.
func (e *Engine) SaveToFile(name, path string) error {
	content, err := e.Get(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

// LoadFromFile creates a custom template from the contents of path.
func (e *Engine) LoadFromFile(name, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading template file: %w", err)
	}
	return e.Create(name, string(data), nil)
}
