// Package config handles conductor configuration parsing and validation.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/swamp-dev/conductor/internal/assembler"
	"github.com/swamp-dev/conductor/internal/statesync"
	"github.com/swamp-dev/conductor/internal/store"
)

// FileName is the configuration file searched for in the working directory,
// its parents and the conductor home.
const FileName = "conductor.yaml"

// Config represents the conductor.yaml configuration file.
type Config struct {
	Version   string         `yaml:"version" mapstructure:"version"`
	Project   ProjectConfig  `yaml:"project" mapstructure:"project"`
	Storage   StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Context   ContextConfig  `yaml:"context" mapstructure:"context"`
	Registry  RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Sync      SyncConfig     `yaml:"sync" mapstructure:"sync"`
	MachineID string         `yaml:"machine_id,omitempty" mapstructure:"machine_id"`
}

// ProjectConfig holds project-level settings.
type ProjectConfig struct {
	Name string `yaml:"name" mapstructure:"name"` // default project for commands
}

// StorageConfig selects the storage backend.
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // sqlite, postgres
	Path    string `yaml:"path" mapstructure:"path"`
	DSN     string `yaml:"dsn,omitempty" mapstructure:"dsn"`
}

// ContextConfig sizes the assembled project context.
type ContextConfig struct {
	MaxSize       int `yaml:"max_size" mapstructure:"max_size"`
	HistoryItems  int `yaml:"history_items" mapstructure:"history_items"`
	DecisionItems int `yaml:"decision_items" mapstructure:"decision_items"`
}

// RegistryConfig locates the tool registry.
type RegistryConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// SyncConfig controls multi-machine state sync.
type SyncConfig struct {
	Method    string `yaml:"method" mapstructure:"method"` // auto, git, file
	Dir       string `yaml:"dir" mapstructure:"dir"`
	SharedDir string `yaml:"shared_dir" mapstructure:"shared_dir"`
	Remote    string `yaml:"remote" mapstructure:"remote"`
	RemoteURL string `yaml:"remote_url,omitempty" mapstructure:"remote_url"`
	Branch    string `yaml:"branch" mapstructure:"branch"`
}

// HomeDir returns the conductor state directory: $CONDUCTOR_HOME, or
// ~/.conductor.
func HomeDir() string {
	if dir := os.Getenv("CONDUCTOR_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(userHome(), ".conductor")
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	home := HomeDir()
	return &Config{
		Version: "1.0",
		Storage: StorageConfig{
			Backend: store.BackendSQLite,
			Path:    filepath.Join(home, "conductor.db"),
		},
		Context: ContextConfig{
			MaxSize:       assembler.DefaultMaxSize,
			HistoryItems:  assembler.DefaultHistoryItems,
			DecisionItems: assembler.DefaultDecisionItems,
		},
		Registry: RegistryConfig{
			Path: filepath.Join(home, "registry.yaml"),
		},
		Sync: SyncConfig{
			Method:    string(statesync.MethodAuto),
			Dir:       home,
			SharedDir: statesync.DefaultSyncDir(userHome()),
			Remote:    statesync.DefaultRemote,
			Branch:    statesync.DefaultBranch,
		},
	}
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string][]string{
	"project.name":    {"CONDUCTOR_PROJECT"},
	"storage.path":    {"CONDUCTOR_DB_PATH", "CONDUCTOR_STORAGE_PATH"},
	"storage.backend": {"CONDUCTOR_STORAGE_BACKEND"},
	"storage.dsn":     {"CONDUCTOR_POSTGRES_DSN", "CONDUCTOR_STORAGE_DSN"},
	"machine_id":      {"CONDUCTOR_MACHINE_ID"},
}

func newViper(defaults *Config) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("version", defaults.Version)
	v.SetDefault("project.name", defaults.Project.Name)
	v.SetDefault("storage.backend", defaults.Storage.Backend)
	v.SetDefault("storage.path", defaults.Storage.Path)
	v.SetDefault("storage.dsn", defaults.Storage.DSN)
	v.SetDefault("context.max_size", defaults.Context.MaxSize)
	v.SetDefault("context.history_items", defaults.Context.HistoryItems)
	v.SetDefault("context.decision_items", defaults.Context.DecisionItems)
	v.SetDefault("registry.path", defaults.Registry.Path)
	v.SetDefault("sync.method", defaults.Sync.Method)
	v.SetDefault("sync.dir", defaults.Sync.Dir)
	v.SetDefault("sync.shared_dir", defaults.Sync.SharedDir)
	v.SetDefault("sync.remote", defaults.Sync.Remote)
	v.SetDefault("sync.remote_url", defaults.Sync.RemoteURL)
	v.SetDefault("sync.branch", defaults.Sync.Branch)
	v.SetDefault("machine_id", defaults.MachineID)

	// Only the listed variables are bound. CONDUCTOR_PROJECT would otherwise
	// shadow the whole project section.
	for key, envs := range envBindings {
		_ = v.BindEnv(append([]string{key}, envs...)...)
	}
	return v
}

// Load reads the config file at path and applies CONDUCTOR_* environment
// overrides. An empty or missing path yields defaults plus overrides.
func Load(path string) (*Config, error) {
	v := newViper(DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.Registry.Path = expandHome(cfg.Registry.Path)
	cfg.Sync.Dir = expandHome(cfg.Sync.Dir)
	cfg.Sync.SharedDir = expandHome(cfg.Sync.SharedDir)
	return cfg, nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	return filepath.Join(userHome(), strings.TrimPrefix(path, "~"))
}

// Save writes the configuration to the specified path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case store.BackendSQLite:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite backend")
		}
	case store.BackendPostgres:
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be sqlite or postgres)", c.Storage.Backend)
	}

	if c.Context.MaxSize < 1 {
		return fmt.Errorf("context.max_size must be at least 1")
	}
	if c.Context.HistoryItems < 0 || c.Context.DecisionItems < 0 {
		return fmt.Errorf("context history_items and decision_items must not be negative")
	}

	if _, err := statesync.ParseMethod(c.Sync.Method); err != nil {
		return err
	}

	return nil
}

// StoreConfig returns the storage factory settings.
func (c *Config) StoreConfig() store.Config {
	return store.Config{Backend: c.Storage.Backend, Path: c.Storage.Path, DSN: c.Storage.DSN}
}

// AssemblerOptions returns the context assembler settings.
func (c *Config) AssemblerOptions() assembler.Options {
	return assembler.Options{
		MaxSize:       c.Context.MaxSize,
		HistoryItems:  c.Context.HistoryItems,
		DecisionItems: c.Context.DecisionItems,
	}
}

// SyncOptions returns the state sync settings.
func (c *Config) SyncOptions() statesync.Options {
	method, _ := statesync.ParseMethod(c.Sync.Method)
	return statesync.Options{
		Dir:       c.Sync.Dir,
		DBPath:    c.Storage.Path,
		Method:    method,
		SyncDir:   c.Sync.SharedDir,
		Remote:    c.Sync.Remote,
		RemoteURL: c.Sync.RemoteURL,
		Branch:    c.Sync.Branch,
	}
}

// FindConfigFile searches for conductor.yaml in the current and parent
// directories, then in the conductor home.
func FindConfigFile() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for dir := cwd; ; dir = filepath.Dir(dir) {
		configPath := filepath.Join(dir, FileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		if dir == filepath.Dir(dir) {
			break
		}
	}

	homePath := filepath.Join(HomeDir(), FileName)
	if _, err := os.Stat(homePath); err == nil {
		return homePath, nil
	}

	return "", fmt.Errorf("%s not found in %s, its parents, or %s", FileName, cwd, HomeDir())
}
