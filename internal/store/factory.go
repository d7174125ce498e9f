package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Backend names accepted by Open.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config selects and locates a storage backend.
type Config struct {
	Backend string // "sqlite" (default) or "postgres"
	Path    string // SQLite database file, or ":memory:"
	DSN     string // PostgreSQL connection string
}

// Open returns the backend described by cfg.
func Open(cfg Config, logger *slog.Logger, opts ...Option) (Backend, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend == "" {
		backend = BackendSQLite
	}

	switch backend {
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a database path")
		}
		if cfg.Path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		logger.Debug("opening sqlite store", "path", cfg.Path)
		return OpenSQLite(cfg.Path, opts...)

	case BackendPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("postgres backend requires a DSN")
		}
		logger.Debug("opening postgres store")
		return OpenPostgres(cfg.DSN, opts...)

	default:
		return nil, fmt.Errorf("unknown storage backend: %q. Expected 'sqlite' or 'postgres'", cfg.Backend)
	}
}
