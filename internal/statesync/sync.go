// Package statesync keeps conductor state consistent across machines, either
// through a git branch or by copying files through a shared folder.
package statesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Method selects how state moves between machines.
type Method string

const (
	MethodAuto Method = "auto"
	MethodGit  Method = "git"
	MethodFile Method = "file"
)

// ParseMethod validates a method name. Empty means auto.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case "":
		return MethodAuto, nil
	case MethodAuto, MethodGit, MethodFile:
		return m, nil
	}
	return "", fmt.Errorf("invalid sync method %q (must be auto, git, or file)", s)
}

const (
	DefaultBranch = "conductor-state"
	DefaultRemote = "origin"
	commitMessage = "Sync conductor state"
)

// ErrNoSyncDir is returned by file sync when the shared folder is missing.
var ErrNoSyncDir = errors.New("sync directory not configured")

// Options configures a Syncer.
type Options struct {
	// Dir holds the state files and, for git sync, the repository.
	Dir string
	// DBPath is the database whose hash drives change detection.
	DBPath string
	Method Method
	// SyncDir is the shared folder used by file sync.
	SyncDir string
	Remote  string
	// RemoteURL is added as Remote when a state repository is first created.
	RemoteURL string
	Branch    string
	// Files are the state file names, relative to Dir, that are synced.
	Files []string
}

// DefaultFiles lists the state files synced when Options.Files is empty.
func DefaultFiles(dbPath string) []string {
	return []string{filepath.Base(dbPath), "registry.yaml", "conductor.yaml", StateFile}
}

// DefaultSyncDir returns ~/Dropbox/.conductor when a Dropbox folder exists,
// otherwise ~/.conductor-sync.
func DefaultSyncDir(home string) string {
	if info, err := os.Stat(filepath.Join(home, "Dropbox")); err == nil && info.IsDir() {
		return filepath.Join(home, "Dropbox", ".conductor")
	}
	return filepath.Join(home, ".conductor-sync")
}

// Result describes a completed push or pull.
type Result struct {
	Method    Method `json:"method"`
	Files     int    `json:"files"`
	Committed bool   `json:"committed,omitempty"`
	Message   string `json:"message"`
}

// Status reports sync bookkeeping.
type Status struct {
	Method          Method     `json:"method"`
	HasLocalChanges bool       `json:"has_local_changes"`
	LastSync        *time.Time `json:"last_sync,omitempty"`
	SyncCount       int        `json:"sync_count"`
}

// Syncer pushes and pulls state files.
type Syncer struct {
	opts   Options
	method Method
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Syncer. The auto method resolves to git when Dir is inside a
// git work tree and to file otherwise.
func New(ctx context.Context, opts Options, logger *slog.Logger) *Syncer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.Remote == "" {
		opts.Remote = DefaultRemote
	}
	if opts.Branch == "" {
		opts.Branch = DefaultBranch
	}
	if len(opts.Files) == 0 {
		opts.Files = DefaultFiles(opts.DBPath)
	}
	s := &Syncer{opts: opts, logger: logger, now: time.Now}
	s.method = s.detect(ctx)
	return s
}

func (s *Syncer) detect(ctx context.Context) Method {
	switch s.opts.Method {
	case MethodGit, MethodFile:
		return s.opts.Method
	}
	if isGitRepo(ctx, s.opts.Dir) {
		return MethodGit
	}
	return MethodFile
}

// SetClock replaces the time source used for sync timestamps.
func (s *Syncer) SetClock(now func() time.Time) {
	s.now = now
}

// Method returns the resolved sync method.
func (s *Syncer) Method() Method {
	return s.method
}

// existing returns the configured state files present in dir.
func (s *Syncer) existing(dir string) []string {
	var out []string
	for _, name := range s.opts.Files {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			out = append(out, name)
		}
	}
	return out
}

// Push publishes local state.
func (s *Syncer) Push(ctx context.Context) (*Result, error) {
	if s.method == MethodGit {
		return s.pushGit(ctx)
	}
	return s.pushFile()
}

// Pull fetches remote state.
func (s *Syncer) Pull(ctx context.Context) (*Result, error) {
	if s.method == MethodGit {
		return s.pullGit(ctx)
	}
	return s.pullFile()
}

func (s *Syncer) pushGit(ctx context.Context) (*Result, error) {
	repo := &gitRepo{dir: s.opts.Dir, s: s}
	if !isGitRepo(ctx, s.opts.Dir) {
		if err := repo.init(ctx); err != nil {
			return nil, fmt.Errorf("initializing state repository: %w", err)
		}
	}

	files := s.existing(s.opts.Dir)
	if _, err := os.Stat(filepath.Join(s.opts.Dir, ".gitignore")); err == nil {
		files = append(files, ".gitignore")
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no state files found in %s", s.opts.Dir)
	}

	committed, err := repo.commit(ctx, commitMessage, files)
	if err != nil {
		return nil, fmt.Errorf("committing state: %w", err)
	}
	out, err := repo.push(ctx)
	if err != nil {
		return nil, fmt.Errorf("pushing state: %w", err)
	}
	s.logger.Info("state pushed", "method", MethodGit, "files", len(files), "committed", committed)
	return &Result{Method: MethodGit, Files: len(files), Committed: committed, Message: out}, nil
}

func (s *Syncer) pullGit(ctx context.Context) (*Result, error) {
	if !isGitRepo(ctx, s.opts.Dir) {
		return nil, fmt.Errorf("not a git repository: %s", s.opts.Dir)
	}
	out, err := (&gitRepo{dir: s.opts.Dir, s: s}).pull(ctx)
	if err != nil {
		return nil, fmt.Errorf("pulling state: %w", err)
	}
	s.logger.Info("state pulled", "method", MethodGit)
	return &Result{Method: MethodGit, Message: out}, nil
}

func (s *Syncer) syncDir() (string, error) {
	if s.opts.SyncDir == "" {
		return "", ErrNoSyncDir
	}
	info, err := os.Stat(s.opts.SyncDir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: set up a shared folder at %s", ErrNoSyncDir, s.opts.SyncDir)
	}
	return s.opts.SyncDir, nil
}

func (s *Syncer) pushFile() (*Result, error) {
	dir, err := s.syncDir()
	if err != nil {
		return nil, err
	}
	files := s.existing(s.opts.Dir)
	for _, name := range files {
		if err := copyFile(filepath.Join(s.opts.Dir, name), filepath.Join(dir, name)); err != nil {
			return nil, fmt.Errorf("copying %s: %w", name, err)
		}
	}
	s.logger.Info("state pushed", "method", MethodFile, "dir", dir, "files", len(files))
	return &Result{Method: MethodFile, Files: len(files), Message: fmt.Sprintf("Synced %d files to %s", len(files), dir)}, nil
}

// pullFile copies shared files that are missing locally or newer than the
// local copy.
func (s *Syncer) pullFile() (*Result, error) {
	dir, err := s.syncDir()
	if err != nil {
		return nil, err
	}
	copied := 0
	for _, name := range s.existing(dir) {
		src, dst := filepath.Join(dir, name), filepath.Join(s.opts.Dir, name)
		pull, err := newer(src, dst)
		if err != nil {
			return nil, fmt.Errorf("comparing %s: %w", name, err)
		}
		if !pull {
			continue
		}
		if err := copyFile(src, dst); err != nil {
			return nil, fmt.Errorf("copying %s: %w", name, err)
		}
		copied++
	}
	s.logger.Info("state pulled", "method", MethodFile, "dir", dir, "files", copied)
	return &Result{Method: MethodFile, Files: copied, Message: fmt.Sprintf("Synced %d files from %s", copied, dir)}, nil
}

// Status compares the database hash with the one recorded at the last sync.
func (s *Syncer) Status() (*Status, error) {
	st := s.loadState()
	hash, err := fileHash(s.opts.DBPath)
	if err != nil {
		return nil, err
	}
	return &Status{
		Method:          s.method,
		HasLocalChanges: st.LastHash == "" || st.LastHash != hash,
		LastSync:        st.LastSync,
		SyncCount:       st.SyncCount,
	}, nil
}

// MarkSynced records the current database hash and bumps the sync count.
func (s *Syncer) MarkSynced() error {
	st := s.loadState()
	hash, err := fileHash(s.opts.DBPath)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	st.LastSync = &now
	st.LastHash = hash
	st.SyncCount++
	return s.saveState(st)
}

// AutoSync pushes and marks state synced when the database changed since the
// last sync. It returns nil when there was nothing to do.
func (s *Syncer) AutoSync(ctx context.Context) (*Result, error) {
	status, err := s.Status()
	if err != nil {
		return nil, err
	}
	if !status.HasLocalChanges {
		return nil, nil
	}
	res, err := s.Push(ctx)
	if err != nil {
		return nil, err
	}
	return res, s.MarkSynced()
}
