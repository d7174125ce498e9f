package statesync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// gitRepo runs git commands inside the state directory.
type gitRepo struct {
	dir string
	s   *Syncer
}

// isGitRepo reports whether dir is inside a git work tree.
func isGitRepo(ctx context.Context, dir string) bool {
	if _, err := os.Stat(dir); err != nil {
		return false
	}
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--git-dir")
	cmd.Dir = dir
	return cmd.Run() == nil
}

// init creates the repository on the state branch and wires the remote.
func (g *gitRepo) init(ctx context.Context) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	g.s.logger.Info("initializing state repository", "path", g.dir, "branch", g.s.opts.Branch)
	if _, err := g.output(ctx, "init"); err != nil {
		return err
	}
	if _, err := g.output(ctx, "checkout", "-b", g.s.opts.Branch); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(g.dir, ".gitignore"), []byte("*.log\n*.tmp\n*.db-wal\n*.db-shm\n"), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}
	if g.s.opts.RemoteURL != "" {
		if _, err := g.output(ctx, "remote", "add", g.s.opts.Remote, g.s.opts.RemoteURL); err != nil {
			return err
		}
	}
	return nil
}

// commit stages files and commits them if anything changed. It reports
// whether a commit was made.
func (g *gitRepo) commit(ctx context.Context, msg string, files []string) (bool, error) {
	args := append([]string{"add", "--"}, files...)
	if _, err := g.output(ctx, args...); err != nil {
		return false, err
	}

	out, err := g.output(ctx, append([]string{"status", "--porcelain", "--"}, files...)...)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(out) == "" {
		g.s.logger.Debug("nothing to commit")
		return false, nil
	}

	if _, err := g.output(ctx, "commit", "-m", msg); err != nil {
		return false, err
	}
	return true, nil
}

func (g *gitRepo) push(ctx context.Context) (string, error) {
	return g.output(ctx, "push", g.s.opts.Remote, g.s.opts.Branch)
}

func (g *gitRepo) pull(ctx context.Context) (string, error) {
	return g.output(ctx, "pull", g.s.opts.Remote, g.s.opts.Branch)
}

// output runs a git command and returns its combined stdout.
func (g *gitRepo) output(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	g.s.logger.Debug("git", "args", args, "dir", g.dir)
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
