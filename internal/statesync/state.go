package statesync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// StateFile is the name of the sync bookkeeping file inside the state directory.
const StateFile = "sync_state.json"

// syncState is persisted in StateFile.
type syncState struct {
	LastSync  *time.Time `json:"last_sync,omitempty"`
	LastHash  string     `json:"last_hash,omitempty"`
	SyncCount int        `json:"sync_count"`
}

func (s *Syncer) statePath() string {
	return filepath.Join(s.opts.Dir, StateFile)
}

// loadState reads the bookkeeping file. A missing or corrupt file yields an
// empty state.
func (s *Syncer) loadState() syncState {
	var st syncState
	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("reading sync state", "error", err)
		}
		return st
	}
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Warn("parsing sync state", "error", err)
		return syncState{}
	}
	return st
}

func (s *Syncer) saveState(st syncState) error {
	if err := os.MkdirAll(s.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding sync state: %w", err)
	}
	if err := os.WriteFile(s.statePath(), data, 0o644); err != nil {
		return fmt.Errorf("writing sync state: %w", err)
	}
	return nil
}

// fileHash returns the hex SHA-256 of path, or "" when it does not exist.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile copies src to dst and carries over the modification time.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

// newer reports whether src should replace dst: dst is missing or older.
func newer(src, dst string) (bool, error) {
	si, err := os.Stat(src)
	if err != nil {
		return false, err
	}
	di, err := os.Stat(dst)
	if errors.Is(err, os.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return si.ModTime().After(di.ModTime()), nil
}
