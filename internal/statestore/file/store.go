// Package file implements a state store that keeps the backlog snapshot in a
// local file.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/crawl-cluster-master/internal/cluster"
	"github.com/JakeFAU/crawl-cluster-master/internal/statestore"
)

// Config captures the parameters for the file state store.
type Config struct {
	// Path is the snapshot file. Parent directories are created on save.
	Path string `mapstructure:"path" yaml:"path"`
}

// Store persists the backlog to Path.
type Store struct {
	path string
}

var _ cluster.StateStore = (*Store)(nil)

// New creates a file-backed state store.
func New(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("state file path is required")
	}
	if info, err := os.Stat(cfg.Path); err == nil && info.IsDir() {
		return nil, fmt.Errorf("state file %s is a directory", cfg.Path)
	}
	return &Store{path: filepath.Clean(cfg.Path)}, nil
}

// Load reads the snapshot. It returns cluster.ErrNotFound when the file does
// not exist.
func (s *Store) Load(_ context.Context) ([]cluster.PendingJob, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, cluster.ErrNotFound
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	pending, err := statestore.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("state file %s: %w", s.path, err)
	}
	return pending, nil
}

// Save writes the snapshot to a temporary file and renames it over Path.
func (s *Store) Save(_ context.Context, pending []cluster.PendingJob) error {
	data, err := statestore.Encode(pending)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
