package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ChuLiYu/buildtrace/pkg/types"
)

// FileStore keeps one JSON document per job under a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex // serializes writes
}

// NewFileStore creates dir/job_state if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("snapshot directory is required")
	}
	if err := os.MkdirAll(filepath.Join(dir, "job_state"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the document path for id.
func (s *FileStore) Path(id types.JobID) string {
	return filepath.Join(s.dir, filepath.FromSlash(ObjectName(id)))
}

// Put writes the document atomically: temp file, then rename over the target.
func (s *FileStore) Put(_ context.Context, snap *types.Snapshot) error {
	if err := validate(snap); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(snap.JobID)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) Get(_ context.Context, id types.JobID) (*types.Snapshot, error) {
	data, err := os.ReadFile(s.Path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: job %d", ErrSnapshotNotFound, id)
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decode(id, data)
}

// Ping checks the directory is still there.
func (s *FileStore) Ping(context.Context) error {
	if _, err := os.Stat(filepath.Join(s.dir, "job_state")); err != nil {
		return fmt.Errorf("snapshot directory unavailable: %w", err)
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
