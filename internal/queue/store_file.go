package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"imaginer/internal/fileutil"
)

// FileStore persists snapshots as a JSON document rewritten atomically on each save.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by the JSON file at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the state file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields an empty snapshot.
func (s *FileStore) Load(_ context.Context) (Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Snapshot{}, nil
		}
		return Snapshot{}, fmt.Errorf("%w: read %s: %w", ErrPersistence, s.path, err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("%w: decode %s: %w", ErrPersistence, s.path, err)
	}
	return snapshot, nil
}

// Save writes the snapshot and fsyncs before returning.
func (s *FileStore) Save(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if snapshot.Pending == nil {
		snapshot.Pending = []*Job{}
	}
	if snapshot.Completed == nil {
		snapshot.Completed = []*Job{}
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode snapshot: %w", ErrPersistence, err)
	}
	if err := fileutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// CheckHealth reports whether the state file exists and parses.
func (s *FileStore) CheckHealth(ctx context.Context) (Health, error) {
	health := Health{Backend: "json", Path: s.path}
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat state file: %w", err)
	}
	health.Exists = true
	snapshot, err := s.Load(ctx)
	if err != nil {
		health.Error = err.Error()
		return health, err
	}
	health.Readable = true
	health.Jobs = len(snapshot.Pending) + len(snapshot.Completed)
	if snapshot.Active != nil {
		health.Jobs++
	}
	return health, nil
}

// Close is a no-op; the file is not held open between saves.
func (s *FileStore) Close() error {
	return nil
}
