package statestore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

const defaultStateFile = "./data/bot-state.json"

// FileStore keeps the snapshot in a single JSON document.
type FileStore struct {
	path string
}

// NewFileStore creates a JSON file store, creating the parent directory if needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		path = defaultStateFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}

	return &FileStore{path: path}, nil
}

// Load reads the snapshot from disk.
func (s *FileStore) Load(_ context.Context) (*domain.Snapshot, error) {
	payload, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, errors.Wrapf(domain.ErrStore, "read state: %v", err)
	}

	if len(payload) == 0 {
		return nil, nil
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, errors.Wrapf(domain.ErrStore, "decode state: %v", err)
	}

	return &snapshot, nil
}

// Save writes the snapshot atomically via temp file.
func (s *FileStore) Save(_ context.Context, snapshot domain.Snapshot) error {
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return errors.Wrapf(domain.ErrStore, "encode state: %v", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrapf(domain.ErrStore, "write state temp file: %v", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Wrapf(domain.ErrStore, "persist state: %v", err)
	}

	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }
