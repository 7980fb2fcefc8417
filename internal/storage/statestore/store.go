// Package statestore persists tracker snapshots between restarts.
package statestore

import (
	"context"
	"fmt"

	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

const (
	BackendFile   = "file"
	BackendWAL    = "wal"
	BackendBadger = "badger"
)

// Store loads and saves the latest snapshot. Load returns nil when nothing was saved yet.
type Store interface {
	Load(ctx context.Context) (*domain.Snapshot, error)
	Save(ctx context.Context, snapshot domain.Snapshot) error
	Close() error
}

// Open creates the store for the configured backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", BackendFile:
		return NewFileStore(path)
	case BackendWAL:
		return NewWALStore(path)
	case BackendBadger:
		return NewBadgerStore(path)
	default:
		return nil, fmt.Errorf("unknown state store backend %q", backend)
	}
}
