package statestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	defaultWALDir       = "./wal/state"
	walSegmentThreshold = 1000
	walMaxSegments      = 100
	snapshotKey         = "tracker_snapshot"
)

// WALStore appends every snapshot to a write-ahead log; the latest record wins on load.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.Mutex
}

// NewWALStore initializes a WAL-backed store under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultWALDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "state_",
		SegmentThreshold: walSegmentThreshold,
		MaxSegments:      walMaxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init state WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Load replays the log and returns the most recent snapshot.
func (s *WALStore) Load(_ context.Context) (*domain.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest []byte
	for msg := range s.wal.Iterator() {
		if msg.Key == snapshotKey {
			latest = msg.Value
		}
	}
	if latest == nil {
		return nil, nil
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(latest, &snapshot); err != nil {
		return nil, errors.Wrapf(domain.ErrStore, "decode WAL snapshot: %v", err)
	}

	return &snapshot, nil
}

// Save appends the snapshot to the log.
func (s *WALStore) Save(_ context.Context, snapshot domain.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrapf(domain.ErrStore, "encode snapshot: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.wal.Write(s.wal.CurrentIndex()+1, snapshotKey, payload); err != nil {
		return errors.Wrapf(domain.ErrStore, "append snapshot: %v", err)
	}

	return nil
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
