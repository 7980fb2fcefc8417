package statestore

import (
	"context"
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/dipbuyer/internal/domain"
)

const defaultBadgerDir = "./data/badger"

var badgerSnapshotKey = []byte("dipbuyer/snapshot")

// BadgerStore keeps the snapshot under a single Badger key.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database at dir.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	if dir == "" {
		dir = defaultBadgerDir
	}

	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, errors.Wrap(err, "open badger state store")
	}

	return &BadgerStore{db: db}, nil
}

// Load reads the stored snapshot.
func (s *BadgerStore) Load(_ context.Context) (*domain.Snapshot, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerSnapshotKey)
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}

		return nil, errors.Wrapf(domain.ErrStore, "read snapshot: %v", err)
	}

	var snapshot domain.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, errors.Wrapf(domain.ErrStore, "decode snapshot: %v", err)
	}

	return &snapshot, nil
}

// Save replaces the stored snapshot.
func (s *BadgerStore) Save(_ context.Context, snapshot domain.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return errors.Wrapf(domain.ErrStore, "encode snapshot: %v", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerSnapshotKey, payload)
	})
	if err != nil {
		return errors.Wrapf(domain.ErrStore, "write snapshot: %v", err)
	}

	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
