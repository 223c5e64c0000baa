package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/colorfulnotion/contracthost/log"
)

// PersistenceStore keeps contract data in LevelDB under contract||key.
// Invocations read it through a LevelDB snapshot and the host applies a
// write set in one batch afterwards.
type PersistenceStore struct {
	db *leveldb.DB
}

// NewPersistenceStore opens or creates a LevelDB database at the given path.
// If path is empty, uses in-memory storage.
func NewPersistenceStore(path string) (*PersistenceStore, error) {
	var db *leveldb.DB
	var err error

	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", path, err)
	}
	return &PersistenceStore{db: db}, nil
}

// NewMemoryPersistenceStore creates an in-memory PersistenceStore for testing.
func NewMemoryPersistenceStore() (*PersistenceStore, error) {
	return NewPersistenceStore("")
}

func rawKey(contract ContractID, key []byte) []byte {
	out := make([]byte, 0, len(contract)+len(key))
	out = append(out, contract[:]...)
	return append(out, key...)
}

// Get retrieves a value. Returns (nil, false, nil) if not found.
func (ps *PersistenceStore) Get(contract ContractID, key []byte) ([]byte, bool, error) {
	data, err := ps.db.Get(rawKey(contract, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get %s/%x: %w", contract, key, err)
	}
	return data, true, nil
}

func (ps *PersistenceStore) Put(contract ContractID, key, value []byte) error {
	return ps.db.Put(rawKey(contract, key), value, nil)
}

// Apply commits ws atomically.
func (ps *PersistenceStore) Apply(ws WriteSet) error {
	batch := new(leveldb.Batch)
	for _, w := range ws {
		if w.Deleted {
			batch.Delete(rawKey(w.Contract, w.Key))
		} else {
			batch.Put(rawKey(w.Contract, w.Key), w.Value)
		}
	}
	if err := ps.db.Write(batch, nil); err != nil {
		return fmt.Errorf("apply write set: %w", err)
	}
	log.Debug(log.StorageMonitoring, "applied write set", "entries", len(ws))
	return nil
}

// ContractData returns all key/value pairs of one contract in key order.
func (ps *PersistenceStore) ContractData(contract ContractID) ([][2][]byte, error) {
	iter := ps.db.NewIterator(util.BytesPrefix(contract[:]), nil)
	defer iter.Release()

	var results [][2][]byte
	for iter.Next() {
		// Copy key and value to avoid iterator reuse issues
		key := append([]byte(nil), iter.Key()[len(contract):]...)
		value := append([]byte(nil), iter.Value()...)
		results = append(results, [2][]byte{key, value})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("ContractData %s: %w", contract, err)
	}
	return results, nil
}

// Snapshot pins the current state for one invocation. Release it when done.
func (ps *PersistenceStore) Snapshot() (*LevelDBSnapshot, error) {
	snap, err := ps.db.GetSnapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return &LevelDBSnapshot{snap: snap}, nil
}

func (ps *PersistenceStore) Close() error {
	return ps.db.Close()
}

// LevelDBSnapshot is a SnapshotSource backed by a LevelDB snapshot, so
// concurrent commits never leak into a running invocation.
type LevelDBSnapshot struct {
	snap *leveldb.Snapshot
}

func (s *LevelDBSnapshot) Get(contract ContractID, key []byte) ([]byte, bool, error) {
	data, err := s.snap.Get(rawKey(contract, key), nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot Get %s/%x: %w", contract, key, err)
	}
	return data, true, nil
}

func (s *LevelDBSnapshot) Release() {
	s.snap.Release()
}
