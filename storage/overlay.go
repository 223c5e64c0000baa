package storage

import (
	"bytes"
	"sort"

	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/log"
)

type entry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    entry
	hadPrev bool
}

// Storage buffers an invocation's ledger effects over a snapshot. Nothing
// reaches the snapshot; the caller takes WriteSet after a successful
// top-level completion. A journal lets a failed frame roll back exactly
// the writes it made.
type Storage struct {
	snapshot  SnapshotSource
	mode      FootprintMode
	footprint *Footprint
	overlay   map[string]entry
	journal   []journalEntry
}

// New wraps snapshot. A nil footprint starts empty.
func New(snapshot SnapshotSource, mode FootprintMode, footprint *Footprint) *Storage {
	if footprint == nil {
		footprint = NewFootprint()
	}
	return &Storage{
		snapshot:  snapshot,
		mode:      mode,
		footprint: footprint,
		overlay:   make(map[string]entry),
	}
}

func (s *Storage) Footprint() *Footprint { return s.footprint }
func (s *Storage) Mode() FootprintMode   { return s.mode }

func (s *Storage) check(contract ContractID, key []byte, want Access) error {
	have, ok := s.footprint.Access(contract, key)
	if s.mode == Recording {
		s.footprint.Declare(contract, key, want)
		return nil
	}
	if !ok {
		return hosterrors.Storage(hosterrors.CodeAccessDenied, "key %x of %s outside footprint", key, contract)
	}
	if want == ReadWrite && have != ReadWrite {
		return hosterrors.Storage(hosterrors.CodeAccessDenied, "key %x of %s is read-only", key, contract)
	}
	return nil
}

func (s *Storage) Get(contract ContractID, key []byte) ([]byte, bool, error) {
	if err := s.check(contract, key, ReadOnly); err != nil {
		return nil, false, err
	}
	if e, ok := s.overlay[compositeKey(contract, key)]; ok {
		if e.deleted {
			return nil, false, nil
		}
		return bytes.Clone(e.value), true, nil
	}
	v, ok, err := s.snapshot.Get(contract, key)
	if err != nil {
		log.Warn(log.StorageMonitoring, "snapshot read failed", "contract", contract, "key", key, "err", err)
		return nil, false, hosterrors.Storage(hosterrors.CodeInternalError, "snapshot read: %v", err)
	}
	return v, ok, nil
}

func (s *Storage) Has(contract ContractID, key []byte) (bool, error) {
	_, ok, err := s.Get(contract, key)
	return ok, err
}

func (s *Storage) Put(contract ContractID, key, value []byte) error {
	if err := s.check(contract, key, ReadWrite); err != nil {
		return err
	}
	s.set(compositeKey(contract, key), entry{value: bytes.Clone(value)})
	return nil
}

func (s *Storage) Delete(contract ContractID, key []byte) error {
	if err := s.check(contract, key, ReadWrite); err != nil {
		return err
	}
	s.set(compositeKey(contract, key), entry{deleted: true})
	return nil
}

func (s *Storage) set(k string, e entry) {
	prev, had := s.overlay[k]
	s.journal = append(s.journal, journalEntry{key: k, prev: prev, hadPrev: had})
	s.overlay[k] = e
}

// Checkpoint marks the current journal position.
func (s *Storage) Checkpoint() int { return len(s.journal) }

// Rollback undoes every write made after mark.
func (s *Storage) Rollback(mark int) {
	for i := len(s.journal) - 1; i >= mark; i-- {
		j := s.journal[i]
		if j.hadPrev {
			s.overlay[j.key] = j.prev
		} else {
			delete(s.overlay, j.key)
		}
	}
	if mark < len(s.journal) {
		log.Debug(log.StorageMonitoring, "rolled back writes", "count", len(s.journal)-mark)
		s.journal = s.journal[:mark]
	}
}

// WriteSet lists the buffered effects in (contract, key) order.
func (s *Storage) WriteSet() WriteSet {
	keys := make([]string, 0, len(s.overlay))
	for k := range s.overlay {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ws := make(WriteSet, 0, len(keys))
	for _, k := range keys {
		e := s.overlay[k]
		c, key := splitComposite(k)
		ws = append(ws, Write{Contract: c, Key: key, Value: bytes.Clone(e.value), Deleted: e.deleted})
	}
	return ws
}
