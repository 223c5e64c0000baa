package storage

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// ContractID identifies a deployed contract.
type ContractID [32]byte

func (c ContractID) String() string { return hex.EncodeToString(c[:]) }

func ContractIDFromHex(s string) (ContractID, error) {
	var c ContractID
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("contract id %q: %w", s, err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("contract id %q: want 32 bytes, got %d", s, len(b))
	}
	copy(c[:], b)
	return c, nil
}

// Durability selects the storage class a contract data entry lives in.
type Durability uint8

const (
	Persistent Durability = iota
	Temporary
	Instance
)

func (d Durability) String() string {
	switch d {
	case Persistent:
		return "persistent"
	case Temporary:
		return "temporary"
	case Instance:
		return "instance"
	}
	return fmt.Sprintf("durability(%d)", uint8(d))
}

func (d Durability) Valid() bool { return d <= Instance }

// SnapshotSource is the read-only ledger state an invocation starts from.
type SnapshotSource interface {
	Get(contract ContractID, key []byte) ([]byte, bool, error)
}

// Ledger is what the host reads and writes during an invocation.
type Ledger interface {
	Get(contract ContractID, key []byte) ([]byte, bool, error)
	Has(contract ContractID, key []byte) (bool, error)
	Put(contract ContractID, key, value []byte) error
	Delete(contract ContractID, key []byte) error
}

// Write is one entry of a committed write set. Deleted entries carry no value.
type Write struct {
	Contract ContractID
	Key      []byte
	Value    []byte
	Deleted  bool
}

// WriteSet is sorted by (contract, key).
type WriteSet []Write

func compositeKey(contract ContractID, key []byte) string {
	return string(contract[:]) + string(key)
}

func splitComposite(k string) (ContractID, []byte) {
	var c ContractID
	copy(c[:], k[:len(c)])
	return c, []byte(k[len(c):])
}

// Applier commits a write set to durable storage.
type Applier interface {
	Apply(ws WriteSet) error
}

// MemorySnapshot is an in-memory ledger, used by tests and tooling.
type MemorySnapshot struct {
	entries map[string][]byte
}

func NewMemorySnapshot() *MemorySnapshot {
	return &MemorySnapshot{entries: make(map[string][]byte)}
}

func (m *MemorySnapshot) Set(contract ContractID, key, value []byte) {
	m.entries[compositeKey(contract, key)] = bytes.Clone(value)
}

func (m *MemorySnapshot) Get(contract ContractID, key []byte) ([]byte, bool, error) {
	v, ok := m.entries[compositeKey(contract, key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

func (m *MemorySnapshot) Len() int { return len(m.entries) }

func (m *MemorySnapshot) Apply(ws WriteSet) error {
	for _, w := range ws {
		k := compositeKey(w.Contract, w.Key)
		if w.Deleted {
			delete(m.entries, k)
			continue
		}
		m.entries[k] = bytes.Clone(w.Value)
	}
	return nil
}
