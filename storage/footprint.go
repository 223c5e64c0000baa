package storage

import (
	"sort"
)

// FootprintMode decides whether undeclared keys are learned or rejected.
type FootprintMode uint8

const (
	Recording FootprintMode = iota
	Enforcing
)

func (m FootprintMode) String() string {
	if m == Enforcing {
		return "enforcing"
	}
	return "recording"
}

type Access uint8

const (
	ReadOnly Access = iota
	ReadWrite
)

func (a Access) String() string {
	if a == ReadWrite {
		return "rw"
	}
	return "ro"
}

// Footprint is the set of ledger keys an invocation may touch.
type Footprint struct {
	entries map[string]Access
}

func NewFootprint() *Footprint {
	return &Footprint{entries: make(map[string]Access)}
}

// Declare adds a key, widening its access if already present.
func (f *Footprint) Declare(contract ContractID, key []byte, a Access) {
	k := compositeKey(contract, key)
	if cur, ok := f.entries[k]; ok && cur >= a {
		return
	}
	f.entries[k] = a
}

func (f *Footprint) Access(contract ContractID, key []byte) (Access, bool) {
	a, ok := f.entries[compositeKey(contract, key)]
	return a, ok
}

func (f *Footprint) Len() int { return len(f.entries) }

// FootprintEntry is one sorted entry for reporting.
type FootprintEntry struct {
	Contract ContractID
	Key      []byte
	Access   Access
}

func (f *Footprint) Entries() []FootprintEntry {
	keys := make([]string, 0, len(f.entries))
	for k := range f.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]FootprintEntry, 0, len(keys))
	for _, k := range keys {
		c, key := splitComposite(k)
		out = append(out, FootprintEntry{Contract: c, Key: key, Access: f.entries[k]})
	}
	return out
}
