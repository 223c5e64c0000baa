package host

import (
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/storage"
)

const DefaultMaxDepth = 64

// LedgerInfo is the ledger context visible to contracts through the ctx
// module.
type LedgerInfo struct {
	ProtocolVersion uint32   `yaml:"protocol_version"`
	Sequence        uint32   `yaml:"sequence"`
	Timestamp       uint64   `yaml:"timestamp"`
	NetworkID       [32]byte `yaml:"-"`
}

// Config is fixed for the lifetime of a Host. Every invocation starts
// from the same limits, cost model and seed.
type Config struct {
	Limits     budget.Limits
	CostParams budget.CostParams
	MaxDepth   int
	Ledger     LedgerInfo
	// Seed is the base PRNG seed. Each frame draws from a sub-seed
	// derived from it.
	Seed          [32]byte
	FootprintMode storage.FootprintMode
}

func DefaultConfig() Config {
	return Config{
		Limits:        budget.DefaultLimits(),
		CostParams:    budget.DefaultCostParams(),
		MaxDepth:      DefaultMaxDepth,
		FootprintMode: storage.Recording,
	}
}
