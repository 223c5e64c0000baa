package main

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/colorfulnotion/contracthost/bridge"
	"github.com/colorfulnotion/contracthost/budget"
	"github.com/colorfulnotion/contracthost/codec"
	"github.com/colorfulnotion/contracthost/host"
	"github.com/colorfulnotion/contracthost/hosterrors"
	"github.com/colorfulnotion/contracthost/pvm"
	"github.com/colorfulnotion/contracthost/storage"
	"github.com/colorfulnotion/contracthost/wasmvm"
)

// Manifest describes one invocation: the contracts to deploy, the ledger
// context and the call to make.
//
//	contracts:
//	  - id: "01"
//	    engine: pvm
//	    code: counter.pvm
//	invoke:
//	  contract: "01"
//	  function: increment
//	  args: [{u32: 5}, {symbol: owner}]
type Manifest struct {
	Contracts []ContractSpec  `yaml:"contracts"`
	Invoke    InvokeSpec      `yaml:"invoke"`
	Ledger    LedgerSpec      `yaml:"ledger"`
	Seed      string          `yaml:"seed"`
	MaxDepth  int             `yaml:"max_depth"`
	Limits    *budget.Limits  `yaml:"limits"`
	Footprint []FootprintSpec `yaml:"footprint"`

	dir string
}

type ContractSpec struct {
	ID     string `yaml:"id"`
	Engine string `yaml:"engine"`
	Code   string `yaml:"code"`
}

type InvokeSpec struct {
	Contract string  `yaml:"contract"`
	Function string  `yaml:"function"`
	Args     []Value `yaml:"args"`
}

type LedgerSpec struct {
	host.LedgerInfo `yaml:",inline"`
	NetworkID       string `yaml:"network_id"`
}

// FootprintSpec declares one ledger key. A manifest with a footprint runs
// in enforcing mode.
type FootprintSpec struct {
	Contract   string `yaml:"contract"`
	Key        Value  `yaml:"key"`
	Durability string `yaml:"durability"`
	Access     string `yaml:"access"`
}

func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return m, nil
}

func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m.Contracts) == 0 {
		return nil, fmt.Errorf("manifest declares no contracts")
	}
	if m.Invoke.Function == "" {
		return nil, fmt.Errorf("manifest has no invoke.function")
	}
	return &m, nil
}

// parseID accepts up to 32 bytes of hex, right-aligned, so short ids like
// "01" stay readable.
func parseID(s string) (storage.ContractID, error) {
	var id storage.ContractID
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return id, fmt.Errorf("contract id %q: %w", s, err)
	}
	if len(b) > len(id) {
		return id, fmt.Errorf("contract id %q longer than 32 bytes", s)
	}
	copy(id[len(id)-len(b):], b)
	return id, nil
}

func parseHex32(s, what string) ([32]byte, error) {
	var out [32]byte
	if s == "" {
		return out, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 32 {
		return out, fmt.Errorf("%s must be 32 bytes of hex", what)
	}
	copy(out[:], b)
	return out, nil
}

// Config applies the manifest's ledger context, seed and limits on top of
// base.
func (m *Manifest) Config(base host.Config) (host.Config, error) {
	cfg := base
	cfg.Ledger = m.Ledger.LedgerInfo
	nid, err := parseHex32(m.Ledger.NetworkID, "ledger.network_id")
	if err != nil {
		return cfg, err
	}
	cfg.Ledger.NetworkID = nid
	if cfg.Seed, err = parseHex32(m.Seed, "seed"); err != nil {
		return cfg, err
	}
	if m.MaxDepth > 0 {
		cfg.MaxDepth = m.MaxDepth
	}
	if m.Limits != nil {
		cfg.Limits = *m.Limits
	}
	if len(m.Footprint) > 0 {
		cfg.FootprintMode = storage.Enforcing
	}
	return cfg, nil
}

func engineFor(name string) (bridge.Engine, error) {
	switch name {
	case "", "pvm":
		return pvm.NewEngine(), nil
	case "wasm":
		return wasmvm.NewEngine(), nil
	}
	return nil, fmt.Errorf("unknown engine %q", name)
}

// ContractOptions loads every contract's code.
func (m *Manifest) ContractOptions() ([]host.Option, error) {
	opts := make([]host.Option, 0, len(m.Contracts))
	for _, c := range m.Contracts {
		id, err := parseID(c.ID)
		if err != nil {
			return nil, err
		}
		eng, err := engineFor(c.Engine)
		if err != nil {
			return nil, err
		}
		path := c.Code
		if !filepath.IsAbs(path) {
			path = filepath.Join(m.dir, path)
		}
		code, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		opts = append(opts, host.WithContract(id, &host.BytecodeContract{Engine: eng, Code: code}))
	}
	return opts, nil
}

var durabilities = map[string]storage.Durability{
	"":           storage.Persistent,
	"persistent": storage.Persistent,
	"temporary":  storage.Temporary,
	"instance":   storage.Instance,
}

func (m *Manifest) footprint() (*storage.Footprint, error) {
	if len(m.Footprint) == 0 {
		return nil, nil
	}
	fp := storage.NewFootprint()
	for _, e := range m.Footprint {
		id, err := parseID(e.Contract)
		if err != nil {
			return nil, err
		}
		d, ok := durabilities[e.Durability]
		if !ok {
			return nil, fmt.Errorf("footprint durability %q", e.Durability)
		}
		key, err := host.LedgerKey(d, e.Key.Value)
		if err != nil {
			return nil, err
		}
		access := storage.ReadOnly
		switch e.Access {
		case "", "read":
		case "write":
			access = storage.ReadWrite
		default:
			return nil, fmt.Errorf("footprint access %q", e.Access)
		}
		fp.Declare(id, key, access)
	}
	return fp, nil
}

func (m *Manifest) Invocation() (host.Invocation, error) {
	id, err := parseID(m.Invoke.Contract)
	if err != nil {
		return host.Invocation{}, err
	}
	fp, err := m.footprint()
	if err != nil {
		return host.Invocation{}, err
	}
	args := make([]codec.Value, len(m.Invoke.Args))
	for i, a := range m.Invoke.Args {
		args[i] = a.Value
	}
	return host.Invocation{Contract: id, Function: m.Invoke.Function, Args: args, Footprint: fp}, nil
}

// Value is a codec.Value written in YAML. Plain scalars map to bool,
// void, u32/i64 and string; everything else is a single-key mapping
// naming the type, e.g. {u256: "0xff"} or {map: [{key: .., val: ..}]}.
type Value struct {
	codec.Value
}

func (v *Value) UnmarshalYAML(n *yaml.Node) error {
	x, err := parseValue(n, 0)
	if err != nil {
		return err
	}
	if err := x.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	v.Value = x
	return nil
}

func nodeErr(n *yaml.Node, format string, args ...any) error {
	return fmt.Errorf("line %d: %s", n.Line, fmt.Sprintf(format, args...))
}

func parseValue(n *yaml.Node, depth int) (codec.Value, error) {
	if depth > codec.MaxDepth {
		return codec.Value{}, nodeErr(n, "value nested deeper than %d", codec.MaxDepth)
	}
	switch n.Kind {
	case yaml.ScalarNode:
		return parseScalar(n)
	case yaml.SequenceNode:
		return parseVec(n, depth)
	case yaml.MappingNode:
		if len(n.Content) != 2 {
			return codec.Value{}, nodeErr(n, "typed value must have exactly one key")
		}
		name, body := n.Content[0].Value, n.Content[1]
		ty, ok := codec.ParseType(name)
		if !ok {
			return codec.Value{}, nodeErr(n, "unknown type %q", name)
		}
		return parseTyped(ty, body, depth)
	case yaml.AliasNode:
		return parseValue(n.Alias, depth)
	}
	return codec.Value{}, nodeErr(n, "unsupported yaml node")
}

func parseScalar(n *yaml.Node) (codec.Value, error) {
	switch n.Tag {
	case "!!null":
		return codec.Void(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return codec.Value{}, err
		}
		return codec.Bool(b), nil
	case "!!int":
		x, err := strconv.ParseInt(n.Value, 0, 64)
		if err != nil {
			return codec.Value{}, nodeErr(n, "%v", err)
		}
		if x >= 0 && x <= 0xffffffff {
			return codec.U32(uint32(x)), nil
		}
		return codec.I64(x), nil
	}
	return codec.String(n.Value), nil
}

func parseVec(n *yaml.Node, depth int) (codec.Value, error) {
	if n.Kind != yaml.SequenceNode {
		return codec.Value{}, nodeErr(n, "expected a sequence")
	}
	items := make([]codec.Value, len(n.Content))
	for i, c := range n.Content {
		x, err := parseValue(c, depth+1)
		if err != nil {
			return codec.Value{}, err
		}
		items[i] = x
	}
	return codec.Vec(items...), nil
}

func parseBig(n *yaml.Node) (*big.Int, error) {
	x, ok := new(big.Int).SetString(n.Value, 0)
	if !ok {
		return nil, nodeErr(n, "%q is not an integer", n.Value)
	}
	return x, nil
}

// twos returns x modulo 2^bits, rejecting values outside the signed or
// unsigned range of that width.
func twos(n *yaml.Node, x *big.Int, bits uint, signed bool) (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), bits)
	lo, hi := new(big.Int), limit
	if signed {
		half := new(big.Int).Rsh(limit, 1)
		lo, hi = new(big.Int).Neg(half), half
	}
	if x.Cmp(lo) < 0 || x.Cmp(hi) >= 0 {
		return nil, nodeErr(n, "%s out of range for %d bits", x, bits)
	}
	if x.Sign() < 0 {
		x = new(big.Int).Add(x, limit)
	}
	return x, nil
}

func parseTyped(ty codec.Type, n *yaml.Node, depth int) (codec.Value, error) {
	switch ty {
	case codec.TypeVoid:
		return codec.Void(), nil
	case codec.TypeBool:
		var b bool
		err := n.Decode(&b)
		return codec.Bool(b), err
	case codec.TypeU32, codec.TypeU64, codec.TypeTimepoint, codec.TypeDuration:
		bits := 64
		if ty == codec.TypeU32 {
			bits = 32
		}
		x, err := strconv.ParseUint(n.Value, 0, bits)
		if err != nil {
			return codec.Value{}, nodeErr(n, "%v", err)
		}
		return codec.Value{Type: ty, U: x}, nil
	case codec.TypeI32, codec.TypeI64:
		bits := 64
		if ty == codec.TypeI32 {
			bits = 32
		}
		x, err := strconv.ParseInt(n.Value, 0, bits)
		if err != nil {
			return codec.Value{}, nodeErr(n, "%v", err)
		}
		return codec.Value{Type: ty, I: x}, nil
	case codec.TypeU128, codec.TypeI128:
		x, err := parseBig(n)
		if err != nil {
			return codec.Value{}, err
		}
		if x, err = twos(n, x, 128, ty == codec.TypeI128); err != nil {
			return codec.Value{}, err
		}
		lo := new(big.Int).And(x, new(big.Int).SetUint64(^uint64(0))).Uint64()
		hi := new(big.Int).Rsh(x, 64).Uint64()
		if ty == codec.TypeI128 {
			return codec.I128(int64(hi), lo), nil
		}
		return codec.U128(hi, lo), nil
	case codec.TypeU256, codec.TypeI256:
		x, err := parseBig(n)
		if err != nil {
			return codec.Value{}, err
		}
		if x, err = twos(n, x, 256, ty == codec.TypeI256); err != nil {
			return codec.Value{}, err
		}
		var be [32]byte
		x.FillBytes(be[:])
		if ty == codec.TypeI256 {
			return codec.I256(be), nil
		}
		return codec.U256(be), nil
	case codec.TypeBigInt:
		x, err := parseBig(n)
		if err != nil {
			return codec.Value{}, err
		}
		return codec.BigInt(x), nil
	case codec.TypeBytes:
		b, err := hex.DecodeString(strings.TrimPrefix(n.Value, "0x"))
		if err != nil {
			return codec.Value{}, nodeErr(n, "bytes: %v", err)
		}
		return codec.Bytes(b), nil
	case codec.TypeString:
		return codec.String(n.Value), nil
	case codec.TypeSymbol:
		return codec.Symbol(n.Value), nil
	case codec.TypeAddress:
		id, err := parseID(n.Value)
		if err != nil {
			return codec.Value{}, nodeErr(n, "%v", err)
		}
		return codec.Address(id), nil
	case codec.TypeVec:
		return parseVec(n, depth)
	case codec.TypeMap:
		if n.Kind != yaml.SequenceNode {
			return codec.Value{}, nodeErr(n, "map must be a sequence of {key, val}")
		}
		entries := make([]codec.MapEntry, 0, len(n.Content))
		for _, c := range n.Content {
			var raw struct {
				Key yaml.Node `yaml:"key"`
				Val yaml.Node `yaml:"val"`
			}
			if err := c.Decode(&raw); err != nil {
				return codec.Value{}, err
			}
			k, err := parseValue(&raw.Key, depth+1)
			if err != nil {
				return codec.Value{}, err
			}
			v, err := parseValue(&raw.Val, depth+1)
			if err != nil {
				return codec.Value{}, err
			}
			entries = append(entries, codec.MapEntry{Key: k, Val: v})
		}
		return codec.Map(entries...), nil
	case codec.TypeRecord:
		if n.Kind != yaml.MappingNode {
			return codec.Value{}, nodeErr(n, "record must be a mapping")
		}
		fields := make([]string, 0, len(n.Content)/2)
		byName := make(map[string]codec.Value, len(n.Content)/2)
		for i := 0; i < len(n.Content); i += 2 {
			name := n.Content[i].Value
			v, err := parseValue(n.Content[i+1], depth+1)
			if err != nil {
				return codec.Value{}, err
			}
			fields = append(fields, name)
			byName[name] = v
		}
		slices.Sort(fields)
		values := make([]codec.Value, len(fields))
		for i, f := range fields {
			values[i] = byName[f]
		}
		return codec.Record(fields, values), nil
	case codec.TypeError:
		var raw struct {
			Kind uint32 `yaml:"kind"`
			Code uint32 `yaml:"code"`
		}
		if err := n.Decode(&raw); err != nil {
			return codec.Value{}, err
		}
		return codec.Status(hosterrors.Kind(raw.Kind), hosterrors.Code(raw.Code)), nil
	}
	return codec.Value{}, nodeErr(n, "unsupported type %s", ty)
}
